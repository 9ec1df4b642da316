package dex

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/gagliardetto/solana-go"
)

var testProgramID = solana.MustPublicKeyFromBase58("6FFcqM61UALXUBeXPDQw1J8MLH9r9T5cTsV3uFxQdqLK")

func TestDeriveMarketAccountsIsDeterministic(t *testing.T) {
	a, err := DeriveMarketAccounts(testProgramID, "SOL-PERP")
	if err != nil {
		t.Fatalf("DeriveMarketAccounts error: %v", err)
	}
	b, err := DeriveMarketAccounts(testProgramID, "SOL-PERP")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("derivation not deterministic: %+v vs %+v", a, b)
	}
	if a.Market == a.Bids || a.Bids == a.Asks {
		t.Fatalf("expected distinct addresses: %+v", a)
	}
	other, _ := DeriveMarketAccounts(testProgramID, "BTC-PERP")
	if other.Market == a.Market {
		t.Fatal("different symbols must derive different markets")
	}
}

func TestAnchorInstructionDiscriminator(t *testing.T) {
	sum := sha256.Sum256([]byte("global:liquidate"))
	if got := anchorInstructionDiscriminator("liquidate"); !bytes.Equal(got[:], sum[:8]) {
		t.Fatalf("discriminator=%v want %v", got, sum[:8])
	}
}

type wantMeta struct {
	name     string
	key      solana.PublicKey
	signer   bool
	writable bool
}

func checkAccounts(t *testing.T, ix solana.Instruction, want []wantMeta) {
	t.Helper()
	accounts := ix.Accounts()
	if len(accounts) != len(want) {
		t.Fatalf("accounts=%d want %d", len(accounts), len(want))
	}
	for i, w := range want {
		got := accounts[i]
		if !got.PublicKey.Equals(w.key) || got.IsSigner != w.signer || got.IsWritable != w.writable {
			t.Fatalf("account %d (%s)=%s signer=%v writable=%v, want %s signer=%v writable=%v",
				i, w.name, got.PublicKey, got.IsSigner, got.IsWritable, w.key, w.signer, w.writable)
		}
	}
}

func programMetas() []wantMeta {
	return []wantMeta{
		{name: "system_program", key: solana.SystemProgramID},
		{name: "associated_token_program", key: solana.SPLAssociatedTokenAccountProgramID},
		{name: "token_program", key: solana.TokenProgramID},
	}
}

// The expected orders mirror the ProcessOrder and Liquidation account structs
// of the perp program.
func TestProcessPlaceOrderInstructionAccounts(t *testing.T) {
	authority := solana.MustPublicKeyFromBase58("11111111111111111111111111111112")
	market, _ := DeriveMarketAccounts(testProgramID, "SOL-PERP")
	queues, err := DeriveQueues(testProgramID)
	if err != nil {
		t.Fatal(err)
	}

	ix := NewProcessPlaceOrderInstruction(testProgramID, authority, market, queues)
	checkAccounts(t, ix, append([]wantMeta{
		{name: "authority", key: authority, signer: true, writable: true},
		{name: "bids", key: market.Bids, writable: true},
		{name: "asks", key: market.Asks, writable: true},
		{name: "market", key: market.Market, writable: true},
		{name: "request_queue", key: queues.RequestQueue, writable: true},
		{name: "event_queue", key: queues.EventQueue, writable: true},
	}, programMetas()...))
	data, err := ix.Data()
	if err != nil || !bytes.Equal(data, processPlaceOrderDisc[:]) {
		t.Fatalf("data=%v err=%v", data, err)
	}
}

func TestPositionManagerInstructionCarriesUser(t *testing.T) {
	user := solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")
	market, _ := DeriveMarketAccounts(testProgramID, "SOL-PERP")
	queues, _ := DeriveQueues(testProgramID)

	ix, err := NewPositionManagerInstruction(testProgramID, market, queues, user)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := ix.Data()
	if len(data) != 40 || !bytes.Equal(data[8:], user[:]) {
		t.Fatalf("unexpected data %v", data)
	}
	position, _, _ := DerivePositionPDA(testProgramID, "SOL-PERP", user)
	collateral, _, _ := DeriveUserCollateralPDA(testProgramID, user)
	accounts := ix.Accounts()
	if !accounts[1].PublicKey.Equals(position) || !accounts[3].PublicKey.Equals(collateral) {
		t.Fatal("position or collateral account mismatch")
	}
	for _, meta := range accounts {
		if meta.IsSigner {
			t.Fatalf("position_manager must not require signers, got %s", meta.PublicKey)
		}
	}
}

func TestLiquidateInstructionOrder(t *testing.T) {
	market, _ := DeriveMarketAccounts(testProgramID, "SOL-PERP")
	queues, _ := DeriveQueues(testProgramID)
	keys := make([]solana.PublicKey, 7)
	for i := range keys {
		keys[i][0] = byte(i + 1)
	}
	ix := NewLiquidateInstruction(testProgramID, market, queues, LiquidationAccounts{
		Liquidator:             keys[0],
		LiquidatorTokenAccount: keys[1],
		Position:               keys[2],
		LiquidateeTokenAccount: keys[3],
		USDCMint:               keys[4],
		InsuranceFund:          keys[5],
		VaultQuote:             keys[6],
	})
	checkAccounts(t, ix, append([]wantMeta{
		{name: "liquidator", key: keys[0], signer: true, writable: true},
		{name: "liquidator_token_account", key: keys[1], writable: true},
		{name: "market", key: market.Market, writable: true},
		{name: "bids", key: market.Bids, writable: true},
		{name: "ask", key: market.Asks, writable: true},
		{name: "event_queue", key: queues.EventQueue, writable: true},
		{name: "liquidatee_position", key: keys[2], writable: true},
		{name: "liquidatee_token_account", key: keys[3], writable: true},
		{name: "global_config", key: queues.GlobalConfig, writable: true},
		{name: "usdc_mint", key: keys[4]},
		{name: "insurance_fund", key: keys[5], writable: true},
		{name: "vault_quote", key: keys[6], writable: true},
	}, programMetas()...))
	data, _ := ix.Data()
	if !bytes.Equal(data, liquidateDisc[:]) {
		t.Fatalf("data=%v want liquidate discriminator", data)
	}
}
