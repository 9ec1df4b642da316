package dex

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

var (
	processPlaceOrderDisc = anchorInstructionDiscriminator("process_place_order")
	positionManagerDisc   = anchorInstructionDiscriminator("position_manager")
	liquidateDisc         = anchorInstructionDiscriminator("liquidate")
)

// Instruction accounts are matched by position on chain, so every builder
// lists them in the order of the program's account struct.

// NewProcessPlaceOrderInstruction matches queued requests into market's book.
func NewProcessPlaceOrderInstruction(programID, authority solana.PublicKey, market MarketAccounts, queues Queues) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(market.Bids, true, false),
		solana.NewAccountMeta(market.Asks, true, false),
		solana.NewAccountMeta(market.Market, true, false),
		solana.NewAccountMeta(queues.RequestQueue, true, false),
		solana.NewAccountMeta(queues.EventQueue, true, false),
	}
	accounts = append(accounts, programAccounts()...)
	return solana.NewInstruction(programID, accounts, processPlaceOrderDisc[:])
}

// NewPositionManagerInstruction consumes the event at the queue head for user
// in the given market.
func NewPositionManagerInstruction(programID solana.PublicKey, market MarketAccounts, queues Queues, user solana.PublicKey) (solana.Instruction, error) {
	position, _, err := DerivePositionPDA(programID, market.Symbol, user)
	if err != nil {
		return nil, err
	}
	collateral, _, err := DeriveUserCollateralPDA(programID, user)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, len(positionManagerDisc)+solana.PublicKeyLength)
	data = append(data, positionManagerDisc[:]...)
	data = append(data, user.Bytes()...)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(market.Market, true, false),
		solana.NewAccountMeta(position, true, false),
		solana.NewAccountMeta(queues.EventQueue, true, false),
		solana.NewAccountMeta(collateral, true, false),
	}
	accounts = append(accounts, programAccounts()...)
	return solana.NewInstruction(programID, accounts, data), nil
}

// LiquidationAccounts are the accounts liquidate needs beyond the market.
type LiquidationAccounts struct {
	Liquidator             solana.PublicKey
	LiquidatorTokenAccount solana.PublicKey
	Position               solana.PublicKey
	LiquidateeTokenAccount solana.PublicKey
	USDCMint               solana.PublicKey
	InsuranceFund          solana.PublicKey
	VaultQuote             solana.PublicKey
}

func NewLiquidateInstruction(programID solana.PublicKey, market MarketAccounts, queues Queues, a LiquidationAccounts) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(a.Liquidator, true, true),
		solana.NewAccountMeta(a.LiquidatorTokenAccount, true, false),
		solana.NewAccountMeta(market.Market, true, false),
		solana.NewAccountMeta(market.Bids, true, false),
		solana.NewAccountMeta(market.Asks, true, false),
		solana.NewAccountMeta(queues.EventQueue, true, false),
		solana.NewAccountMeta(a.Position, true, false),
		solana.NewAccountMeta(a.LiquidateeTokenAccount, true, false),
		solana.NewAccountMeta(queues.GlobalConfig, true, false),
		solana.NewAccountMeta(a.USDCMint, false, false),
		solana.NewAccountMeta(a.InsuranceFund, true, false),
		solana.NewAccountMeta(a.VaultQuote, true, false),
	}
	accounts = append(accounts, programAccounts()...)
	return solana.NewInstruction(programID, accounts, liquidateDisc[:])
}

func programAccounts() solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
}

func anchorInstructionDiscriminator(ixName string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + ixName))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}
