package liquidator

import (
	"context"
	"fmt"

	"github.com/coldbell/perpdex/backend/internal/codec"
	"github.com/coldbell/perpdex/backend/internal/dex"
	"github.com/gagliardetto/solana-go"
)

// Accounts are the program-wide accounts every liquidate call references.
type Accounts struct {
	VaultQuote             solana.PublicKey
	InsuranceFund          solana.PublicKey
	USDCMint               solana.PublicKey
	LiquidatorTokenAccount solana.PublicKey
}

// LoadAccounts reads the global config and the vault token account. The
// quote mint is the first field of the SPL token account.
func LoadAccounts(ctx context.Context, reader Reader, queues dex.Queues, liquidator solana.PublicKey) (Accounts, error) {
	data, err := reader.GetAccount(ctx, queues.GlobalConfig)
	if err != nil {
		return Accounts{}, fmt.Errorf("fetch global config %s: %w", queues.GlobalConfig, err)
	}
	if data == nil {
		return Accounts{}, fmt.Errorf("global config %s not found (hint: check PERP_PROGRAM_ID and that the program is initialized)", queues.GlobalConfig)
	}
	global, err := codec.DecodeGlobalConfig(data)
	if err != nil {
		return Accounts{}, fmt.Errorf("global config %s: %w", queues.GlobalConfig, err)
	}

	vault, err := reader.GetAccount(ctx, global.VaultQuote)
	if err != nil {
		return Accounts{}, fmt.Errorf("fetch vault quote %s: %w", global.VaultQuote, err)
	}
	if len(vault) < solana.PublicKeyLength {
		return Accounts{}, fmt.Errorf("vault quote account %s not found", global.VaultQuote)
	}
	mint := solana.PublicKeyFromBytes(vault[:solana.PublicKeyLength])

	ata, _, err := solana.FindAssociatedTokenAddress(liquidator, mint)
	if err != nil {
		return Accounts{}, fmt.Errorf("derive liquidator token account: %w", err)
	}

	return Accounts{
		VaultQuote:             global.VaultQuote,
		InsuranceFund:          global.InsuranceFund,
		USDCMint:               mint,
		LiquidatorTokenAccount: ata,
	}, nil
}
