// Package dex derives perp program addresses and builds its instructions.
package dex

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	seedRequestQueue   = []byte("request_queue")
	seedEventQueue     = []byte("event_queue")
	seedGlobalConfig   = []byte("global_config")
	seedMarket         = []byte("market")
	seedBids           = []byte("bids")
	seedAsks           = []byte("asks")
	seedPosition       = []byte("position")
	seedUserCollateral = []byte("user_colletral")
)

func DeriveRequestQueuePDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedRequestQueue}, programID)
}

func DeriveEventQueuePDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedEventQueue}, programID)
}

func DeriveGlobalConfigPDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedGlobalConfig}, programID)
}

func DeriveMarketPDA(programID solana.PublicKey, symbol string) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedMarket, []byte(symbol)}, programID)
}

func DeriveBidsPDA(programID solana.PublicKey, symbol string) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedBids, []byte(symbol)}, programID)
}

func DeriveAsksPDA(programID solana.PublicKey, symbol string) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedAsks, []byte(symbol)}, programID)
}

func DerivePositionPDA(programID solana.PublicKey, symbol string, user solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedPosition, []byte(symbol), user.Bytes()}, programID)
}

func DeriveUserCollateralPDA(programID solana.PublicKey, user solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{seedUserCollateral, user.Bytes()}, programID)
}

// Queues holds the program-wide singleton accounts.
type Queues struct {
	RequestQueue solana.PublicKey
	EventQueue   solana.PublicKey
	GlobalConfig solana.PublicKey
}

func DeriveQueues(programID solana.PublicKey) (Queues, error) {
	var out Queues
	var err error
	if out.RequestQueue, _, err = DeriveRequestQueuePDA(programID); err != nil {
		return Queues{}, fmt.Errorf("derive request queue PDA: %w", err)
	}
	if out.EventQueue, _, err = DeriveEventQueuePDA(programID); err != nil {
		return Queues{}, fmt.Errorf("derive event queue PDA: %w", err)
	}
	if out.GlobalConfig, _, err = DeriveGlobalConfigPDA(programID); err != nil {
		return Queues{}, fmt.Errorf("derive global config PDA: %w", err)
	}
	return out, nil
}

// MarketAccounts are the per-symbol accounts instructions reference.
type MarketAccounts struct {
	Symbol string
	Market solana.PublicKey
	Bids   solana.PublicKey
	Asks   solana.PublicKey
}

func DeriveMarketAccounts(programID solana.PublicKey, symbol string) (MarketAccounts, error) {
	out := MarketAccounts{Symbol: symbol}
	var err error
	if out.Market, _, err = DeriveMarketPDA(programID, symbol); err != nil {
		return MarketAccounts{}, fmt.Errorf("derive market PDA %q: %w", symbol, err)
	}
	if out.Bids, _, err = DeriveBidsPDA(programID, symbol); err != nil {
		return MarketAccounts{}, fmt.Errorf("derive bids PDA %q: %w", symbol, err)
	}
	if out.Asks, _, err = DeriveAsksPDA(programID, symbol); err != nil {
		return MarketAccounts{}, fmt.Errorf("derive asks PDA %q: %w", symbol, err)
	}
	return out, nil
}
