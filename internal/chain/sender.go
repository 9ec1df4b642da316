package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
)

const confirmPollInterval = 700 * time.Millisecond

// SendRPC is the subset of *rpc.Client the sender uses.
type SendRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	SendRawTransactionWithOpts(ctx context.Context, txData []byte, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Sender signs and submits transactions with a single fee payer key.
type Sender struct {
	rpc        SendRPC
	signer     solana.PrivateKey
	commitment rpc.CommitmentType
	cfg        config.TxConfig
}

// LoadSender reads the fee payer keypair from txCfg.KeypairPath.
func LoadSender(chainCfg config.ChainConfig, txCfg config.TxConfig) (*Sender, error) {
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(txCfg.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", txCfg.KeypairPath, err)
	}
	return NewSender(rpc.New(chainCfg.RPCURL), signer, chainCfg.Commitment, txCfg), nil
}

func NewSender(client SendRPC, signer solana.PrivateKey, commitment rpc.CommitmentType, cfg config.TxConfig) *Sender {
	return &Sender{rpc: client, signer: signer, commitment: commitment, cfg: cfg}
}

func (s *Sender) PublicKey() solana.PublicKey { return s.signer.PublicKey() }

// Send prepends the configured compute budget instructions, signs with the
// fee payer and submits. When a confirm timeout is configured it also waits
// for the signature to reach confirmed commitment.
func (s *Sender) Send(ctx context.Context, instructions ...solana.Instruction) (solana.Signature, error) {
	all, err := s.withComputeBudget(instructions)
	if err != nil {
		return solana.Signature{}, err
	}

	recent, err := s.rpc.GetLatestBlockhash(ctx, s.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(all, recent.Value.Blockhash, solana.TransactionPayer(s.signer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if s.signer.PublicKey().Equals(key) {
			return &s.signer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, s.sendOpts())
	if err != nil {
		return solana.Signature{}, err
	}
	if s.cfg.ConfirmTimeout > 0 {
		confirmCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
		defer cancel()
		if err := WaitForConfirmation(confirmCtx, s.rpc, sig); err != nil {
			return sig, fmt.Errorf("confirm %s: %w", sig, err)
		}
	}
	return sig, nil
}

func (s *Sender) sendOpts() rpc.TransactionOpts {
	opts := rpc.TransactionOpts{
		SkipPreflight:       s.cfg.SkipPreflight,
		PreflightCommitment: s.commitment,
	}
	if s.cfg.MaxRetries != nil {
		retries := *s.cfg.MaxRetries
		opts.MaxRetries = &retries
	}
	return opts
}

func (s *Sender) withComputeBudget(instructions []solana.Instruction) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(instructions)+2)
	if s.cfg.ComputeUnitLimit > 0 {
		ix, err := computebudget.NewSetComputeUnitLimitInstruction(s.cfg.ComputeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		out = append(out, ix)
	}
	if s.cfg.ComputeUnitPriceMicroLamports > 0 {
		ix, err := computebudget.NewSetComputeUnitPriceInstruction(s.cfg.ComputeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		out = append(out, ix)
	}
	return append(out, instructions...), nil
}

// Relay forwards an already signed transaction as-is.
type Relay struct {
	rpc        SendRPC
	commitment rpc.CommitmentType
}

func NewRelay(chainCfg config.ChainConfig) *Relay {
	return NewRelayWithRPC(rpc.New(chainCfg.RPCURL), chainCfg.Commitment)
}

func NewRelayWithRPC(client SendRPC, commitment rpc.CommitmentType) *Relay {
	return &Relay{rpc: client, commitment: commitment}
}

func (r *Relay) SendRaw(ctx context.Context, raw []byte) (solana.Signature, error) {
	return r.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{PreflightCommitment: r.commitment})
}

// WaitForConfirmation polls the signature status until it is confirmed,
// fails on chain or the context ends.
func WaitForConfirmation(ctx context.Context, client SendRPC, sig solana.Signature) error {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result, err := client.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}
			status := result.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}
