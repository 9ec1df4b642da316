// Package chain wraps the Solana JSON-RPC client with the read and send
// operations the off-chain services need.
package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/ratelimit"
)

// ErrFilterRejected is returned when the node rejected a memcmp filter and
// the unfiltered fallback listing failed as well.
var ErrFilterRejected = errors.New("rpc rejected account filter")

// RPC is the subset of *rpc.Client the reader uses.
type RPC interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

// Memcmp matches Bytes at Offset of the raw account data.
type Memcmp struct {
	Offset uint64
	Bytes  []byte
}

func (m Memcmp) matches(data []byte) bool {
	end := m.Offset + uint64(len(m.Bytes))
	if end > uint64(len(data)) {
		return false
	}
	return bytes.Equal(data[m.Offset:end], m.Bytes)
}

// KeyedAccount is a program account address with its raw data.
type KeyedAccount struct {
	Address solana.PublicKey
	Data    []byte
}

type Reader struct {
	rpc        RPC
	programID  solana.PublicKey
	commitment rpc.CommitmentType
	limiter    ratelimit.Limiter
}

func NewReader(cfg config.ChainConfig) *Reader {
	return NewReaderWithRPC(rpc.New(cfg.RPCURL), cfg)
}

func NewReaderWithRPC(client RPC, cfg config.ChainConfig) *Reader {
	limiter := ratelimit.NewUnlimited()
	if cfg.RPCRateLimit > 0 {
		limiter = ratelimit.New(cfg.RPCRateLimit)
	}
	return &Reader{
		rpc:        client,
		programID:  cfg.ProgramID,
		commitment: cfg.Commitment,
		limiter:    limiter,
	}
}

func (r *Reader) ProgramID() solana.PublicKey { return r.programID }

// CheckProgram fails when the endpoint is unreachable or the program account
// does not exist.
func (r *Reader) CheckProgram(ctx context.Context) error {
	data, err := r.GetAccount(ctx, r.programID)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("program %s not found (hint: check PERP_PROGRAM_ID and SOLANA_RPC_URL)", r.programID)
	}
	return nil
}

// GetAccount returns the raw account data, or nil when the account does not exist.
func (r *Reader) GetAccount(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	r.limiter.Take()
	resp, err := r.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: r.commitment,
		Encoding:   solana.EncodingBase64,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if resp == nil || resp.Value == nil {
		return nil, nil
	}
	return accountData(resp.Value), nil
}

// MaxAccountsPerRequest is the getMultipleAccounts key limit enforced by
// Solana RPC nodes.
const MaxAccountsPerRequest = 100

// GetAccounts fetches several accounts, MaxAccountsPerRequest keys per round
// trip. Missing accounts are returned as nil entries at their position.
func (r *Reader) GetAccounts(ctx context.Context, addresses ...solana.PublicKey) ([][]byte, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	out := make([][]byte, len(addresses))
	for start := 0; start < len(addresses); start += MaxAccountsPerRequest {
		end := min(start+MaxAccountsPerRequest, len(addresses))
		r.limiter.Take()
		resp, err := r.rpc.GetMultipleAccountsWithOpts(ctx, addresses[start:end], &rpc.GetMultipleAccountsOpts{
			Commitment: r.commitment,
			Encoding:   solana.EncodingBase64,
		})
		if err != nil {
			return nil, fmt.Errorf("get multiple accounts: %w", err)
		}
		if resp == nil {
			continue
		}
		for i, account := range resp.Value {
			if start+i >= end {
				break
			}
			out[start+i] = accountData(account)
		}
	}
	return out, nil
}

// ListAccountsByDiscriminator lists program accounts whose data starts with
// disc and matches every extra filter. Nodes that reject the memcmp encoding
// are served by an unfiltered listing filtered locally.
func (r *Reader) ListAccountsByDiscriminator(ctx context.Context, disc [8]byte, extra ...Memcmp) ([]KeyedAccount, error) {
	filters := append([]Memcmp{{Offset: 0, Bytes: disc[:]}}, extra...)

	rpcFilters := make([]rpc.RPCFilter, 0, len(filters))
	for _, f := range filters {
		rpcFilters = append(rpcFilters, rpc.RPCFilter{
			Memcmp: &rpc.RPCFilterMemcmp{Offset: f.Offset, Bytes: solana.Base58(f.Bytes)},
		})
	}

	r.limiter.Take()
	accounts, err := r.rpc.GetProgramAccountsWithOpts(ctx, r.programID, &rpc.GetProgramAccountsOpts{
		Commitment: r.commitment,
		Encoding:   solana.EncodingBase64,
		Filters:    rpcFilters,
	})
	if err == nil {
		return keyed(accounts, filters), nil
	}
	if !filterRejected(err) {
		return nil, fmt.Errorf("get program accounts: %w", err)
	}

	r.limiter.Take()
	all, fallbackErr := r.rpc.GetProgramAccountsWithOpts(ctx, r.programID, &rpc.GetProgramAccountsOpts{
		Commitment: r.commitment,
		Encoding:   solana.EncodingBase64,
	})
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: %v; unfiltered listing: %w", ErrFilterRejected, err, fallbackErr)
	}
	return keyed(all, filters), nil
}

func filterRejected(err error) bool {
	text := err.Error()
	return strings.Contains(text, "Base58") || strings.Contains(text, "Invalid")
}

// keyed re-applies the filters locally; a node honouring them returns the
// same set unchanged.
func keyed(accounts rpc.GetProgramAccountsResult, filters []Memcmp) []KeyedAccount {
	out := make([]KeyedAccount, 0, len(accounts))
	for _, account := range accounts {
		if account == nil {
			continue
		}
		data := accountData(account.Account)
		if data == nil {
			continue
		}
		ok := true
		for _, f := range filters {
			if !f.matches(data) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, KeyedAccount{Address: account.Pubkey, Data: data})
		}
	}
	return out
}

func accountData(account *rpc.Account) []byte {
	if account == nil || account.Data == nil {
		return nil
	}
	return account.Data.GetBinary()
}
