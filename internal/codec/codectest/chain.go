package codectest

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/coldbell/perpdex/backend/internal/chain"
	"github.com/gagliardetto/solana-go"
)

// Chain is an in-memory account store with the read surface of chain.Reader.
type Chain struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	err      error
}

func NewChain() *Chain {
	return &Chain{accounts: make(map[solana.PublicKey][]byte)}
}

func (c *Chain) Set(address solana.PublicKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[address] = data
}

func (c *Chain) Delete(address solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.accounts, address)
}

// Fail makes every subsequent read return err until cleared with nil.
func (c *Chain) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *Chain) GetAccount(_ context.Context, address solana.PublicKey) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.accounts[address], nil
}

func (c *Chain) GetAccounts(_ context.Context, addresses ...solana.PublicKey) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]byte, len(addresses))
	for i, address := range addresses {
		out[i] = c.accounts[address]
	}
	return out, nil
}

func (c *Chain) ListAccountsByDiscriminator(_ context.Context, disc [8]byte, extra ...chain.Memcmp) ([]chain.KeyedAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}

	filters := append([]chain.Memcmp{{Offset: 0, Bytes: disc[:]}}, extra...)
	var out []chain.KeyedAccount
	for address, data := range c.accounts {
		if matchesAll(data, filters) {
			out = append(out, chain.KeyedAccount{Address: address, Data: data})
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0 })
	return out, nil
}

func matchesAll(data []byte, filters []chain.Memcmp) bool {
	for _, f := range filters {
		end := int(f.Offset) + len(f.Bytes)
		if end > len(data) || !bytes.Equal(data[f.Offset:end], f.Bytes) {
			return false
		}
	}
	return true
}
