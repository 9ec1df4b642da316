package indexer

import "time"

// Backoff doubles the poll delay while the RPC keeps rate limiting, up to max.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func NewBackoff(base, max time.Duration) *Backoff {
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, current: base}
}

func (b *Backoff) Next() time.Duration {
	b.current = min(b.current*2, b.max)
	return b.current
}

func (b *Backoff) Reset() time.Duration {
	b.current = b.base
	return b.current
}

func (b *Backoff) Base() time.Duration { return b.base }
