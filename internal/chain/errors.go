package chain

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// ErrorKind is the closed set of outcomes the crank and liquidation loops
// branch on.
type ErrorKind uint8

const (
	KindOther ErrorKind = iota
	KindRateLimited
	KindQueueEmpty
	KindEventNotForUser
	KindNothingToLiquidate
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindQueueEmpty:
		return "queue_empty"
	case KindEventNotForUser:
		return "event_not_for_user"
	case KindNothingToLiquidate:
		return "nothing_to_liquidate"
	default:
		return "other"
	}
}

var programErrorKinds = []struct {
	name string
	kind ErrorKind
}{
	{name: "QueueEmpty", kind: KindQueueEmpty},
	{name: "EventNotForUser", kind: KindEventNotForUser},
	{name: "NothingToLiquidate", kind: KindNothingToLiquidate},
}

// Classify maps a transport or program error onto an ErrorKind. Program
// error names are matched first, in the error text and in any program logs
// attached to an RPC error. Rate limiting is only read from the HTTP status or
// the JSON-RPC error itself, never from logs.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	texts := append([]string{err.Error()}, Logs(err)...)
	for _, candidate := range programErrorKinds {
		for _, text := range texts {
			if strings.Contains(text, candidate.name) {
				return candidate.kind
			}
		}
	}
	if IsRateLimited(err) {
		return KindRateLimited
	}
	return KindOther
}

// IsRateLimited reports whether the node throttled the request.
func IsRateLimited(err error) bool {
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code == http.StatusTooManyRequests
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == http.StatusTooManyRequests || rateLimitMessage(rpcErr.Message)
	}
	return rateLimitMessage(err.Error())
}

func rateLimitMessage(msg string) bool {
	if strings.Contains(strings.ToLower(msg), "too many requests") {
		return true
	}
	return strings.Contains(msg, "status code: 429") || strings.Contains(msg, "HTTP 429")
}

// Logs extracts simulation logs from a JSON-RPC error, if present.
func Logs(err error) []string {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return nil
	}
	data, ok := rpcErr.Data.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := data["logs"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if s, ok := line.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
