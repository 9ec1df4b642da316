package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/coldbell/perpdex/backend/internal/config"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

type fakeRPC struct {
	accounts       map[solana.PublicKey][]byte
	program        []*rpc.KeyedAccount
	rejectFilters  bool
	programCalls   int
	multipleCalls  []int
	lastFilterLens []int
}

func (f *fakeRPC) GetAccountInfoWithOpts(_ context.Context, account solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	data, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)}}, nil
}

func (f *fakeRPC) GetMultipleAccountsWithOpts(_ context.Context, accounts []solana.PublicKey, _ *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error) {
	f.multipleCalls = append(f.multipleCalls, len(accounts))
	if len(accounts) > MaxAccountsPerRequest {
		return nil, &jsonrpc.RPCError{Code: -32602, Message: "Too many inputs provided; max 100"}
	}
	out := &rpc.GetMultipleAccountsResult{Value: make([]*rpc.Account, len(accounts))}
	for i, key := range accounts {
		if data, ok := f.accounts[key]; ok {
			out.Value[i] = &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)}
		}
	}
	return out, nil
}

func (f *fakeRPC) GetProgramAccountsWithOpts(_ context.Context, _ solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	f.programCalls++
	f.lastFilterLens = append(f.lastFilterLens, len(opts.Filters))
	if f.rejectFilters && len(opts.Filters) > 0 {
		return nil, &jsonrpc.RPCError{Code: -32602, Message: "Invalid param: encoded binary (base 58) data should be less than 128 bytes, please use Base64 encoding."}
	}
	return f.program, nil
}

func keyedAccount(key solana.PublicKey, data []byte) *rpc.KeyedAccount {
	return &rpc.KeyedAccount{Pubkey: key, Account: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(data)}}
}

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	k[31] = b
	return k
}

func TestReaderGetAccount(t *testing.T) {
	present := key(1)
	fake := &fakeRPC{accounts: map[solana.PublicKey][]byte{present: {1, 2, 3}}}
	reader := NewReaderWithRPC(fake, config.ChainConfig{Commitment: rpc.CommitmentConfirmed})

	data, err := reader.GetAccount(context.Background(), present)
	if err != nil || len(data) != 3 {
		t.Fatalf("GetAccount present: data=%v err=%v", data, err)
	}
	data, err = reader.GetAccount(context.Background(), key(2))
	if err != nil || data != nil {
		t.Fatalf("GetAccount missing: data=%v err=%v", data, err)
	}

	batch, err := reader.GetAccounts(context.Background(), present, key(2))
	if err != nil {
		t.Fatalf("GetAccounts error: %v", err)
	}
	if len(batch) != 2 || len(batch[0]) != 3 || batch[1] != nil {
		t.Fatalf("unexpected batch %v", batch)
	}
}

func TestListAccountsByDiscriminatorFallsBackWhenFiltersRejected(t *testing.T) {
	disc := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	owner := key(9)
	match := append(append(disc[:0:0], disc[:]...), owner[:]...)
	otherOwner := append(append(disc[:0:0], disc[:]...), key(10).Bytes()...)
	otherDisc := append([]byte{9, 9, 9, 9, 9, 9, 9, 9}, owner[:]...)

	fake := &fakeRPC{
		rejectFilters: true,
		program: []*rpc.KeyedAccount{
			keyedAccount(key(1), match),
			keyedAccount(key(2), otherOwner),
			keyedAccount(key(3), otherDisc),
			keyedAccount(key(4), disc[:4]),
		},
	}
	reader := NewReaderWithRPC(fake, config.ChainConfig{})

	got, err := reader.ListAccountsByDiscriminator(context.Background(), disc, Memcmp{Offset: 8, Bytes: owner[:]})
	if err != nil {
		t.Fatalf("ListAccountsByDiscriminator error: %v", err)
	}
	if len(got) != 1 || got[0].Address != key(1) {
		t.Fatalf("unexpected accounts %+v", got)
	}
	if fake.programCalls != 2 || fake.lastFilterLens[0] != 2 || fake.lastFilterLens[1] != 0 {
		t.Fatalf("expected filtered then unfiltered call, got calls=%d filters=%v", fake.programCalls, fake.lastFilterLens)
	}
}

func TestListAccountsByDiscriminatorUsesServerFilters(t *testing.T) {
	disc := [8]byte{1, 1, 1, 1, 1, 1, 1, 1}
	fake := &fakeRPC{program: []*rpc.KeyedAccount{keyedAccount(key(1), disc[:])}}
	reader := NewReaderWithRPC(fake, config.ChainConfig{})

	got, err := reader.ListAccountsByDiscriminator(context.Background(), disc)
	if err != nil || len(got) != 1 {
		t.Fatalf("got=%v err=%v", got, err)
	}
	if fake.programCalls != 1 {
		t.Fatalf("programCalls=%d want 1", fake.programCalls)
	}
}

func TestReaderGetAccountsSplitsLargeRequests(t *testing.T) {
	fake := &fakeRPC{accounts: map[solana.PublicKey][]byte{}}
	addresses := make([]solana.PublicKey, 250)
	for i := range addresses {
		addresses[i][0] = byte(i)
		addresses[i][1] = byte(i >> 8)
		addresses[i][2] = 0xFE
		if i%50 == 7 {
			fake.accounts[addresses[i]] = []byte{byte(i)}
		}
	}
	reader := NewReaderWithRPC(fake, config.ChainConfig{Commitment: rpc.CommitmentConfirmed})

	got, err := reader.GetAccounts(context.Background(), addresses...)
	if err != nil {
		t.Fatalf("GetAccounts error: %v", err)
	}
	if want := []int{100, 100, 50}; fmt.Sprint(fake.multipleCalls) != fmt.Sprint(want) {
		t.Fatalf("batches=%v want %v", fake.multipleCalls, want)
	}
	if len(got) != len(addresses) {
		t.Fatalf("results=%d want %d", len(got), len(addresses))
	}
	for i, data := range got {
		present := i%50 == 7
		if present != (data != nil) || (present && data[0] != byte(i)) {
			t.Fatalf("result %d=%v, out of position", i, data)
		}
	}
}

func TestClassify(t *testing.T) {
	simulation := func(line string) error {
		return &jsonrpc.RPCError{
			Code:    -32002,
			Message: "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1771",
			Data: map[string]any{
				"logs": []any{"Program log: Instruction: ProcessPlaceOrder", line},
			},
		}
	}

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindOther},
		{name: "http 429", err: errors.New("rpc call getProgramAccounts() on https://x: HTTP 429"), want: KindRateLimited},
		{name: "too many requests", err: errors.New("Too Many Requests"), want: KindRateLimited},
		{name: "queue empty in logs", err: simulation("Program log: AnchorError occurred. Error Code: QueueEmpty."), want: KindQueueEmpty},
		{name: "wrapped event not for user", err: fmt.Errorf("send: %w", simulation("Error Code: EventNotForUser")), want: KindEventNotForUser},
		{name: "nothing to liquidate in message", err: errors.New("Error Code: NothingToLiquidate"), want: KindNothingToLiquidate},
		{name: "other program error", err: simulation("Error Code: NotAuthorized"), want: KindOther},
		{name: "compute units in logs", err: &jsonrpc.RPCError{
			Code:    -32002,
			Message: "Transaction simulation failed",
			Data: map[string]any{"logs": []any{
				"Program log: AnchorError occurred. Error Code: QueueEmpty.",
				"Program 6FFcqM61UALXUBeXPDQw1J8MLH9r9T5cTsV3uFxQdqLK consumed 14293 of 200000 compute units",
			}},
		}, want: KindQueueEmpty},
		{name: "429 inside an address", err: simulation("Program log: user 4291xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrp"), want: KindOther},
		{name: "http status 429", err: jsonrpc.NewHTTPError(http.StatusTooManyRequests, errors.New("rpc call getAccountInfo() on https://x status code: 429. rpc response missing")), want: KindRateLimited},
		{name: "http status 502", err: jsonrpc.NewHTTPError(http.StatusBadGateway, errors.New("bad gateway")), want: KindOther},
		{name: "rpc too many requests", err: &jsonrpc.RPCError{Code: http.StatusTooManyRequests, Message: "Too many requests for a specific RPC call"}, want: KindRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify=%s want %s", got, tc.want)
			}
		})
	}
}

type fakeSendRPC struct {
	sent     []*solana.Transaction
	raw      [][]byte
	statuses []*rpc.SignatureStatusesResult
}

func (f *fakeSendRPC) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash(key(7))}}, nil
}

func (f *fakeSendRPC) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func (f *fakeSendRPC) SendRawTransactionWithOpts(_ context.Context, raw []byte, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.raw = append(f.raw, raw)
	return solana.Signature{1}, nil
}

func (f *fakeSendRPC) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if len(f.statuses) == 0 {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	next := f.statuses[0]
	f.statuses = f.statuses[1:]
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{next}}, nil
}

func TestSenderPrependsComputeBudget(t *testing.T) {
	signer, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	fake := &fakeSendRPC{}
	sender := NewSender(fake, signer, rpc.CommitmentConfirmed, config.TxConfig{
		ComputeUnitLimit:              400_000,
		ComputeUnitPriceMicroLamports: 1_000,
	})

	ix := solana.NewInstruction(key(3), solana.AccountMetaSlice{solana.NewAccountMeta(signer.PublicKey(), true, true)}, []byte{1})
	sig, err := sender.Send(context.Background(), ix)
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(fake.sent))
	}
	tx := fake.sent[0]
	if len(tx.Message.Instructions) != 3 {
		t.Fatalf("instructions=%d want 3", len(tx.Message.Instructions))
	}
	if sig != tx.Signatures[0] || sig == (solana.Signature{}) {
		t.Fatalf("unexpected signature %s", sig)
	}
	if !tx.Message.AccountKeys[0].Equals(signer.PublicKey()) {
		t.Fatalf("fee payer=%s want %s", tx.Message.AccountKeys[0], signer.PublicKey())
	}
}

func TestWaitForConfirmation(t *testing.T) {
	fake := &fakeSendRPC{statuses: []*rpc.SignatureStatusesResult{
		nil,
		{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
		{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := WaitForConfirmation(ctx, fake, solana.Signature{1}); err != nil {
		t.Fatalf("WaitForConfirmation error: %v", err)
	}

	failed := &fakeSendRPC{statuses: []*rpc.SignatureStatusesResult{{Err: map[string]any{"InstructionError": []any{0, "Custom"}}}}}
	if err := WaitForConfirmation(ctx, failed, solana.Signature{1}); err == nil {
		t.Fatal("expected failure for errored status")
	}
}

func TestCheckProgram(t *testing.T) {
	program := key(7)
	fake := &fakeRPC{accounts: map[solana.PublicKey][]byte{}}
	reader := NewReaderWithRPC(fake, config.ChainConfig{ProgramID: program})
	if err := reader.CheckProgram(context.Background()); err == nil {
		t.Fatal("expected error for missing program")
	}
	fake.accounts[program] = make([]byte, 36)
	if err := reader.CheckProgram(context.Background()); err != nil {
		t.Fatalf("CheckProgram error: %v", err)
	}
}
