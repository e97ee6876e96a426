package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/solturn/yieldbridge/internal/domain"
)

const (
	testOwner = "t1abcdefghijkmnopqrstuvwxyz12345678"
	testDest  = "t3abcdefghijkmnopqrstuvwxyz12345678"
)

// memStore is an in-memory PositionStore.
type memStore struct {
	mu    sync.Mutex
	items map[string]domain.Position
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]domain.Position)}
}

func (m *memStore) Create(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.items[pos.ID] = pos
	return nil
}

func (m *memStore) Update(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[pos.ID]; !ok {
		return domain.ErrNotFound
	}
	m.items[pos.ID] = pos
	return nil
}

func (m *memStore) UpdateGuarded(_ context.Context, pos domain.Position, expected domain.PositionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[pos.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != expected {
		return domain.ErrStatusConflict
	}
	m.items[pos.ID] = pos
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.items[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (m *memStore) ListByOwner(_ context.Context, owner string, status *domain.PositionStatus, _ domain.ListOpts) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.items {
		if pos.OwnerAddress != owner {
			continue
		}
		if status != nil && pos.Status != *status {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

func (m *memStore) ListByStatus(_ context.Context, statuses ...domain.PositionStatus) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.items {
		for _, s := range statuses {
			if pos.Status == s {
				out = append(out, pos)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) ListTerminalBefore(_ context.Context, cutoff time.Time, _ domain.ListOpts) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, pos := range m.items {
		if !pos.Status.IsTerminal() {
			continue
		}
		if n := len(pos.StatusHistory); n > 0 && pos.StatusHistory[n-1].Timestamp.Before(cutoff) {
			out = append(out, pos)
		}
	}
	return out, nil
}

// fakeAudit records audit events.
type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *fakeAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// fakeQuotes is an in-memory QuoteCache.
type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]domain.DepositQuote
	info   *domain.ProtocolInfo
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{quotes: make(map[string]domain.DepositQuote)}
}

func (q *fakeQuotes) PutQuote(_ context.Context, quote domain.DepositQuote, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.quotes[quote.IntentID] = quote
	return nil
}

func (q *fakeQuotes) GetQuote(_ context.Context, intentID string) (domain.DepositQuote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	quote, ok := q.quotes[intentID]
	if !ok {
		return domain.DepositQuote{}, domain.ErrNotFound
	}
	return quote, nil
}

func (q *fakeQuotes) PutProtocolInfo(_ context.Context, info domain.ProtocolInfo, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.info = &info
	return nil
}

func (q *fakeQuotes) GetProtocolInfo(_ context.Context) (domain.ProtocolInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.info == nil {
		return domain.ProtocolInfo{}, domain.ErrNotFound
	}
	return *q.info, nil
}

// fakeBus swallows events.
type fakeBus struct {
	mu        sync.Mutex
	published []string
}

func (b *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel)
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, _ []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, _, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// fakeBridge is a scriptable BridgeFinalizer.
type fakeBridge struct {
	mu sync.Mutex

	quote       domain.DepositQuote
	quoteErr    error
	quoteCalls  int
	finalize    domain.FinalizeResult
	finalizeErr error
	finalCalls  int

	withdrawInit    domain.WithdrawalInit
	withdrawInitErr error
	initCalls       int

	// withdrawFinals is consumed one result per FinalizeWithdrawal call.
	withdrawFinals []domain.WithdrawalFinal
	withdrawErr    error
	pollCalls      int
}

func (b *fakeBridge) GetDepositQuote(_ context.Context, _ string, _ float64) (domain.DepositQuote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quoteCalls++
	return b.quote, b.quoteErr
}

func (b *fakeBridge) FinalizeDeposit(_ context.Context, _, _ string, _ int, _ string) (domain.FinalizeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalCalls++
	return b.finalize, b.finalizeErr
}

func (b *fakeBridge) InitiateWithdrawal(_ context.Context, _, _ string, _ float64) (domain.WithdrawalInit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCalls++
	return b.withdrawInit, b.withdrawInitErr
}

func (b *fakeBridge) FinalizeWithdrawal(_ context.Context, _, _ string) (domain.WithdrawalFinal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pollCalls++
	if b.withdrawErr != nil {
		return domain.WithdrawalFinal{}, b.withdrawErr
	}
	if len(b.withdrawFinals) == 0 {
		return domain.WithdrawalFinal{}, nil
	}
	final := b.withdrawFinals[0]
	b.withdrawFinals = b.withdrawFinals[1:]
	return final, nil
}

// fakePool is a scriptable YieldPool.
type fakePool struct {
	mu sync.Mutex

	info domain.ProtocolInfo

	deposit      domain.PoolDeposit
	depositErr   error
	depositCalls int
	lastDeposit  float64

	withdrawal    domain.PoolWithdrawal
	withdrawErr   error
	withdrawCalls int
	lastWithdraw  float64
}

func (p *fakePool) GetProtocolInfo(_ context.Context) (domain.ProtocolInfo, error) {
	return p.info, nil
}

func (p *fakePool) Deposit(_ context.Context, _ string, amount float64, _ string) (domain.PoolDeposit, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depositCalls++
	p.lastDeposit = amount
	return p.deposit, p.depositErr
}

func (p *fakePool) Withdraw(_ context.Context, _ string, amount float64) (domain.PoolWithdrawal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawCalls++
	p.lastWithdraw = amount
	if p.withdrawErr != nil {
		return domain.PoolWithdrawal{}, p.withdrawErr
	}
	if p.withdrawal.WithdrawnAmount == 0 {
		return domain.PoolWithdrawal{TxRef: "pool-wd", WithdrawnAmount: amount}, nil
	}
	return p.withdrawal, nil
}

type orchFixture struct {
	orch   *Orchestrator
	store  *memStore
	audit  *fakeAudit
	quotes *fakeQuotes
	bridge *fakeBridge
	pool   *fakePool
}

func newOrchFixture() *orchFixture {
	store := newMemStore()
	audit := &fakeAudit{}
	quotes := newFakeQuotes()
	bridge := &fakeBridge{
		quote: domain.DepositQuote{
			BridgeAddress:  "t1bridgedepositaddr9999999999999999",
			ExpectedAmount: 0.995,
			ETAMinutes:     10,
			FeePercent:     0.5,
			IntentID:       "intent-1",
			EncodedArgs:    "args-1",
		},
		finalize: domain.FinalizeResult{
			DestinationTxRef: "near-tx-1",
			MintedAmount:     0.985,
		},
		withdrawInit: domain.WithdrawalInit{
			PendingRef:       "pending-1",
			DestinationTxRef: "near-burn-1",
			ETAMinutes:       5,
		},
	}
	pool := &fakePool{
		info: domain.ProtocolInfo{
			ProtocolName: "testlend",
			CurrentAPY:   5.0,
			MinDeposit:   0.01,
			MaxDeposit:   100,
		},
		deposit: domain.PoolDeposit{TxRef: "pool-tx-1", CurrentAPY: 5.0},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := NewOrchestrator(store, audit, quotes, &fakeBus{}, bridge, pool,
		"zec.omft.near", 1.0, 10*time.Minute, logger)

	return &orchFixture{orch: orch, store: store, audit: audit, quotes: quotes, bridge: bridge, pool: pool}
}

func TestGetDepositQuoteValidation(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	if _, err := f.orch.GetDepositQuote(ctx, "not-an-address", 1.0); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("bad address: got %v, want ErrInvalidAddress", err)
	}
	if _, err := f.orch.GetDepositQuote(ctx, testOwner, 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := f.orch.GetDepositQuote(ctx, testOwner, 0.001); !errors.Is(err, domain.ErrOutOfRange) {
		t.Errorf("below min: got %v, want ErrOutOfRange", err)
	}
	if _, err := f.orch.GetDepositQuote(ctx, testOwner, 500); !errors.Is(err, domain.ErrOutOfRange) {
		t.Errorf("above max: got %v, want ErrOutOfRange", err)
	}

	quote, err := f.orch.GetDepositQuote(ctx, testOwner, 1.0)
	if err != nil {
		t.Fatalf("valid quote: %v", err)
	}
	if quote.BridgeAddress == "" || quote.IntentID == "" {
		t.Errorf("incomplete quote: %+v", quote)
	}
}

func TestCreatePositionSeedsWatchState(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pos, err := f.orch.CreatePosition(ctx, testOwner, 1.0, nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if pos.Status != domain.StatusPendingDeposit {
		t.Errorf("status = %s, want pending_deposit", pos.Status)
	}
	if pos.Watch == nil || pos.Watch.Kind != domain.WatchDeposit {
		t.Fatalf("watch state not seeded: %+v", pos.Watch)
	}
	wantMin := 1.0 * (1 - 1.0/100)
	if math.Abs(pos.Watch.MinAmount-wantMin) > 1e-9 {
		t.Errorf("min amount = %g, want %g", pos.Watch.MinAmount, wantMin)
	}
	if pos.Watch.BridgeAddress != f.bridge.quote.BridgeAddress {
		t.Errorf("bridge address = %q", pos.Watch.BridgeAddress)
	}
	if pos.BridgedAmount != f.bridge.quote.ExpectedAmount {
		t.Errorf("bridged estimate = %g, want %g", pos.BridgedAmount, f.bridge.quote.ExpectedAmount)
	}
	if pos.PoolID != "zec.omft.near" {
		t.Errorf("pool id = %q", pos.PoolID)
	}
	if len(pos.StatusHistory) != 1 || pos.StatusHistory[0].Status != domain.StatusPendingDeposit {
		t.Errorf("history = %+v", pos.StatusHistory)
	}
	if pos.DepositInitiatedAt.IsZero() {
		t.Error("depositInitiatedAt not set")
	}
}

func TestCreatePositionReusesSuppliedQuote(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	supplied := domain.DepositQuote{
		BridgeAddress:  "t1usersuppliedaddress11111111111111",
		ExpectedAmount: 0.99,
		IntentID:       "intent-user",
		EncodedArgs:    "args-user",
	}
	pos, err := f.orch.CreatePosition(ctx, testOwner, 1.0, &supplied, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if pos.BridgeDepositAddress != supplied.BridgeAddress {
		t.Errorf("address = %q, want the supplied quote's", pos.BridgeDepositAddress)
	}
	if f.bridge.quoteCalls != 0 {
		t.Errorf("bridge quote calls = %d, want 0", f.bridge.quoteCalls)
	}
}

func TestMarkDepositObservedIdempotent(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pos, err := f.orch.CreatePosition(ctx, testOwner, 1.0, nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.orch.MarkDepositObserved(ctx, pos.ID, "zec-tx-1", 0.99); err != nil {
		t.Fatalf("first observe: %v", err)
	}
	if err := f.orch.MarkDepositObserved(ctx, pos.ID, "zec-tx-1", 0.99); err != nil {
		t.Fatalf("second observe: %v", err)
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusBridgingToNear {
		t.Errorf("status = %s, want bridging_to_near", got.Status)
	}
	if len(got.StatusHistory) != 2 {
		t.Errorf("history length = %d, want 2", len(got.StatusHistory))
	}
	if got.DepositBridgeTx == nil || got.DepositBridgeTx.SourceTxHash != "zec-tx-1" {
		t.Errorf("deposit bridge tx = %+v", got.DepositBridgeTx)
	}
	if got.DepositBridgeTx.Status != domain.BridgeTxPending {
		t.Errorf("bridge tx status = %s, want pending", got.DepositBridgeTx.Status)
	}
}

func TestActivateYieldPrefersMintedAmount(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pos, _ := f.orch.CreatePosition(ctx, testOwner, 1.0, nil, "")
	if err := f.orch.MarkDepositObserved(ctx, pos.ID, "zec-tx-1", 0.99); err != nil {
		t.Fatalf("observe: %v", err)
	}

	if err := f.orch.ActivateYield(ctx, pos.ID, 0.985, "near-tx-1"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusLendingActive {
		t.Fatalf("status = %s, want lending_active", got.Status)
	}
	if got.BridgedAmount != 0.985 || got.CurrentValue != 0.985 {
		t.Errorf("amounts = %g / %g, want the minted 0.985", got.BridgedAmount, got.CurrentValue)
	}
	if f.pool.lastDeposit != 0.985 {
		t.Errorf("pool deposit amount = %g, want 0.985", f.pool.lastDeposit)
	}
	if got.Watch != nil {
		t.Error("watch state not cleared after activation")
	}
	if got.DepositBridgeTx == nil || got.DepositBridgeTx.Status != domain.BridgeTxCompleted {
		t.Errorf("deposit bridge tx = %+v, want completed", got.DepositBridgeTx)
	}
	if got.LendingStartedAt == nil {
		t.Error("lendingStartedAt not set")
	}

	// Re-applying the same event is a no-op: no second pool deposit.
	if err := f.orch.ActivateYield(ctx, pos.ID, 0.985, "near-tx-1"); err != nil {
		t.Fatalf("re-activate: %v", err)
	}
	if f.pool.depositCalls != 1 {
		t.Errorf("pool deposit calls = %d, want 1", f.pool.depositCalls)
	}
}

func TestActivateYieldFallsBackToEstimate(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pos, _ := f.orch.CreatePosition(ctx, testOwner, 1.0, nil, "")
	_ = f.orch.MarkDepositObserved(ctx, pos.ID, "zec-tx-1", 0)

	if err := f.orch.ActivateYield(ctx, pos.ID, 0, "near-tx-1"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if f.pool.lastDeposit != 0.995 {
		t.Errorf("pool deposit amount = %g, want the 0.995 estimate", f.pool.lastDeposit)
	}
}

func TestActivateYieldPoolRejection(t *testing.T) {
	f := newOrchFixture()
	f.pool.depositErr = errors.New("pool full")
	ctx := context.Background()

	pos, _ := f.orch.CreatePosition(ctx, testOwner, 1.0, nil, "")
	_ = f.orch.MarkDepositObserved(ctx, pos.ID, "zec-tx-1", 0.99)

	if err := f.orch.ActivateYield(ctx, pos.ID, 0.985, "near-tx-1"); err == nil {
		t.Fatal("expected activation error")
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Watch != nil {
		t.Error("watch state not cleared on failure")
	}
	last := got.StatusHistory[len(got.StatusHistory)-1]
	if last.Status != domain.StatusFailed || last.Note == "" {
		t.Errorf("final history entry = %+v, want failed with a note", last)
	}

	// Terminal; never retried.
	if err := f.orch.ActivateYield(ctx, pos.ID, 0.985, "near-tx-1"); err != nil {
		t.Fatalf("re-activate after failure: %v", err)
	}
	if f.pool.depositCalls != 1 {
		t.Errorf("pool deposit calls = %d, want 1", f.pool.depositCalls)
	}
}

// activatePosition drives a fixture position to lending_active.
func activatePosition(t *testing.T, f *orchFixture, minted float64) domain.Position {
	t.Helper()
	ctx := context.Background()
	pos, err := f.orch.CreatePosition(ctx, testOwner, 1.0, nil, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.orch.MarkDepositObserved(ctx, pos.ID, "zec-tx-1", 0); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := f.orch.ActivateYield(ctx, pos.ID, minted, "near-tx-1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	got, err := f.store.GetByID(ctx, pos.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return got
}

func TestUpdateEarningsAccrual(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pos := activatePosition(t, f, 1.0)

	// Backdate lending start by 10 days.
	started := time.Now().UTC().Add(-10 * 24 * time.Hour)
	pos.LendingStartedAt = &started
	if err := f.store.Update(ctx, pos); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	if err := f.orch.UpdateEarnings(ctx, pos.ID); err != nil {
		t.Fatalf("update earnings: %v", err)
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	want := 1.0 * (5.0 / 365 / 100) * 10
	if math.Abs(got.AccruedInterest-want) > 1e-6 {
		t.Errorf("accrued interest = %g, want ~%g", got.AccruedInterest, want)
	}
	if math.Abs(got.CurrentValue-(1.0+want)) > 1e-6 {
		t.Errorf("current value = %g, want ~%g", got.CurrentValue, 1.0+want)
	}
}

func TestUpdateEarningsNoOpWhenNotActive(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pos, _ := f.orch.CreatePosition(ctx, testOwner, 1.0, nil, "")
	before, _ := f.store.GetByID(ctx, pos.ID)

	if err := f.orch.UpdateEarnings(ctx, pos.ID); err != nil {
		t.Fatalf("update earnings: %v", err)
	}

	after, _ := f.store.GetByID(ctx, pos.ID)
	if !reflect.DeepEqual(before, after) {
		t.Error("non-active position was mutated")
	}
}

func TestInitiateWithdrawalDefaultsToFullValue(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pos := activatePosition(t, f, 1.0)
	pos.CurrentValue = 1.05
	pos.AccruedInterest = 0.05
	if err := f.store.Update(ctx, pos); err != nil {
		t.Fatalf("seed value: %v", err)
	}

	got, err := f.orch.InitiateWithdrawal(ctx, pos.ID, testOwner, testDest, 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if f.pool.lastWithdraw != 1.05 {
		t.Errorf("pool withdraw amount = %g, want the full 1.05", f.pool.lastWithdraw)
	}
	if got.Status != domain.StatusBridgingToZcash {
		t.Errorf("status = %s, want bridging_to_zcash", got.Status)
	}
	if got.Watch == nil || got.Watch.Kind != domain.WatchWithdrawal || got.Watch.PendingRef != "pending-1" {
		t.Errorf("watch state = %+v", got.Watch)
	}
	if got.WithdrawalBridgeTx == nil || got.WithdrawalBridgeTx.Status != domain.BridgeTxPending {
		t.Errorf("withdrawal bridge tx = %+v", got.WithdrawalBridgeTx)
	}
	if got.WithdrawalInitiatedAt == nil {
		t.Error("withdrawalInitiatedAt not set")
	}
}

func TestInitiateWithdrawalRejections(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pending, _ := f.orch.CreatePosition(ctx, testOwner, 1.0, nil, "")
	before, _ := f.store.GetByID(ctx, pending.ID)

	if _, err := f.orch.InitiateWithdrawal(ctx, pending.ID, testOwner, testDest, 0); !errors.Is(err, domain.ErrNotActive) {
		t.Errorf("pending position: got %v, want ErrNotActive", err)
	}
	after, _ := f.store.GetByID(ctx, pending.ID)
	if !reflect.DeepEqual(before, after) {
		t.Error("rejected withdrawal mutated the position")
	}

	active := activatePosition(t, f, 1.0)
	if _, err := f.orch.InitiateWithdrawal(ctx, active.ID, testOwner, "bogus", 0); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("bad destination: got %v, want ErrInvalidAddress", err)
	}
	if _, err := f.orch.InitiateWithdrawal(ctx, active.ID, testOwner, testDest, 2.0); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("overdraw: got %v, want ErrInsufficientBalance", err)
	}
	if _, err := f.orch.InitiateWithdrawal(ctx, active.ID, testDest, testDest, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("wrong owner: got %v, want ErrNotFound", err)
	}
	if f.pool.withdrawCalls != 0 {
		t.Errorf("pool withdraw calls = %d, want 0 after rejections", f.pool.withdrawCalls)
	}
}

func TestProcessWithdrawalLifecycle(t *testing.T) {
	f := newOrchFixture()
	f.bridge.withdrawFinals = []domain.WithdrawalFinal{
		{}, // still pending
		{Completed: true, SourceTxRef: "zec-out-1"},
	}
	ctx := context.Background()

	pos := activatePosition(t, f, 1.0)
	if _, err := f.orch.InitiateWithdrawal(ctx, pos.ID, testOwner, testDest, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	completed, err := f.orch.ProcessWithdrawal(ctx, pos.ID)
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if completed {
		t.Fatal("first poll should still be pending")
	}
	mid, _ := f.store.GetByID(ctx, pos.ID)
	if mid.Status != domain.StatusBridgingToZcash {
		t.Errorf("status after pending poll = %s", mid.Status)
	}
	if mid.Watch == nil || mid.Watch.CheckCount != 1 {
		t.Errorf("check count not bumped: %+v", mid.Watch)
	}

	completed, err = f.orch.ProcessWithdrawal(ctx, pos.ID)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if !completed {
		t.Fatal("second poll should complete")
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completedAt not set")
	}
	if got.WithdrawalBridgeTx == nil || got.WithdrawalBridgeTx.Status != domain.BridgeTxCompleted {
		t.Errorf("withdrawal bridge tx = %+v, want completed", got.WithdrawalBridgeTx)
	}
	if got.Watch != nil {
		t.Error("watch state not cleared on completion")
	}
}

func TestProcessWithdrawalHardFailureStaysBridging(t *testing.T) {
	f := newOrchFixture()
	f.bridge.withdrawErr = errors.New("bridge rejected transfer")
	ctx := context.Background()

	pos := activatePosition(t, f, 1.0)
	if _, err := f.orch.InitiateWithdrawal(ctx, pos.ID, testOwner, testDest, 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if _, err := f.orch.ProcessWithdrawal(ctx, pos.ID); err == nil {
		t.Fatal("expected finalization error")
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusBridgingToZcash {
		t.Errorf("status = %s, want bridging_to_zcash (never failed)", got.Status)
	}
}

func TestCancelExpired(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pos, _ := f.orch.CreatePosition(ctx, testOwner, 1.0, nil, "")
	if err := f.orch.CancelExpired(ctx, pos.ID, 25*time.Hour); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.Watch != nil {
		t.Error("watch state not cleared on cancellation")
	}
	last := got.StatusHistory[len(got.StatusHistory)-1]
	if last.Note == "" {
		t.Error("cancellation entry has no timeout note")
	}

	// Re-application is a no-op.
	if err := f.orch.CancelExpired(ctx, pos.ID, 25*time.Hour); err != nil {
		t.Fatalf("re-cancel: %v", err)
	}
	again, _ := f.store.GetByID(ctx, pos.ID)
	if len(again.StatusHistory) != len(got.StatusHistory) {
		t.Error("re-cancellation appended history")
	}
}

func TestGetEarningsHistoryDeterministic(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pos := activatePosition(t, f, 1.0)
	started := time.Now().UTC().Add(-10 * 24 * time.Hour)
	pos.LendingStartedAt = &started
	if err := f.store.Update(ctx, pos); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	if _, err := f.orch.GetEarningsHistory(ctx, pos.ID, 0); !errors.Is(err, domain.ErrOutOfRange) {
		t.Errorf("zero days: got %v, want ErrOutOfRange", err)
	}

	first, err := f.orch.GetEarningsHistory(ctx, pos.ID, 5)
	if err != nil {
		t.Fatalf("earnings history: %v", err)
	}
	if len(first) != 5 {
		t.Fatalf("points = %d, want 5", len(first))
	}
	for i := 1; i < len(first); i++ {
		if first[i].Interest < first[i-1].Interest {
			t.Errorf("interest not monotonic at %d: %g < %g", i, first[i].Interest, first[i-1].Interest)
		}
	}

	second, err := f.orch.GetEarningsHistory(ctx, pos.ID, 5)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("regenerated series differs between calls")
	}
}

func TestGetEarningsHistoryBeforeLending(t *testing.T) {
	f := newOrchFixture()
	ctx := context.Background()

	pos, _ := f.orch.CreatePosition(ctx, testOwner, 1.0, nil, "")
	points, err := f.orch.GetEarningsHistory(ctx, pos.ID, 7)
	if err != nil {
		t.Fatalf("earnings history: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("points = %d, want 0 before lending starts", len(points))
	}
}
