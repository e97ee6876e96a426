package watcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solturn/yieldbridge/internal/domain"
	"github.com/solturn/yieldbridge/internal/ledger/sim"
	"github.com/solturn/yieldbridge/internal/observability"
	"github.com/solturn/yieldbridge/internal/service"
)

const testOwner = "t1abcdefghijkmnopqrstuvwxyz12345678"

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

func (m *memStore) ListTerminalBefore(_ context.Context, _ time.Time, _ domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

// fakeAudit discards audit events.
type fakeAudit struct{}

func (fakeAudit) Log(_ context.Context, _ string, _ map[string]any) error { return nil }
func (fakeAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// fakeQuotes is a minimal QuoteCache.
type fakeQuotes struct {
	mu   sync.Mutex
	info *domain.ProtocolInfo
}

func (q *fakeQuotes) PutQuote(_ context.Context, _ domain.DepositQuote, _ time.Duration) error {
	return nil
}

func (q *fakeQuotes) GetQuote(_ context.Context, _ string) (domain.DepositQuote, error) {
	return domain.DepositQuote{}, domain.ErrNotFound
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

// fakeBus discards events.
type fakeBus struct{}

func (fakeBus) Publish(_ context.Context, _ string, _ []byte) error { return nil }
func (fakeBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}
func (fakeBus) StreamAppend(_ context.Context, _ string, _ []byte) error { return nil }
func (fakeBus) StreamRead(_ context.Context, _, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// fakeLocks always grants the lock unless held is set.
type fakeLocks struct {
	held bool
}

func (l *fakeLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

// erroringDetector fails detection for one address and delegates the rest.
type erroringDetector struct {
	inner    domain.DepositDetector
	failAddr string
}

func (d *erroringDetector) DetectDeposits(ctx context.Context, address string, minAmount float64) ([]domain.DetectedDeposit, error) {
	if address == d.failAddr {
		return nil, fmt.Errorf("detector: %s unavailable", address)
	}
	return d.inner.DetectDeposits(ctx, address, minAmount)
}

type fixture struct {
	watcher  *Watcher
	orch     *service.Orchestrator
	store    *memStore
	detector *sim.Detector
	bridge   *sim.Bridge
	pool     *sim.Pool
	locks    *fakeLocks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	detector := sim.NewDetector(3)
	bridge := sim.NewBridge(1)
	pool := sim.NewPool()
	locks := &fakeLocks{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orch := service.NewOrchestrator(store, fakeAudit{}, &fakeQuotes{}, fakeBus{},
		bridge, pool, "zec.omft.near", 1.0, 10*time.Minute, logger)

	w := New(store, orch, detector, bridge, locks,
		observability.NewMetricsWith(prometheus.NewRegistry()),
		Config{
			SweepInterval: time.Minute,
			MaxPendingAge: 24 * time.Hour,
			LockTTL:       5 * time.Minute,
		}, logger)

	return &fixture{watcher: w, orch: orch, store: store, detector: detector, bridge: bridge, pool: pool, locks: locks}
}

func (f *fixture) createPosition(t *testing.T) domain.Position {
	t.Helper()
	pos, err := f.orch.CreatePosition(context.Background(), testOwner, 1.0, nil, "")
	if err != nil {
		t.Fatalf("create position: %v", err)
	}
	return pos
}

func TestSweepConfirmedDepositActivatesInOneSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos := f.createPosition(t)
	f.detector.RegisterDeposit(pos.Watch.BridgeAddress, 0.995, 3)

	stats := f.watcher.Sweep(ctx)
	if stats.Finalized != 1 {
		t.Errorf("finalized = %d, want 1 (stats: %+v)", stats.Finalized, stats)
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusLendingActive {
		t.Fatalf("status = %s, want lending_active after one sweep", got.Status)
	}
	if got.DepositBridgeTx == nil || got.DepositBridgeTx.Status != domain.BridgeTxCompleted {
		t.Errorf("deposit bridge tx = %+v, want completed", got.DepositBridgeTx)
	}
	if got.Watch != nil {
		t.Error("watch state not cleared")
	}
}

func TestSweepRevisitsUnconfirmedDetection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos := f.createPosition(t)
	f.detector.RegisterDeposit(pos.Watch.BridgeAddress, 0.995, 1)

	stats := f.watcher.Sweep(ctx)
	if stats.Detected != 1 {
		t.Errorf("detected = %d, want 1", stats.Detected)
	}

	mid, _ := f.store.GetByID(ctx, pos.ID)
	if mid.Status != domain.StatusBridgingToNear {
		t.Fatalf("status = %s, want bridging_to_near while unconfirmed", mid.Status)
	}

	// Two more blocks; the sweep must revisit the bridging_to_near position
	// and finalize it.
	f.detector.AdvanceConfirmations(2)

	stats = f.watcher.Sweep(ctx)
	if stats.Finalized != 1 {
		t.Errorf("finalized = %d, want 1 on revisit (stats: %+v)", stats.Finalized, stats)
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusLendingActive {
		t.Fatalf("status = %s, want lending_active after confirmation", got.Status)
	}
}

func TestSweepTimeoutCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos := f.createPosition(t)

	// Backdate the watch bookkeeping past the maximum pending age.
	stored, _ := f.store.GetByID(ctx, pos.ID)
	stored.Watch.CreatedAt = time.Now().UTC().Add(-25 * time.Hour)
	if err := f.store.Update(ctx, stored); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	stats := f.watcher.Sweep(ctx)
	if stats.Cancelled != 1 {
		t.Errorf("cancelled = %d, want 1", stats.Cancelled)
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	last := got.StatusHistory[len(got.StatusHistory)-1]
	if last.Note == "" {
		t.Error("cancellation entry missing timeout note")
	}
	if len(got.StatusHistory) != 2 {
		t.Errorf("history length = %d, want exactly 2", len(got.StatusHistory))
	}
}

func TestSweepNoPaymentBumpsBookkeeping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos := f.createPosition(t)

	stats := f.watcher.Sweep(ctx)
	if stats.Checks != 1 || stats.Detected != 0 {
		t.Errorf("stats = %+v, want one check and no detections", stats)
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusPendingDeposit {
		t.Errorf("status = %s, want pending_deposit", got.Status)
	}
	if got.Watch.CheckCount != 1 || got.Watch.LastCheckedAt == nil {
		t.Errorf("bookkeeping not bumped: %+v", got.Watch)
	}
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	f.locks.held = true
	ctx := context.Background()

	pos := f.createPosition(t)
	f.detector.RegisterDeposit(pos.Watch.BridgeAddress, 0.995, 3)

	stats := f.watcher.Sweep(ctx)
	if stats.Checks != 0 || stats.Finalized != 0 {
		t.Errorf("stats = %+v, want nothing processed", stats)
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusPendingDeposit {
		t.Errorf("status = %s, position must be untouched", got.Status)
	}
}

func TestSweepWithdrawalCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos := f.createPosition(t)
	f.detector.RegisterDeposit(pos.Watch.BridgeAddress, 0.995, 3)
	if stats := f.watcher.Sweep(ctx); stats.Finalized != 1 {
		t.Fatalf("setup sweep: %+v", stats)
	}

	if _, err := f.orch.InitiateWithdrawal(ctx, pos.ID, testOwner,
		"t3abcdefghijkmnopqrstuvwxyz12345678", 0); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	stats := f.watcher.Sweep(ctx)
	if stats.WithdrawalsCompleted != 1 {
		t.Errorf("withdrawals completed = %d, want 1 (stats: %+v)", stats.WithdrawalsCompleted, stats)
	}

	got, _ := f.store.GetByID(ctx, pos.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completedAt not set")
	}
}

func TestSweepErrorIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	broken := f.createPosition(t)
	healthy := f.createPosition(t)
	f.detector.RegisterDeposit(healthy.Watch.BridgeAddress, 0.995, 3)

	f.watcher.detector = &erroringDetector{
		inner:    f.detector,
		failAddr: broken.Watch.BridgeAddress,
	}

	stats := f.watcher.Sweep(ctx)
	if stats.Errors != 1 {
		t.Errorf("errors = %d, want 1", stats.Errors)
	}
	if stats.Finalized != 1 {
		t.Errorf("finalized = %d, want 1 despite the other position failing", stats.Finalized)
	}

	gotBroken, _ := f.store.GetByID(ctx, broken.ID)
	if gotBroken.Status != domain.StatusPendingDeposit {
		t.Errorf("broken position status = %s, must be unchanged", gotBroken.Status)
	}
	gotHealthy, _ := f.store.GetByID(ctx, healthy.ID)
	if gotHealthy.Status != domain.StatusLendingActive {
		t.Errorf("healthy position status = %s, want lending_active", gotHealthy.Status)
	}
}

func TestSweepIdempotentAcrossRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos := f.createPosition(t)
	f.detector.RegisterDeposit(pos.Watch.BridgeAddress, 0.995, 3)

	if stats := f.watcher.Sweep(ctx); stats.Finalized != 1 {
		t.Fatalf("first sweep: %+v", stats)
	}
	got, _ := f.store.GetByID(ctx, pos.ID)
	historyLen := len(got.StatusHistory)

	// The second sweep no longer selects the position and changes nothing.
	if stats := f.watcher.Sweep(ctx); stats.Finalized != 0 {
		t.Errorf("second sweep finalized = %d, want 0", stats.Finalized)
	}
	again, _ := f.store.GetByID(ctx, pos.ID)
	if len(again.StatusHistory) != historyLen {
		t.Error("second sweep appended history")
	}
	if again.Status != domain.StatusLendingActive {
		t.Errorf("status = %s, want lending_active", again.Status)
	}
}
