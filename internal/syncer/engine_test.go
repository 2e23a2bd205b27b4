package syncer

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"picking-sync-backend/config"
	"picking-sync-backend/internal/db"
	"picking-sync-backend/internal/model"
	"picking-sync-backend/internal/remote"
	"picking-sync-backend/internal/store"
)

// fakeRemote scripts delivery outcomes per operation id and records every
// attempt.
type fakeRemote struct {
	mu       sync.Mutex
	fail     map[string]error
	attempts map[string]int
	reported []model.DeadLetter
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		fail:     make(map[string]error),
		attempts: make(map[string]int),
	}
}

func (f *fakeRemote) Deliver(ctx context.Context, op model.PendingOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[op.ID]++
	return f.fail[op.ID]
}

func (f *fakeRemote) ReportDeadLetter(ctx context.Context, letter model.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported = append(f.reported, letter)
	return nil
}

func (f *fakeRemote) attemptsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

func (f *fakeRemote) setFailure(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, id)
	} else {
		f.fail[id] = err
	}
}

func newEngineUnderTest(t *testing.T) (*Engine, store.Store, *fakeRemote) {
	t.Helper()
	gormDB, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "local.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.MigrateLocal(gormDB))
	s := store.NewGormStore(gormDB)

	r := newFakeRemote()
	cfg := &config.SyncConfig{DrainInterval: time.Minute, MaxAttempts: 3}
	e := NewEngine(s, r, cfg, "device-1")
	e.SetWorker("alice")
	return e, s, r
}

func enqueue(t *testing.T, s store.Store, id, entityKey string, createdAt time.Time) {
	t.Helper()
	op := &model.PendingOperation{
		ID:        id,
		Method:    http.MethodPost,
		Target:    "/api/orders/o1/scan",
		Payload:   []byte(`{"worker":"alice","code":"96385074"}`),
		OrderID:   "o1",
		EntityKey: entityKey,
		CreatedAt: createdAt,
	}
	require.NoError(t, s.Enqueue(context.Background(), op, false, nil))
}

func TestDrainDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	e, s, r := newEngineUnderTest(t)

	base := time.Now().UTC()
	enqueue(t, s, "op1", "line:l1", base)
	enqueue(t, s, "op2", "line:l2", base.Add(time.Second))

	delivered, err := e.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 1, r.attemptsFor("op1"))
	assert.Equal(t, 1, r.attemptsFor("op2"))

	ops, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestTransportFailureRespectsRetryBudget(t *testing.T) {
	ctx := context.Background()
	e, s, r := newEngineUnderTest(t)

	enqueue(t, s, "op1", "line:l1", time.Now().UTC())
	r.setFailure("op1", &remote.TransportError{Err: errors.New("connection refused")})

	var permanent []model.PendingOperation
	e.SetPermanentHandler(func(ctx context.Context, op model.PendingOperation, cause error) {
		permanent = append(permanent, op)
	})

	// Two cycles fail and leave the operation queued.
	for cycle := 1; cycle <= 2; cycle++ {
		delivered, err := e.DrainOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, delivered)
		ops, err := s.Pending(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, cycle, ops[0].Retries)
	}

	// The third failure exhausts the budget.
	_, err := e.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, r.attemptsFor("op1"))

	ops, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	letters, err := s.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "op1", letters[0].OpID)
	assert.Equal(t, 3, letters[0].Attempts)
	assert.Equal(t, "alice", letters[0].WorkerID)

	require.Len(t, permanent, 1)
	require.Len(t, r.reported, 1)
	assert.Equal(t, "op1", r.reported[0].OpID)

	// No fourth attempt ever happens.
	_, err = e.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, r.attemptsFor("op1"))
}

func TestSemanticRejectionDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	e, s, r := newEngineUnderTest(t)

	enqueue(t, s, "op1", "line:l1", time.Now().UTC())
	r.setFailure("op1", &remote.APIError{Status: http.StatusConflict, Kind: "not_holder", Holder: "bob"})

	var causes []error
	e.SetPermanentHandler(func(ctx context.Context, op model.PendingOperation, cause error) {
		causes = append(causes, cause)
	})

	_, err := e.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, r.attemptsFor("op1"))

	letters, err := s.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)

	require.Len(t, causes, 1)
	apiErr, ok := remote.AsAPIError(causes[0])
	require.True(t, ok)
	assert.Equal(t, "bob", apiErr.Holder)
}

func TestFailedOperationBlocksItsEntityForTheCycle(t *testing.T) {
	ctx := context.Background()
	e, s, r := newEngineUnderTest(t)

	base := time.Now().UTC()
	enqueue(t, s, "op1", "line:l1", base)
	enqueue(t, s, "op2", "line:l1", base.Add(time.Second))
	enqueue(t, s, "op3", "line:l2", base.Add(2*time.Second))
	r.setFailure("op1", &remote.TransportError{Err: errors.New("timeout")})

	delivered, err := e.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	// op2 shares op1's entity and must wait; op3 is independent and goes out.
	assert.Equal(t, 1, r.attemptsFor("op1"))
	assert.Zero(t, r.attemptsFor("op2"))
	assert.Equal(t, 1, r.attemptsFor("op3"))

	// Once op1 recovers, op2 follows in order.
	r.setFailure("op1", nil)
	delivered, err = e.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	ops, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestTriggerDrainCoalesces(t *testing.T) {
	e, _, _ := newEngineUnderTest(t)

	// Many triggers collapse into a single queued signal.
	for i := 0; i < 5; i++ {
		e.TriggerDrain()
	}
	assert.Len(t, e.drainCh, 1)
}

func TestDrainRunsOnTrigger(t *testing.T) {
	e, s, r := newEngineUnderTest(t)
	enqueue(t, s, "op1", "line:l1", time.Now().UTC())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.TriggerDrain()
	require.Eventually(t, func() bool {
		return r.attemptsFor("op1") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRejectionDeadLettersSameEntityChain(t *testing.T) {
	ctx := context.Background()
	e, s, r := newEngineUnderTest(t)

	base := time.Now().UTC()
	enqueue(t, s, "op1", "line:l1", base)
	enqueue(t, s, "op2", "line:l1", base.Add(time.Second))
	enqueue(t, s, "op3", "line:l2", base.Add(2*time.Second))
	r.setFailure("op1", &remote.APIError{Status: http.StatusConflict, Kind: "not_holder", Holder: "bob"})

	var rolledBack []string
	e.SetPermanentHandler(func(ctx context.Context, op model.PendingOperation, cause error) {
		rolledBack = append(rolledBack, op.ID)
	})

	delivered, err := e.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	// op2 is never attempted: it was built on state the service refused.
	// op3 targets another entity and goes out normally.
	assert.Equal(t, 1, r.attemptsFor("op1"))
	assert.Zero(t, r.attemptsFor("op2"))
	assert.Equal(t, 1, r.attemptsFor("op3"))

	// Rollbacks unwind newest first, so the snapshot taken before op1 is
	// the one left applied.
	assert.Equal(t, []string{"op2", "op1"}, rolledBack)

	letters, err := s.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Len(t, letters, 2)

	ops, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}
