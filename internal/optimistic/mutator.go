package optimistic

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"picking-sync-backend/internal/model"
	"picking-sync-backend/internal/store"
)

// Mutation is one optimistic state change: validated locally, applied to
// the durable store and enqueued for delivery in a single transaction, with
// a rollback snapshot carried by the queued operation.
type Mutation struct {
	// Key serializes mutations touching the same entity. At most one
	// mutation per key is in flight at a time; a second one queues behind
	// it instead of racing its rollback.
	Key string

	// Validate runs before anything is written. Invariant violations
	// (picked quantity exceeding expected) are rejected here, before any
	// network call.
	Validate func(ctx context.Context) error

	// Apply performs the local write inside the store transaction.
	Apply func(tx *gorm.DB) error

	// Op is the pending operation delivered asynchronously. Its Rollback
	// field holds the pre-mutation snapshot.
	Op *model.PendingOperation

	// Supersede collapses a queued operation on the same entity key so the
	// drained value matches the last local intent.
	Supersede bool
}

// Mutator applies optimistic mutations: local state first, durable queue
// entry in the same transaction, success reported immediately. Rollback on
// confirmed rejection happens through the sync engine's permanent-failure
// handler using the snapshot stored on the operation.
type Mutator struct {
	store store.Store

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

// NewMutator creates a mutator over the local store.
func NewMutator(s store.Store) *Mutator {
	return &Mutator{
		store: s,
		keys:  make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing mutations for one entity key.
func (m *Mutator) keyLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		m.keys[key] = lock
	}
	return lock
}

// Do validates, applies and enqueues the mutation. When Do returns nil the
// local state is already updated and the operation is durably queued; the
// caller reports success to the user without waiting for the network.
func (m *Mutator) Do(ctx context.Context, mut Mutation) error {
	if mut.Key != "" {
		lock := m.keyLock(mut.Key)
		lock.Lock()
		defer lock.Unlock()
	}

	if mut.Validate != nil {
		if err := mut.Validate(ctx); err != nil {
			return err
		}
	}

	return m.store.Enqueue(ctx, mut.Op, mut.Supersede, mut.Apply)
}
