package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"picking-sync-backend/config"
	"picking-sync-backend/internal/model"
	"picking-sync-backend/internal/remote"
	"picking-sync-backend/internal/store"
)

// Remote is the slice of the coordination client the engine needs.
type Remote interface {
	Deliver(ctx context.Context, op model.PendingOperation) error
	ReportDeadLetter(ctx context.Context, letter model.DeadLetter) error
}

// PermanentHandler is invoked after an operation has been moved to the
// dead-letter set, with the rejection that caused it. Handlers roll local
// state back and terminate sessions on authorization failures.
type PermanentHandler func(ctx context.Context, op model.PendingOperation, cause error)

// Engine drains the pending-operation queue against the coordination
// service. A single goroutine owns the queue: no two drain cycles ever run
// concurrently on one device, no matter how often connectivity flaps.
type Engine struct {
	store       store.Store
	remote      Remote
	interval    time.Duration
	maxAttempts int
	deviceID    string

	workerMu sync.Mutex
	workerID string

	// Buffered with capacity one: extra triggers while a drain is pending
	// or running coalesce instead of stacking.
	drainCh chan struct{}

	onPermanent PermanentHandler
}

// NewEngine creates a sync engine over the local queue and remote client.
func NewEngine(s store.Store, r Remote, cfg *config.SyncConfig, deviceID string) *Engine {
	return &Engine{
		store:       s,
		remote:      r,
		interval:    cfg.DrainInterval,
		maxAttempts: cfg.MaxAttempts,
		deviceID:    deviceID,
		drainCh:     make(chan struct{}, 1),
	}
}

// SetPermanentHandler installs the permanent-failure callback.
func (e *Engine) SetPermanentHandler(fn PermanentHandler) {
	e.onPermanent = fn
}

// SetWorker records the worker currently using this device, for dead-letter
// attribution.
func (e *Engine) SetWorker(workerID string) {
	e.workerMu.Lock()
	e.workerID = workerID
	e.workerMu.Unlock()
}

func (e *Engine) worker() string {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	return e.workerID
}

// TriggerDrain requests a drain cycle. Non-blocking; triggers during an
// active cycle coalesce into at most one follow-up cycle.
func (e *Engine) TriggerDrain() {
	select {
	case e.drainCh <- struct{}{}:
	default:
	}
}

// Run owns the drain loop until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	log.Println("Sync engine started.")

	timer := time.NewTimer(e.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sync engine shutting down.")
			return
		case <-e.drainCh:
			e.drainOnce(ctx)
		case <-timer.C:
			e.drainOnce(ctx)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.interval)
	}
}

// DrainOnce runs one drain cycle synchronously. Exposed for tests and for
// callers that need a drain before reporting queue status.
func (e *Engine) DrainOnce(ctx context.Context) (int, error) {
	return e.drainOnce(ctx)
}

// drainOnce walks the queue in creation order and attempts delivery once
// per operation. Failed operations wait for the next cycle rather than
// busy-looping; operations behind a failed one on the same entity are
// skipped to preserve per-entity FIFO.
func (e *Engine) drainOnce(ctx context.Context) (int, error) {
	ops, err := e.store.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending operations: %w", err)
	}
	if len(ops) == 0 {
		return 0, nil
	}
	log.Printf("Draining %d pending operations...", len(ops))

	delivered := 0
	blockedEntities := make(map[string]bool)
	for i, op := range ops {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if op.EntityKey != "" && blockedEntities[op.EntityKey] {
			continue
		}

		err := e.remote.Deliver(ctx, op)
		if err == nil {
			if delErr := e.store.DeletePending(ctx, op.ID); delErr != nil {
				log.Printf("Error deleting delivered operation %s: %v", op.ID, delErr)
			}
			delivered++
			continue
		}

		if remote.IsRetryable(err) {
			retries, bumpErr := e.store.BumpRetry(ctx, op.ID)
			if bumpErr != nil {
				log.Printf("Error bumping retry count for %s: %v", op.ID, bumpErr)
				continue
			}
			op.Retries = retries
			if retries >= e.maxAttempts {
				log.Printf("Operation %s exhausted its retry budget (%d attempts)", op.ID, retries)
				e.deadLetter(ctx, op, err)
			} else {
				log.Printf("Operation %s failed (attempt %d/%d), waiting for next cycle: %v",
					op.ID, retries, e.maxAttempts, err)
				if op.EntityKey != "" {
					blockedEntities[op.EntityKey] = true
				}
			}
			continue
		}

		// Semantic rejection: retrying cannot succeed, and the operations
		// queued behind it on the same entity were built on state the
		// service just refused. Dead-letter the whole chain, newest first,
		// so stacked rollback snapshots unwind to the state before the
		// rejected operation.
		op.Retries++
		log.Printf("Operation %s rejected permanently: %v", op.ID, err)
		if op.EntityKey != "" {
			blockedEntities[op.EntityKey] = true
			chain := ops[i+1:]
			for j := len(chain) - 1; j >= 0; j-- {
				if chain[j].EntityKey != op.EntityKey {
					continue
				}
				chainCause := fmt.Errorf("queued behind rejected operation %s: %w", op.ID, err)
				log.Printf("Operation %s dead-lettered with its rejected predecessor %s", chain[j].ID, op.ID)
				e.deadLetter(ctx, chain[j], chainCause)
			}
		}
		e.deadLetter(ctx, op, err)
	}

	log.Printf("Drain cycle finished: %d delivered.", delivered)
	return delivered, nil
}

// deadLetter moves the operation out of the queue into the dead-letter set
// and notifies the permanent-failure handler. The operation is never
// silently dropped.
func (e *Engine) deadLetter(ctx context.Context, op model.PendingOperation, cause error) {
	worker := e.worker()
	if err := e.store.MoveToDeadLetter(ctx, op, cause.Error(), worker, e.deviceID); err != nil {
		log.Printf("Error dead-lettering operation %s: %v", op.ID, err)
		return
	}

	letter := model.DeadLetter{
		OpID:     op.ID,
		Method:   op.Method,
		Target:   op.Target,
		Payload:  op.Payload,
		OrderID:  op.OrderID,
		WorkerID: worker,
		DeviceID: e.deviceID,
		Attempts: op.Retries,
		Cause:    cause.Error(),
	}
	if err := e.remote.ReportDeadLetter(ctx, letter); err != nil {
		// Best effort: the local dead-letter set remains authoritative.
		log.Printf("Could not report dead letter %s to the service: %v", op.ID, err)
	}

	if e.onPermanent != nil {
		e.onPermanent(ctx, op, cause)
	}
}
