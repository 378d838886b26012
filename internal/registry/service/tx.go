package service

import (
	"context"
	"sync"
	"time"

	"consentry/internal/registry/store"
	dErrors "consentry/pkg/domain-errors"
)

// StoreTx provides the transactional boundary for registry mutations. Every
// state-mutating operation runs inside exactly one RunInTx call, which gives
// the registry its contract: mutations are applied atomically and totally
// ordered, and no operation observes another mid-flight. Implementations wrap
// a database transaction or, in-memory, a coarse lock.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// defaultTxTimeout bounds a single registry mutation.
const defaultTxTimeout = 5 * time.Second

// inMemoryStoreTx serializes mutations with a single mutex. A global lock is
// deliberate: the registry's ordering contract spans all three tables, and
// operator approvals cut across records, so per-record sharding would not
// preserve it.
type inMemoryStoreTx struct {
	mu      sync.Mutex
	store   *store.InMemory
	timeout time.Duration
}

// NewInMemoryStoreTx returns the lock-based transaction runner for st. It
// snapshots the store before each transaction and restores it when the
// transaction fails, matching the all-or-nothing behavior of the database
// runner.
func NewInMemoryStoreTx(st *store.InMemory) StoreTx {
	return &inMemoryStoreTx{store: st}
}

func (t *inMemoryStoreTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	snap := t.store.Snapshot()
	if err := fn(ctx); err != nil {
		t.store.Restore(snap)
		return err
	}
	return nil
}
