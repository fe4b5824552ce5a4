package fsengine

import (
	"context"
	"fmt"
)

// Transaction is an explicit begin/commit/rollback handle with nested
// savepoints, per spec.md §5's "transaction discipline". Engine operations
// (Write, CopyDir and the rest) open their own transactions and do not run
// inside a Transaction. Nested Savepoint/RollbackToSavepoint calls are
// backed by real SQL SAVEPOINTs rather than an in-memory depth counter —
// the engine's prior "blocked in deployment target" constraint does not
// apply to a real database/sql connection.
type Transaction struct {
	engine *Engine
	t      *tx
	depth  int
	closed bool
}

// BeginTransaction opens a new top-level transaction.
func (e *Engine) BeginTransaction(ctx context.Context) (*Transaction, error) {
	t, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Transaction{engine: e, t: t}, nil
}

// Savepoint establishes a nested savepoint and returns its name, used as
// the argument to a later RollbackToSavepoint.
func (txn *Transaction) Savepoint(ctx context.Context) (string, error) {
	txn.depth++
	name := fmt.Sprintf("sp_%d", txn.depth)
	if _, err := txn.t.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		txn.depth--
		return "", err
	}
	return name, nil
}

// RollbackToSavepoint undoes every mutation since Savepoint(name) without
// aborting the enclosing transaction.
func (txn *Transaction) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := txn.t.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

// ReleaseSavepoint discards a savepoint once its nested work has
// succeeded, without committing the enclosing transaction.
func (txn *Transaction) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := txn.t.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// Commit commits the whole transaction.
func (txn *Transaction) Commit() error {
	if txn.closed {
		return nil
	}
	txn.closed = true
	return txn.t.commit()
}

// Rollback aborts the whole transaction. A crash mid-transaction is
// recovered by sqlite's own rollback-on-open semantics; on recovery a new
// Engine starts with depth and savepoint counters reset to zero, since
// Transaction values do not outlive a process.
func (txn *Transaction) Rollback() error {
	if txn.closed {
		return nil
	}
	txn.closed = true
	return txn.t.rollback()
}
