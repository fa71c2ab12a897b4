package ral

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Txn is an open register transaction. Exactly one of Commit or Abort ends it; the cached value
// is cleared either way.
type Txn struct {
	logger *zap.Logger
	end    func(ctx context.Context, commit bool) error
	done   bool
}

// Commit ends the transaction, writing the cached value back unless the transaction was opened
// read-only or with SkipWrite.
func (t *Txn) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("%w: transaction already ended", ErrInvalidArgument)
	}
	t.done = true
	t.logger.Debug("transaction commit")
	return t.end(ctx, true)
}

// Abort ends the transaction without touching the hardware. Calling it on an ended transaction
// does nothing, so it is safe to defer.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.logger.Debug("transaction abort")
	_ = t.end(context.Background(), false)
}

// run commits after fn succeeds and aborts if fn fails or panics.
func (t *Txn) run(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			t.Abort()
			panic(p)
		}
	}()

	if fn != nil {
		if err = fn(); err != nil {
			t.Abort()
			return err
		}
	}
	if err = ctx.Err(); err != nil {
		t.Abort()
		return err
	}
	return t.Commit(ctx)
}
