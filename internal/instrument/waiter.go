package instrument

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// classPreparePollInterval mirrors the ~10ms busy-wait interval the
// synthesized static-initializer patch uses in the target process.
const classPreparePollInterval = 10 * time.Millisecond

// ClassPrepareWaiter is the host-side counterpart of the class-prepare
// busy-wait probe: the dry-run harness and integration tests simulate
// a target thread spinning on the shared wait flag without actually
// spinning the CPU, backed by a rate limiter instead of a bare
// time.Sleep loop.
type ClassPrepareWaiter struct {
	limiter *rate.Limiter
}

// NewClassPrepareWaiter constructs a waiter polling at the same
// cadence the synthesized bytecode uses.
func NewClassPrepareWaiter() *ClassPrepareWaiter {
	return &ClassPrepareWaiter{limiter: rate.NewLimiter(rate.Every(classPreparePollInterval), 1)}
}

// Wait blocks until flag reads zero (cleared by the dispatcher) or ctx
// is done, polling at the limiter's bounded rate.
func (w *ClassPrepareWaiter) Wait(ctx context.Context, flag *byte) error {
	for {
		if *flag == 0 {
			return nil
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}
}
