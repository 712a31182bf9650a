package tracker

import "context"

// Store allocates and recycles probe IDs: a released ID is reused
// before the counter advances. Implementations must be safe for
// concurrent use.
type Store interface {
	// Allocate pops a released ID off the free list, or bumps the
	// counter if the free list is empty. Which released ID comes back
	// first depends on the implementation.
	Allocate(ctx context.Context) (int, error)

	// Release returns id to the free list so a later Allocate can
	// reuse it.
	Release(ctx context.Context, id int) error
}
