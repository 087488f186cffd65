package pack

import (
	"context"

	"github.com/maxpert/objectpack/query"
)

// Source is the data behind an ObjectPack
type Source interface {
	Query() query.Set
	// Get returns the record with id or query.ErrDoesNotExist
	Get(ctx context.Context, id any) (query.Record, error)
	// New returns an unsaved record with default values
	New() query.Record
	// Save stores rec and returns it as stored (with its id when created)
	Save(ctx context.Context, rec query.Record, create bool) (query.Record, error)
	// Delete removes the record with id and returns it
	Delete(ctx context.Context, id any) (query.Record, error)
}

// Atomic sources run fn in a transaction that is rolled back when fn fails
type Atomic interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}

func atomically(ctx context.Context, src Source, fn func(ctx context.Context) error) error {
	if a, ok := src.(Atomic); ok {
		return a.Atomic(ctx, fn)
	}
	return fn(ctx)
}
