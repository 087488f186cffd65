package vmodel

import (
	"context"
	"fmt"
	"sync"

	"github.com/maxpert/objectpack/id"
	"github.com/maxpert/objectpack/query"
)

// Store is a mutable in-memory table. Records are copied on the way in and
// out so callers never share maps with the store.
type Store struct {
	mu       sync.RWMutex
	model    *Model
	records  []query.Record
	ids      *id.Sequence
	defaults query.Record
}

// NewStore creates a store holding recs. Records without an id get one
// from the store's sequence.
func NewStore(name string, recs ...query.Record) *Store {
	s := &Store{}
	var maxID uint64
	for _, r := range recs {
		if n, ok := r.ID().(int); ok && n > 0 && uint64(n) > maxID {
			maxID = uint64(n)
		}
	}
	s.ids = id.NewSequence(maxID)
	for _, r := range recs {
		c := r.Copy()
		if c.ID() == nil {
			c["id"] = int(s.ids.NextID())
		}
		s.records = append(s.records, c)
	}
	s.model = MustFromData(func(ctx context.Context) ([]query.Record, error) {
		return s.snapshot(), nil
	}, Options{Name: name})
	return s
}

// SetDefaults sets the field values of records returned by New
func (s *Store) SetDefaults(defaults query.Record) {
	s.defaults = defaults.Copy()
}

func (s *Store) snapshot() []query.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]query.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Copy()
	}
	return out
}

// Model returns the read-only model over the store
func (s *Store) Model() *Model {
	return s.model
}

// Query returns a manager over a snapshot taken at evaluation time
func (s *Store) Query() query.Set {
	return s.model.Objects()
}

// Get returns a copy of the record with id
func (s *Store) Get(ctx context.Context, id any) (query.Record, error) {
	return s.model.Objects().GetByID(ctx, id)
}

// New returns a record holding the defaults
func (s *Store) New() query.Record {
	if s.defaults == nil {
		return query.Record{}
	}
	return s.defaults.Copy()
}

// Save inserts or replaces rec by id
func (s *Store) Save(_ context.Context, rec query.Record, create bool) (query.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := rec.Copy()
	if create {
		if c.ID() == nil || c.ID() == 0 {
			c["id"] = int(s.ids.NextID())
		}
		s.records = append(s.records, c)
		return c.Copy(), nil
	}
	i := s.index(c.ID())
	if i < 0 {
		return nil, &query.LookupError{Model: s.model.Name(), Err: query.ErrDoesNotExist}
	}
	s.records[i] = c
	return c.Copy(), nil
}

// Delete removes the record with id
func (s *Store) Delete(_ context.Context, id any) (query.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(id)
	if i < 0 {
		return nil, &query.LookupError{Model: s.model.Name(), Err: query.ErrDoesNotExist}
	}
	rec := s.records[i]
	s.records = append(s.records[:i:i], s.records[i+1:]...)
	return rec, nil
}

// Atomic restores the records when fn fails
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	backup := s.snapshot()
	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.records = backup
		s.mu.Unlock()
		return err
	}
	return nil
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) index(id any) int {
	for i, r := range s.records {
		if query.Equal(r.ID(), id) {
			return i
		}
	}
	return -1
}

func (s *Store) String() string {
	return fmt.Sprintf("Store(%s, %d records)", s.model.Name(), s.Len())
}
