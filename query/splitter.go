package query

import (
	"context"
	"errors"
)

// ErrNothingToSkip is returned by SkipLast when no record has been counted yet
var ErrNothingToSkip = errors.New("can't skip any more")

// Splitter reads a Set portion by portion. It hands out at most limit
// records starting at start; records rejected with SkipLast do not count
// towards limit, so more portions are fetched to fill the page.
type Splitter struct {
	set   Set
	start int
	limit int

	chunk  []Record
	cnt    int
	noMore bool
	all    bool
}

// NewSplitter pages set from start. limit 0 disables paging: every record
// from start onwards is returned and SkipLast becomes a no-op.
func NewSplitter(set Set, start, limit int) *Splitter {
	return &Splitter{set: set, start: start, limit: limit}
}

// Next returns the next record; ok is false when the page is full or the
// set is exhausted.
func (s *Splitter) Next(ctx context.Context) (rec Record, ok bool, err error) {
	if s.limit <= 0 {
		return s.nextUnpaged(ctx)
	}
	if s.cnt >= s.limit {
		return nil, false, nil
	}

	if len(s.chunk) == 0 && !s.noMore {
		s.chunk, err = s.set.Slice(s.start, s.start+s.limit).Records(ctx)
		if err != nil {
			return nil, false, err
		}
		if len(s.chunk) < s.limit {
			s.noMore = true
		} else {
			s.start += s.limit
		}
	}

	if len(s.chunk) == 0 {
		return nil, false, nil
	}
	s.cnt++
	rec, s.chunk = s.chunk[0], s.chunk[1:]
	return rec, true, nil
}

func (s *Splitter) nextUnpaged(ctx context.Context) (Record, bool, error) {
	if !s.all {
		recs, err := s.set.Slice(s.start, -1).Records(ctx)
		if err != nil {
			return nil, false, err
		}
		s.chunk, s.all = recs, true
	}
	if len(s.chunk) == 0 {
		return nil, false, nil
	}
	rec := s.chunk[0]
	s.chunk = s.chunk[1:]
	return rec, true, nil
}

// SkipLast tells the splitter not to count the record returned last
func (s *Splitter) SkipLast() error {
	if s.limit <= 0 {
		return nil
	}
	if s.cnt == 0 {
		return ErrNothingToSkip
	}
	s.cnt--
	return nil
}

// MakeRows builds a grid page from set. Records failing validate are skipped
// without shrinking the page; the rest go through fabric. A nil validate
// accepts everything.
func MakeRows[T any](ctx context.Context, set Set, start, limit int, validate func(Record) bool, fabric func(Record) T) ([]T, error) {
	sp := NewSplitter(set, start, limit)
	rows := make([]T, 0)
	for {
		rec, ok, err := sp.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		if validate != nil && !validate(rec) {
			if err := sp.SkipLast(); err != nil {
				return nil, err
			}
			continue
		}
		rows = append(rows, fabric(rec))
	}
}
