package query

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDoesNotExist is returned by Get when nothing matches
	ErrDoesNotExist = errors.New("object does not exist")
	// ErrMultipleObjectsReturned is returned by Get when more than one record matches
	ErrMultipleObjectsReturned = errors.New("multiple objects returned")
	// ErrReadOnly is returned by record sources that can not be modified
	ErrReadOnly = errors.New("record source is read-only")
	// ErrFlatMultipleFields rejects flat value lists over several fields
	ErrFlatMultipleFields = errors.New("'flat' is not valid when values_list is called with more than one field")
)

// Set is a lazily evaluated, immutable query over records. Every
// refinement returns a new Set and leaves the receiver untouched.
type Set interface {
	Filter(exprs ...Expr) Set
	Exclude(exprs ...Expr) Set
	// OrderBy sorts by the given fields; a "-" prefix sorts descending
	OrderBy(fields ...string) Set
	// Slice keeps records in [start, stop); stop < 0 means unbounded
	Slice(start, stop int) Set
	Count(ctx context.Context) (int, error)
	Records(ctx context.Context) ([]Record, error)
}

// Get returns the single record matching exprs
func Get(ctx context.Context, set Set, exprs ...Expr) (Record, error) {
	if len(exprs) > 0 {
		set = set.Filter(exprs...)
	}
	recs, err := set.Slice(0, 2).Records(ctx)
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, ErrDoesNotExist
	case 1:
		return recs[0], nil
	}
	return nil, ErrMultipleObjectsReturned
}

// GetByID returns the record whose id equals id
func GetByID(ctx context.Context, set Set, id any) (Record, error) {
	return Get(ctx, set, Q("id", id))
}

// First returns the first record or ErrDoesNotExist
func First(ctx context.Context, set Set) (Record, error) {
	recs, err := set.Slice(0, 1).Records(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrDoesNotExist
	}
	return recs[0], nil
}

// ValuesList projects fields from every record. With flat the result holds
// bare values of the single field; otherwise each element is a []any tuple.
func ValuesList(ctx context.Context, set Set, flat bool, fields ...string) ([]any, error) {
	if flat && len(fields) > 1 {
		return nil, ErrFlatMultipleFields
	}
	recs, err := set.Records(ctx)
	if err != nil {
		return nil, err
	}
	getters := make([]func(any) (any, error), len(fields))
	for i, f := range fields {
		getters[i] = Getter(f)
	}

	out := make([]any, 0, len(recs))
	for _, r := range recs {
		if flat {
			v, err := getters[0](r)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			continue
		}
		tuple := make([]any, len(getters))
		for i, g := range getters {
			v, err := g(r)
			if err != nil {
				return nil, err
			}
			tuple[i] = v
		}
		out = append(out, tuple)
	}
	return out, nil
}

// Values projects fields from every record into new records
func Values(ctx context.Context, set Set, fields ...string) ([]Record, error) {
	tuples, err := ValuesList(ctx, set, false, fields...)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(tuples))
	for i, t := range tuples {
		row := make(Record, len(fields))
		for j, f := range fields {
			row[f] = t.([]any)[j]
		}
		out[i] = row
	}
	return out, nil
}

// LookupError decorates ErrDoesNotExist / ErrMultipleObjectsReturned with
// the model name.
type LookupError struct {
	Model string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Model, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}
