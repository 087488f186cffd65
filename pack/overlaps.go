package pack

import (
	"context"
	"errors"
	"fmt"

	"github.com/maxpert/objectpack/query"
)

// ErrOpenInterval is returned when an interval has a nil bound
var ErrOpenInterval = errors.New("interval bounds must not be empty")

// CollectOverlaps returns the records of set whose [begin, end] interval
// intersects obj's. obj itself is excluded when it has an id.
func CollectOverlaps(ctx context.Context, obj query.Record, set query.Set, begin, end string) ([]query.Record, error) {
	objBegin, objEnd := obj[begin], obj[end]
	if objBegin == nil || objEnd == nil {
		return nil, fmt.Errorf("object: %w", ErrOpenInterval)
	}
	if id := obj.ID(); id != nil && id != 0 {
		set = set.Exclude(query.Q("id", id))
	}
	recs, err := set.Records(ctx)
	if err != nil {
		return nil, err
	}

	within := func(v, lo, hi any) (bool, error) {
		a, ok1 := query.Compare(lo, v)
		b, ok2 := query.Compare(v, hi)
		if !ok1 || !ok2 {
			return false, fmt.Errorf("can not compare %T with %T", v, lo)
		}
		return a <= 0 && b <= 0, nil
	}

	var out []query.Record
	for _, r := range recs {
		bgn, e := r[begin], r[end]
		if bgn == nil || e == nil {
			return nil, fmt.Errorf("record %v: %w", r.ID(), ErrOpenInterval)
		}
		overlap := false
		for _, c := range [][3]any{
			{objBegin, bgn, e},
			{objEnd, bgn, e},
			{bgn, objBegin, objEnd},
			{e, objBegin, objEnd},
		} {
			in, err := within(c[0], c[1], c[2])
			if err != nil {
				return nil, err
			}
			if in {
				overlap = true
				break
			}
		}
		if overlap {
			out = append(out, r)
		}
	}
	return out, nil
}
