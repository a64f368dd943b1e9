package engine

import (
	"context"
	"math"

	"qbenchsim/services/errs"
	"qbenchsim/services/history"
	"qbenchsim/services/outcome"
)

// sequential consumes positions from start and returns the next cursor.
// It runs inside the key's critical section.
func (e *Engine) sequential(ctx context.Context, f *history.File, n, start int, req Request, res *Result) (int, error) {
	counts := outcome.Counts{}
	total, consumed := 0, 0

	// Main pass: at most one full cycle. In non-exact mode a record that
	// would overshoot ends the pass and is left for the next call.
	err := f.Cycle(ctx, start, n, func(_ int, rec history.Record, ok bool) bool {
		if consumed >= n {
			return false
		}
		if ok && rec.Valid() {
			if !req.Exact && rec.Shots > req.Shots-total {
				return false
			}
			counts.Merge(rec.Data)
			total = addShots(total, rec.Shots)
		}
		consumed++
		return total < req.Shots
	})
	if err != nil {
		return 0, err
	}

	// Exact overshoot: keep going from where the main pass stopped, through
	// as many wraparounds as needed. Only reached after a full cycle, so a
	// zero total means the file holds no usable record.
	if req.Exact && total < req.Shots && total > 0 {
		idle := 0
		err = f.Cycle(ctx, start+consumed, n, func(_ int, rec history.Record, ok bool) bool {
			consumed++
			if ok && rec.Valid() {
				counts.Merge(rec.Data)
				total = addShots(total, rec.Shots)
				idle = 0
			} else {
				idle++
				if idle >= n {
					return false
				}
			}
			return total < req.Shots
		})
		if err != nil {
			return 0, err
		}
	}

	if req.Exact && total == 0 {
		return 0, errs.New(errs.CodeNoData, "no positive-shot record in %s", f.Path)
	}
	if err := e.finish(counts, total, req, res); err != nil {
		return 0, err
	}

	next := history.Wrap(start+consumed, n)
	res.Consumed = consumed
	res.CursorStart = start
	res.CursorEnd = next
	return next, nil
}

// addShots adds n to total, saturating at math.MaxInt.
func addShots(total, n int) int {
	if n > math.MaxInt-total {
		return math.MaxInt
	}
	return total + n
}
