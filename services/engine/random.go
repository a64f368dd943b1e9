package engine

import (
	"context"
	"math/rand/v2"

	"qbenchsim/services/errs"
	"qbenchsim/services/history"
	"qbenchsim/services/outcome"
)

// random draws positions uniformly with replacement. Draws are resolved a
// batch at a time with one streaming pass per batch; draws landing on blank,
// malformed or non-positive records are discarded.
func (e *Engine) random(ctx context.Context, f *history.File, n int, req Request, res *Result) error {
	rng := rand.New(e.newSource(res.Seeds.Sampling))
	counts := outcome.Counts{}
	total, draws := 0, 0
	batch := DefaultRandomBatchMin
	first := true

	for {
		picks := make([]int, batch)
		want := make(map[int]struct{}, batch)
		last := 0
		for i := range picks {
			p := rng.IntN(n)
			picks[i] = p
			want[p] = struct{}{}
			last = max(last, p)
		}

		// The first pass walks the whole file to learn whether any record
		// is usable at all; later passes stop after the furthest draw.
		records := make(map[int]history.Record, len(want))
		valid := 0
		err := f.Scan(ctx, 0, func(pos int, rec history.Record, ok bool) bool {
			if pos >= n {
				return false
			}
			if ok && rec.Valid() {
				valid++
				if _, hit := want[pos]; hit {
					records[pos] = rec
				}
			}
			return first || pos < last
		})
		if err != nil {
			return err
		}
		if first && valid == 0 {
			return errs.New(errs.CodeNoData, "no positive-shot record in %s", f.Path)
		}
		first = false

		for _, p := range picks {
			draws++
			rec, ok := records[p]
			if !ok {
				continue
			}
			if !req.Exact && rec.Shots > req.Shots-total {
				return e.doneRandom(counts, total, draws, req, res)
			}
			counts.Merge(rec.Data)
			total = addShots(total, rec.Shots)
			if total >= req.Shots {
				return e.doneRandom(counts, total, draws, req, res)
			}
		}
		batch = min(batch*2, e.cfg.RandomBatchMax)
	}
}

func (e *Engine) doneRandom(counts outcome.Counts, total, draws int, req Request, res *Result) error {
	res.Consumed = draws
	return e.finish(counts, total, req, res)
}
