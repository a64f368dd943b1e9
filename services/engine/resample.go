package engine

import (
	"gonum.org/v1/gonum/stat/distuv"

	"qbenchsim/services/errs"
	"qbenchsim/services/outcome"
	"qbenchsim/services/seed"
)

// Resample draws shots outcomes from the distribution given by counts.
// Bitstrings are weighted in lexicographic order so a fixed source gives a
// fixed result.
func Resample(counts outcome.Counts, shots int, src seed.Source) (outcome.Counts, error) {
	if counts.Total() <= 0 {
		return nil, errs.New(errs.CodeNoData, "no counts available for sampling")
	}
	keys := counts.Keys()
	weights := make([]float64, len(keys))
	for i, bits := range keys {
		weights[i] = float64(counts[bits])
	}

	cat := distuv.NewCategorical(weights, src)
	out := make(outcome.Counts, len(keys))
	for i := 0; i < shots; i++ {
		out[keys[int(cat.Rand())]]++
	}
	return out, nil
}
