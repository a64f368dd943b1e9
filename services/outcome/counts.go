package outcome

// Outcome aggregates: bitstring -> accumulated count

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Counts maps a measured bitstring to the number of shots that produced it.
type Counts map[string]int

// Total returns the sum of all counts, saturating at math.MaxInt.
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		if n > math.MaxInt-total {
			return math.MaxInt
		}
		total += n
	}
	return total
}

// Merge adds every count of other into c. Sums saturate at math.MaxInt.
func (c Counts) Merge(other map[string]int) {
	for bits, n := range other {
		if cur := c[bits]; n > 0 && cur > math.MaxInt-n {
			c[bits] = math.MaxInt
			continue
		}
		c[bits] += n
	}
}

// Keys returns the bitstrings in lexicographic order.
func (c Counts) Keys() []string {
	keys := make([]string, 0, len(c))
	for bits := range c {
		keys = append(keys, bits)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for bits, n := range c {
		out[bits] = n
	}
	return out
}

// Proportions returns each bitstring's share of the total rounded to places
// decimal digits. An empty aggregate yields an empty map.
func (c Counts) Proportions(places int32) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c))
	total := c.Total()
	if total == 0 {
		return out
	}
	denom := decimal.NewFromInt(int64(total))
	for bits, n := range c {
		out[bits] = decimal.NewFromInt(int64(n)).DivRound(denom, places)
	}
	return out
}
