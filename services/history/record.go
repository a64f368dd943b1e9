package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Record is one line of a history file: a batch of shots and the outcome
// counts it produced. Shots drives budget accounting, Data is the payload.
type Record struct {
	Shots int            `json:"shots"`
	Data  map[string]int `json:"data"`
}

// Valid reports whether the record contributes shots.
func (r Record) Valid() bool { return r.Shots > 0 }

type rawRecord struct {
	Shots json.Number            `json:"shots"`
	Data  map[string]json.Number `json:"data"`
}

// ParseRecord decodes one history line. Numbers may be integral or floating
// (truncated toward zero); a missing shots field reads as 0.
func ParseRecord(line []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var raw rawRecord
	if err := dec.Decode(&raw); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if dec.More() {
		return Record{}, fmt.Errorf("decode record: trailing data")
	}

	shots, err := parseCount(raw.Shots)
	if err != nil {
		return Record{}, fmt.Errorf("shots: %w", err)
	}

	rec := Record{Shots: shots, Data: make(map[string]int, len(raw.Data))}
	for bits, n := range raw.Data {
		cnt, err := parseCount(n)
		if err != nil {
			return Record{}, fmt.Errorf("count for %q: %w", bits, err)
		}
		if cnt < 0 {
			return Record{}, fmt.Errorf("count for %q: negative value %d", bits, cnt)
		}
		rec.Data[bits] = cnt
	}
	return rec, nil
}

func parseCount(n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a number: %q", string(n))
	}
	if f >= float64(math.MaxInt64) || f < float64(math.MinInt64) {
		return 0, fmt.Errorf("out of range: %q", string(n))
	}
	return int(math.Trunc(f)), nil
}
