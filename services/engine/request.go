package engine

import (
	"strings"
	"time"

	"qbenchsim/services/errs"
	"qbenchsim/services/history"
	"qbenchsim/services/outcome"
	"qbenchsim/services/seed"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeRandom     Mode = "random"
)

// Request asks for shots of one history key.
type Request struct {
	Dataset   string `json:"dataset,omitempty"`
	Algorithm string `json:"algorithm"`
	Size      int    `json:"size"`
	Backend   string `json:"backend"`
	Mirror    bool   `json:"mirror"`
	Shots     int    `json:"shots"`
	Exact     bool   `json:"exact"`
	Random    bool   `json:"random"`
	Seed      *int64 `json:"seed,omitempty"`
}

// Key returns the history key the request targets.
func (r Request) Key() history.Key {
	return history.Key{Algorithm: r.Algorithm, Size: r.Size, Backend: r.Backend, Mirror: r.Mirror}
}

// Mode returns the retrieval strategy of the request.
func (r Request) Mode() Mode {
	if r.Random {
		return ModeRandom
	}
	return ModeSequential
}

// Validate checks the request without touching any state.
func (r Request) Validate() error {
	if r.Shots <= 0 {
		return errs.New(errs.CodeInvalidArgument, "shots must be > 0, got %d", r.Shots)
	}
	if strings.ContainsAny(r.Dataset, `/\`) || r.Dataset == "." || r.Dataset == ".." {
		return errs.New(errs.CodeInvalidArgument, "invalid dataset name %q", r.Dataset)
	}
	return r.Key().Validate()
}

// Result is a served retrieval together with the bookkeeping of how it was served.
type Result struct {
	RequestID string         `json:"request_id"`
	Dataset   string         `json:"dataset"`
	Key       history.Key    `json:"key"`
	Mode      Mode           `json:"mode"`
	Exact     bool           `json:"exact"`
	Requested int            `json:"requested"`
	Counts    outcome.Counts `json:"counts"`
	// RawTotal is the record shot total before exact resampling.
	RawTotal int `json:"raw_total"`
	// Consumed counts stream positions taken (sequential) or draws made (random).
	Consumed    int           `json:"consumed"`
	Lines       int           `json:"lines"`
	CursorStart int           `json:"cursor_start"`
	CursorEnd   int           `json:"cursor_end"`
	Seeds       seed.Seeds    `json:"seeds"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Total is the shot total of the returned aggregate.
func (r *Result) Total() int { return r.Counts.Total() }

// FetchOption adjusts a Request built by FetchOutcomes.
type FetchOption func(*Request)

// Mirror targets the mirror-circuit history.
func Mirror() FetchOption { return func(r *Request) { r.Mirror = true } }

// Exact forces the returned total to equal the requested shots.
func Exact() FetchOption { return func(r *Request) { r.Exact = true } }

// Random samples records independently instead of following the cursor.
func Random() FetchOption { return func(r *Request) { r.Random = true } }

// WithSeed makes random and exact retrievals reproducible.
func WithSeed(s int64) FetchOption { return func(r *Request) { r.Seed = &s } }

// WithDataset selects a dataset other than the configured default.
func WithDataset(name string) FetchOption { return func(r *Request) { r.Dataset = name } }
