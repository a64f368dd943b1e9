// Package engine serves shot requests from history files.
//
// Sequential retrievals continue from a per-key cursor so successive calls
// read disjoint windows of the file; random retrievals draw records with
// replacement and leave the cursor alone. Exact retrievals overshoot the
// requested shots and resample the raw aggregate down to exactly that many.
package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qbenchsim/services/cursor"
	"qbenchsim/services/errs"
	"qbenchsim/services/history"
	"qbenchsim/services/outcome"
	"qbenchsim/services/seed"
)

// Ledger records served retrievals. Failures are logged, never surfaced.
type Ledger interface {
	Record(ctx context.Context, res *Result) error
}

type slotKey struct {
	dataset string
	key     history.Key
}

// Engine answers shot requests. It is safe for concurrent use.
type Engine struct {
	cfg       Config
	cursors   *cursor.Registry[slotKey]
	newSource seed.Factory
	ledger    Ledger
	log       *zap.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithSourceFactory replaces the MT19937 default used for sampling and resampling.
func WithSourceFactory(f seed.Factory) Option {
	return func(e *Engine) {
		if f != nil {
			e.newSource = f
		}
	}
}

// WithLedger records every successful retrieval.
func WithLedger(l Ledger) Option { return func(e *Engine) { e.ledger = l } }

// New returns an engine with an empty cursor registry.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		cursors:   cursor.New[slotKey](),
		newSource: seed.NewSource,
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// DatasetDir returns the directory of dataset, or of the default dataset.
func (e *Engine) DatasetDir(dataset string) string {
	if dataset == "" {
		dataset = e.cfg.Dataset
	}
	return filepath.Join(e.cfg.DatasetsPath, dataset)
}

// FetchOutcomes returns an aggregate of shots for (algorithm, size, backend).
// Sequential non-exact by default; the aggregate total never exceeds shots
// and equals it under Exact.
func (e *Engine) FetchOutcomes(ctx context.Context, algorithm string, size int, backend string, shots int, opts ...FetchOption) (outcome.Counts, error) {
	req := Request{Algorithm: algorithm, Size: size, Backend: backend, Shots: shots}
	for _, opt := range opts {
		opt(&req)
	}
	res, err := e.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Counts, nil
}

// Fetch serves req and reports how it was served.
func (e *Engine) Fetch(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Dataset == "" {
		req.Dataset = e.cfg.Dataset
	}

	started := e.now()
	res := &Result{
		RequestID: uuid.NewString(),
		Dataset:   req.Dataset,
		Key:       req.Key(),
		Mode:      req.Mode(),
		Exact:     req.Exact,
		Requested: req.Shots,
		StartedAt: started,
	}
	log := e.log.With(
		zap.String("request_id", res.RequestID),
		zap.String("dataset", req.Dataset),
		zap.Stringer("key", res.Key),
		zap.String("mode", string(res.Mode)),
		zap.Bool("exact", req.Exact),
		zap.Int("shots", req.Shots))

	f, err := history.Locate(e.DatasetDir(req.Dataset), res.Key, e.log)
	if err != nil {
		return nil, err
	}
	n, err := f.Count(ctx)
	if err != nil {
		return nil, err
	}
	res.Lines = n

	seeds, err := seed.Derive(req.Seed)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "derive seeds")
	}
	res.Seeds = seeds

	if req.Random {
		err = e.random(ctx, f, n, req, res)
	} else {
		err = e.cursors.Consume(slotKey{req.Dataset, res.Key}, func(start int) (int, error) {
			return e.sequential(ctx, f, n, history.Wrap(start, n), req, res)
		})
	}
	if err != nil {
		log.Debug("retrieval failed", zap.Error(err))
		return nil, err
	}
	res.Elapsed = e.now().Sub(started)

	log.Info("retrieval served",
		zap.Int("total", res.Total()),
		zap.Int("raw_total", res.RawTotal),
		zap.Int("consumed", res.Consumed),
		zap.Int("cursor_start", res.CursorStart),
		zap.Int("cursor_end", res.CursorEnd),
		zap.Duration("elapsed", res.Elapsed))

	if e.ledger != nil {
		if err := e.ledger.Record(ctx, res); err != nil {
			log.Warn("ledger record failed", zap.Error(err))
		}
	}
	return res, nil
}

// Cursor returns the stored position of key in dataset.
func (e *Engine) Cursor(dataset string, key history.Key) int {
	if dataset == "" {
		dataset = e.cfg.Dataset
	}
	return e.cursors.Read(slotKey{dataset, key})
}

// ResetCursor rewinds key in dataset to the start of its history.
func (e *Engine) ResetCursor(dataset string, key history.Key) {
	if dataset == "" {
		dataset = e.cfg.Dataset
	}
	e.cursors.Reset(slotKey{dataset, key})
}

// finish resamples exact retrievals down to the requested shots.
func (e *Engine) finish(counts outcome.Counts, total int, req Request, res *Result) error {
	res.RawTotal = total
	if !req.Exact {
		res.Counts = counts
		return nil
	}
	sampled, err := Resample(counts, req.Shots, e.newSource(res.Seeds.Exact))
	if err != nil {
		return err
	}
	res.Counts = sampled
	return nil
}
