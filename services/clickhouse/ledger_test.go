package clickhouse

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"qbenchsim/services/engine"
	"qbenchsim/services/history"
	"qbenchsim/services/outcome"
	"qbenchsim/services/seed"
)

func result(id string) *engine.Result {
	return &engine.Result{
		RequestID:   id,
		Dataset:     "ds",
		Key:         history.Key{Algorithm: "dj", Size: 4, Backend: "sim", Mirror: true},
		Mode:        engine.ModeSequential,
		Exact:       true,
		Requested:   15,
		Counts:      outcome.Counts{"00": 9, "01": 6},
		RawTotal:    20,
		Consumed:    2,
		Lines:       3,
		CursorStart: 0,
		CursorEnd:   2,
		Seeds:       seed.Seeds{Sampling: 11, Exact: 12},
		StartedAt:   time.Unix(1700000000, 0),
		Elapsed:     1500 * time.Microsecond,
	}
}

func TestRowFromResult(t *testing.T) {
	r := RowFromResult(result("a"))
	if r.Total != 15 || r.RawTotal != 20 || r.Size != 4 || !r.Mirror || r.Mode != "sequential" {
		t.Fatalf("row %+v", r)
	}
	if r.ElapsedMs.String() != "1.5" {
		t.Fatalf("elapsed %s", r.ElapsedMs)
	}
	if r.SamplingSeed != 11 || r.ExactSeed != 12 || r.CursorEnd != 2 {
		t.Fatalf("row %+v", r)
	}
}

func TestRecordFlushesFullBatches(t *testing.T) {
	var sent [][]Row
	l := newLedger("qbench.retrievals", 2, nil)
	l.flush = func(_ context.Context, rows []Row) error {
		sent = append(sent, append([]Row(nil), rows...))
		return nil
	}

	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := l.Record(ctx, result(id)); err != nil {
			t.Fatal(err)
		}
	}
	if len(sent) != 1 || len(sent[0]) != 2 || l.Pending() != 1 {
		t.Fatalf("sent %d batches, pending %d", len(sent), l.Pending())
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 2 || sent[1][0].RequestID != "c" || l.Pending() != 0 {
		t.Fatalf("close did not flush: %v", sent)
	}
}

func TestFailedFlushKeepsRows(t *testing.T) {
	fail := true
	l := newLedger("qbench.retrievals", 1, nil)
	l.flush = func(context.Context, []Row) error {
		if fail {
			return errors.New("connection refused")
		}
		return nil
	}

	for i := 0; i < 6; i++ {
		if err := l.Record(context.Background(), result("x")); err == nil {
			t.Fatal("expected flush error")
		}
	}
	if l.Pending() != 4 {
		t.Fatalf("pending %d, want capped at 4", l.Pending())
	}
	fail = false
	if err := l.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.Pending() != 0 {
		t.Fatalf("pending %d after recovery", l.Pending())
	}
}

func TestRecordDoesNotWaitForInsert(t *testing.T) {
	l := newLedger("qbench.retrievals", 2, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	l.flush = func(context.Context, []Row) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}

	ctx := context.Background()
	flushed := make(chan error, 1)
	go func() {
		if err := l.Record(ctx, result("a")); err != nil {
			flushed <- err
			return
		}
		flushed <- l.Record(ctx, result("b"))
	}()
	<-started

	recorded := make(chan error, 1)
	go func() { recorded <- l.Record(ctx, result("c")) }()
	select {
	case err := <-recorded:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked behind an in-flight insert")
	}
	if l.Pending() != 1 {
		t.Fatalf("pending %d", l.Pending())
	}

	close(release)
	if err := <-flushed; err != nil {
		t.Fatal(err)
	}
}

func TestCreateTableSQL(t *testing.T) {
	ddl := createTableSQL("qbench.retrievals")
	for _, want := range []string{"qbench.retrievals", "MergeTree", "elapsed_ms    Decimal(18, 3)", "cursor_end"} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q", want)
		}
	}
}
