package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"qbenchsim/services/engine"
)

// Config locates the ledger table.
type Config struct {
	Addr      string
	Database  string
	User      string
	Password  string
	Table     string
	BatchSize int
	Timeout   time.Duration
}

// Row is one served retrieval as stored in ClickHouse.
type Row struct {
	RequestID    string
	Dataset      string
	Algorithm    string
	Size         uint32
	Backend      string
	Mirror       bool
	Mode         string
	Exact        bool
	Requested    uint64
	Total        uint64
	RawTotal     uint64
	Consumed     uint64
	Lines        uint64
	CursorStart  uint64
	CursorEnd    uint64
	SamplingSeed uint64
	ExactSeed    uint64
	StartedAt    time.Time
	ElapsedMs    decimal.Decimal
}

// RowFromResult flattens an engine result into a ledger row.
func RowFromResult(res *engine.Result) Row {
	return Row{
		RequestID:    res.RequestID,
		Dataset:      res.Dataset,
		Algorithm:    res.Key.Algorithm,
		Size:         uint32(res.Key.Size),
		Backend:      res.Key.Backend,
		Mirror:       res.Key.Mirror,
		Mode:         string(res.Mode),
		Exact:        res.Exact,
		Requested:    uint64(res.Requested),
		Total:        uint64(res.Total()),
		RawTotal:     uint64(res.RawTotal),
		Consumed:     uint64(res.Consumed),
		Lines:        uint64(res.Lines),
		CursorStart:  uint64(res.CursorStart),
		CursorEnd:    uint64(res.CursorEnd),
		SamplingSeed: res.Seeds.Sampling,
		ExactSeed:    res.Seeds.Exact,
		StartedAt:    res.StartedAt,
		ElapsedMs:    decimal.NewFromInt(res.Elapsed.Microseconds()).Shift(-3),
	}
}

// Ledger buffers retrieval rows and inserts them into ClickHouse in batches.
// It implements engine.Ledger.
type Ledger struct {
	conn      driver.Conn
	table     string
	batchSize int
	logger    *zap.Logger

	mu     sync.Mutex
	buffer []Row
	flush  func(ctx context.Context, rows []Row) error
}

// NewLedger connects to ClickHouse and creates the ledger table if needed.
func NewLedger(ctx context.Context, cfg Config, logger *zap.Logger) (*Ledger, error) {
	conn, err := ch.Open(&ch.Options{
		Addr: []string{cfg.Addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: cfg.Timeout,
		Compression: &ch.Compression{Method: ch.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	l := newLedger(fmt.Sprintf("%s.%s", cfg.Database, cfg.Table), cfg.BatchSize, logger)
	l.conn = conn
	l.flush = l.send
	if err := l.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

func newLedger(table string, batchSize int, logger *zap.Logger) *Ledger {
	if batchSize <= 0 {
		batchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		table:     table,
		batchSize: batchSize,
		logger:    logger,
		buffer:    make([]Row, 0, batchSize),
	}
}

// EnsureSchema creates the ledger table.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if err := l.conn.Exec(ctx, createTableSQL(l.table)); err != nil {
		return fmt.Errorf("failed to create ledger table %s: %w", l.table, err)
	}
	return nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			request_id    String,
			dataset       LowCardinality(String),
			algorithm     LowCardinality(String),
			size          UInt32,
			backend       LowCardinality(String),
			mirror        Bool,
			mode          LowCardinality(String),
			exact         Bool,
			requested     UInt64,
			total         UInt64,
			raw_total     UInt64,
			consumed      UInt64,
			lines         UInt64,
			cursor_start  UInt64,
			cursor_end    UInt64,
			sampling_seed UInt64,
			exact_seed    UInt64,
			started_at    DateTime64(3),
			elapsed_ms    Decimal(18, 3)
		)
		ENGINE = MergeTree
		ORDER BY (dataset, algorithm, size, backend, started_at)`, table)
}

// Record buffers one retrieval and flushes when the batch is full. The
// insert runs outside the buffer lock.
func (l *Ledger) Record(ctx context.Context, res *engine.Result) error {
	l.mu.Lock()
	l.buffer = append(l.buffer, RowFromResult(res))
	if len(l.buffer) < l.batchSize {
		l.mu.Unlock()
		return nil
	}
	rows := l.take()
	l.mu.Unlock()
	return l.sendRows(ctx, rows)
}

// Flush inserts every buffered row.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	rows := l.take()
	l.mu.Unlock()
	return l.sendRows(ctx, rows)
}

// take swaps the buffer out. Callers hold l.mu.
func (l *Ledger) take() []Row {
	rows := l.buffer
	l.buffer = make([]Row, 0, l.batchSize)
	return rows
}

// sendRows inserts rows. Rows that fail to send go back in front of the
// buffer for the next flush, up to four batches; older ones are dropped.
func (l *Ledger) sendRows(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := l.flush(ctx, rows); err != nil {
		l.mu.Lock()
		l.buffer = append(rows, l.buffer...)
		if limit := 4 * l.batchSize; len(l.buffer) > limit {
			dropped := len(l.buffer) - limit
			l.buffer = append([]Row(nil), l.buffer[dropped:]...)
			l.logger.Warn("dropping unsent ledger rows", zap.Int("rows", dropped))
		}
		l.mu.Unlock()
		return fmt.Errorf("flush error: %w", err)
	}
	l.logger.Debug("ledger rows inserted", zap.Int("rows", len(rows)), zap.String("table", l.table))
	return nil
}

// Pending returns the number of buffered rows.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

func (l *Ledger) send(ctx context.Context, rows []Row) error {
	batch, err := l.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", l.table))
	if err != nil {
		return fmt.Errorf("prepare batch error: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(
			r.RequestID, r.Dataset, r.Algorithm, r.Size, r.Backend, r.Mirror,
			r.Mode, r.Exact, r.Requested, r.Total, r.RawTotal, r.Consumed, r.Lines,
			r.CursorStart, r.CursorEnd, r.SamplingSeed, r.ExactSeed, r.StartedAt, r.ElapsedMs,
		); err != nil {
			batch.Abort()
			return fmt.Errorf("append error: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send error: %w", err)
	}
	return nil
}

// Close flushes the buffer and closes the connection.
func (l *Ledger) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := l.Flush(ctx)
	if l.conn != nil {
		if cerr := l.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
