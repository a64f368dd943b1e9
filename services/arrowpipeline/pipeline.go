// Package arrowpipeline serializes outcome aggregates as Apache Arrow IPC streams
package arrowpipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"qbenchsim/services/history"
	"qbenchsim/services/outcome"
)

// Config holds Arrow pipeline configuration
type Config struct {
	// BatchSize caps the rows of one IPC record; 0 writes each batch whole.
	BatchSize int
	// Compression is "", "zstd" or "lz4".
	Compression string
	Allocator   memory.Allocator
}

// Batch is one retrieval's aggregate, tagged with where it came from.
type Batch struct {
	RequestID string
	Dataset   string
	Key       history.Key
	Counts    outcome.Counts
}

// Schema is the row layout: one row per (retrieval, bitstring).
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "request_id", Type: arrow.BinaryTypes.String},
	{Name: "dataset", Type: arrow.BinaryTypes.String},
	{Name: "algorithm", Type: arrow.BinaryTypes.String},
	{Name: "size", Type: arrow.PrimitiveTypes.Int32},
	{Name: "backend", Type: arrow.BinaryTypes.String},
	{Name: "mirror", Type: arrow.FixedWidthTypes.Boolean},
	{Name: "bitstring", Type: arrow.BinaryTypes.String},
	{Name: "count", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// Pipeline handles Arrow IPC encoding and decoding
type Pipeline struct {
	config     Config
	memoryPool memory.Allocator
	logger     *zap.Logger
}

// NewPipeline creates a new Arrow pipeline
func NewPipeline(config *Config, logger *zap.Logger) (*Pipeline, error) {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}
	switch cfg.Compression {
	case "", "zstd", "lz4":
	default:
		return nil, fmt.Errorf("unsupported arrow compression %q", cfg.Compression)
	}
	pool := cfg.Allocator
	if pool == nil {
		pool = memory.NewGoAllocator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{config: cfg, memoryPool: pool, logger: logger}, nil
}

func (p *Pipeline) writerOptions() []ipc.Option {
	opts := []ipc.Option{ipc.WithSchema(Schema), ipc.WithAllocator(p.memoryPool)}
	switch p.config.Compression {
	case "zstd":
		opts = append(opts, ipc.WithZstd())
	case "lz4":
		opts = append(opts, ipc.WithLZ4())
	}
	return opts
}

// ConvertToArrow encodes batches as one IPC stream.
func (p *Pipeline) ConvertToArrow(batches []Batch) ([]byte, error) {
	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, p.writerOptions()...)
	for _, b := range batches {
		if err := p.writeBatch(writer, b); err != nil {
			writer.Close()
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Arrow stream: %w", err)
	}
	return buf.Bytes(), nil
}

// Stream writes batches to w as they arrive, ending the IPC stream when the
// channel closes.
func (p *Pipeline) Stream(ctx context.Context, batches <-chan Batch, w io.Writer) error {
	writer := ipc.NewWriter(w, p.writerOptions()...)
	written := 0
	for {
		select {
		case <-ctx.Done():
			writer.Close()
			return ctx.Err()
		case b, ok := <-batches:
			if !ok {
				p.logger.Debug("Arrow stream finished", zap.Int("batches", written))
				return writer.Close()
			}
			if err := p.writeBatch(writer, b); err != nil {
				writer.Close()
				return err
			}
			written++
		}
	}
}

func (p *Pipeline) writeBatch(writer *ipc.Writer, b Batch) error {
	keys := b.Counts.Keys()
	chunk := p.config.BatchSize
	if chunk <= 0 {
		chunk = len(keys)
	}
	for start := 0; start < len(keys); start += chunk {
		end := min(start+chunk, len(keys))
		rec := p.buildRecord(b, keys[start:end])
		err := writer.Write(rec)
		rec.Release()
		if err != nil {
			return fmt.Errorf("failed to write Arrow record: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) buildRecord(b Batch, keys []string) arrow.Record {
	rb := array.NewRecordBuilder(p.memoryPool, Schema)
	defer rb.Release()

	n := len(keys)
	for i := 0; i < n; i++ {
		rb.Field(0).(*array.StringBuilder).Append(b.RequestID)
		rb.Field(1).(*array.StringBuilder).Append(b.Dataset)
		rb.Field(2).(*array.StringBuilder).Append(b.Key.Algorithm)
		rb.Field(3).(*array.Int32Builder).Append(int32(b.Key.Size))
		rb.Field(4).(*array.StringBuilder).Append(b.Key.Backend)
		rb.Field(5).(*array.BooleanBuilder).Append(b.Key.Mirror)
	}
	bits := rb.Field(6).(*array.StringBuilder)
	counts := rb.Field(7).(*array.Int64Builder)
	for _, k := range keys {
		bits.Append(k)
		counts.Append(int64(b.Counts[k]))
	}
	return rb.NewRecord()
}

// ConvertFromArrow decodes an IPC stream back into batches. Rows of the same
// retrieval are regrouped in order of first appearance.
func (p *Pipeline) ConvertFromArrow(data []byte) ([]Batch, error) {
	rdr, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return nil, fmt.Errorf("failed to open Arrow stream: %w", err)
	}
	defer rdr.Release()

	if !rdr.Schema().Equal(Schema) {
		return nil, errors.New("unexpected Arrow schema")
	}

	var out []Batch
	index := map[string]int{}
	for rdr.Next() {
		rec := rdr.Record()
		reqIDs := rec.Column(0).(*array.String)
		datasets := rec.Column(1).(*array.String)
		algos := rec.Column(2).(*array.String)
		sizes := rec.Column(3).(*array.Int32)
		backends := rec.Column(4).(*array.String)
		mirrors := rec.Column(5).(*array.Boolean)
		bits := rec.Column(6).(*array.String)
		counts := rec.Column(7).(*array.Int64)

		for i := 0; i < int(rec.NumRows()); i++ {
			key := history.Key{
				Algorithm: algos.Value(i),
				Size:      int(sizes.Value(i)),
				Backend:   backends.Value(i),
				Mirror:    mirrors.Value(i),
			}
			id := fmt.Sprintf("%s\x00%s\x00%s", reqIDs.Value(i), datasets.Value(i), key)
			pos, ok := index[id]
			if !ok {
				pos = len(out)
				index[id] = pos
				out = append(out, Batch{
					RequestID: reqIDs.Value(i),
					Dataset:   datasets.Value(i),
					Key:       key,
					Counts:    outcome.Counts{},
				})
			}
			out[pos].Counts[bits.Value(i)] += int(counts.Value(i))
		}
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read Arrow record: %w", err)
	}
	return out, nil
}

// Close cleans up resources
func (p *Pipeline) Close() error {
	p.logger.Debug("Closing Arrow pipeline")
	return nil
}
