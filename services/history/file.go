package history

// History file access: locate, decode, count and stream records by position

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"qbenchsim/services/errs"
)

// Extensions lists the accepted history file suffixes in lookup order.
var Extensions = []string{".jsonl", ".jsonl.gz", ".jsonl.zst"}

const (
	// HistoriesDir is the folder of a dataset holding the circuit and mirror histories.
	HistoriesDir = "histories"

	maxLineBytes  = 64 << 20
	ctxCheckEvery = 256
)

// Visitor receives one position of a history file. ok is false for blank or
// malformed lines. Returning false stops the walk.
type Visitor func(pos int, rec Record, ok bool) bool

// File is a located history file. It holds no open handle; every pass opens
// the file afresh.
type File struct {
	Path string
	Key  Key
	log  *zap.Logger
}

// Open wraps an existing path as a history file.
func Open(path string, key Key, log *zap.Logger) *File {
	if log == nil {
		log = zap.NewNop()
	}
	return &File{Path: path, Key: key, log: log}
}

// Locate resolves key inside datasetDir. The first existing extension wins.
func Locate(datasetDir string, key Key, log *zap.Logger) (*File, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if st, err := os.Stat(datasetDir); err != nil || !st.IsDir() {
		return nil, errs.New(errs.CodeNotFound, "dataset directory %s not found", datasetDir)
	}

	base := filepath.Join(datasetDir, HistoriesDir, key.Kind(), key.Stem())
	for _, ext := range Extensions {
		p := base + ext
		st, err := os.Stat(p)
		if err == nil && st.Mode().IsRegular() {
			return Open(p, key, log), nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Wrap(errs.CodeInternal, err, "stat %s", p)
		}
	}
	return nil, errs.New(errs.CodeNotFound, "history file for %s not found under %s", key, datasetDir)
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type closerFunc func()

func (f closerFunc) Close() error { f(); return nil }

// open returns the decoded text of the file: decompressed by extension, BOM
// stripped and UTF-16 transcoded to UTF-8.
func (f *File) open() (io.ReadCloser, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.Wrap(errs.CodeNotFound, err, "history file %s vanished", f.Path)
		}
		return nil, errs.Wrap(errs.CodeInternal, err, "open %s", f.Path)
	}
	rc := &readCloser{Reader: fh, closers: []io.Closer{fh}}

	switch {
	case strings.HasSuffix(f.Path, ".gz"):
		zr, err := gzip.NewReader(fh)
		if err != nil {
			rc.Close()
			return nil, errs.Wrap(errs.CodeInternal, err, "gzip header %s", f.Path)
		}
		rc.Reader = zr
		rc.closers = append(rc.closers, zr)
	case strings.HasSuffix(f.Path, ".zst"):
		zr, err := zstd.NewReader(fh)
		if err != nil {
			rc.Close()
			return nil, errs.Wrap(errs.CodeInternal, err, "zstd reader %s", f.Path)
		}
		rc.Reader = zr
		rc.closers = append(rc.closers, closerFunc(zr.Close))
	}

	rc.Reader = transform.NewReader(rc.Reader, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	return rc, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	return sc
}

// Count is the preliminary pass: it returns the number of lines n. A file
// without a single non-blank line is an empty source.
func (f *File) Count(ctx context.Context) (int, error) {
	rc, err := f.open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	lines, nonBlank := 0, 0
	sc := newScanner(rc)
	for sc.Scan() {
		if lines%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		lines++
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			nonBlank++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, errs.Wrap(errs.CodeInternal, err, "read %s", f.Path)
	}
	if lines == 0 || nonBlank == 0 {
		return 0, errs.New(errs.CodeEmptySource, "history file %s has no records", f.Path)
	}
	f.log.Debug("history file counted",
		zap.String("file", f.Path),
		zap.Int("lines", lines),
		zap.Int("non_blank", nonBlank))
	return lines, nil
}

// Scan walks positions from, from+1, ... in file order in one pass and hands
// each one to fn. Lines before from are skipped without parsing.
func (f *File) Scan(ctx context.Context, from int, fn Visitor) error {
	rc, err := f.open()
	if err != nil {
		return err
	}
	defer rc.Close()

	sc := newScanner(rc)
	for pos := 0; sc.Scan(); pos++ {
		if pos%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if pos < from {
			continue
		}
		rec, ok := f.parse(pos, sc.Bytes())
		if !fn(pos, rec, ok) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return errs.Wrap(errs.CodeInternal, err, "read %s", f.Path)
	}
	return nil
}

func (f *File) parse(pos int, line []byte) (Record, bool) {
	if len(bytes.TrimSpace(line)) == 0 {
		f.log.Debug("skipping blank history line", zap.String("file", f.Path), zap.Int("position", pos))
		return Record{}, false
	}
	rec, err := ParseRecord(line)
	if err != nil {
		f.log.Warn("skipping malformed history line",
			zap.String("file", f.Path),
			zap.Int("position", pos),
			zap.Error(err))
		return Record{}, false
	}
	return rec, true
}

// Cycle visits positions start, ..., n-1, 0, ..., n-1, 0, ... until fn
// returns false. Lines appended after n was counted are ignored.
func (f *File) Cycle(ctx context.Context, start, n int, fn Visitor) error {
	if n <= 0 {
		return errs.New(errs.CodeEmptySource, "history file %s has no records", f.Path)
	}
	from := Wrap(start, n)
	for {
		visited := 0
		stopped := false
		err := f.Scan(ctx, from, func(pos int, rec Record, ok bool) bool {
			if pos >= n {
				return false
			}
			visited++
			if !fn(pos, rec, ok) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if stopped {
			return nil
		}
		if visited == 0 {
			return errs.New(errs.CodeInternal, "history file %s shrank below %d lines", f.Path, n)
		}
		from = 0
	}
}

// Wrap normalizes pos into [0, n).
func Wrap(pos, n int) int {
	if n <= 0 {
		return 0
	}
	pos %= n
	if pos < 0 {
		pos += n
	}
	return pos
}

func (f *File) String() string { return fmt.Sprintf("%s (%s)", f.Key, f.Path) }
