// Package dataset acquires datasets and answers questions about their
// contents: which histories they hold, and the backend and circuit metadata
// recorded in their summary files.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"qbenchsim/services/errs"
	"qbenchsim/services/history"
)

// Triple names a history independently of its circuit/mirror kind.
type Triple struct {
	Algorithm string `json:"algorithm"`
	Size      int    `json:"size"`
	Backend   string `json:"backend"`
}

// Key returns the history key of the triple.
func (t Triple) Key(mirror bool) history.Key {
	return history.Key{Algorithm: t.Algorithm, Size: t.Size, Backend: t.Backend, Mirror: mirror}
}

func (t Triple) String() string { return fmt.Sprintf("%s_%d_%s", t.Algorithm, t.Size, t.Backend) }

func lessTriple(a, b Triple) bool {
	if a.Algorithm != b.Algorithm {
		return a.Algorithm < b.Algorithm
	}
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	return a.Backend < b.Backend
}

// ParseStem splits <algorithm>_<size>_<backend> on its first two underscores.
func ParseStem(stem string) (Triple, bool) {
	parts := strings.SplitN(stem, "_", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return Triple{}, false
	}
	size, err := strconv.Atoi(parts[1])
	if err != nil {
		return Triple{}, false
	}
	return Triple{Algorithm: parts[0], Size: size, Backend: parts[2]}, true
}

// Catalog reads datasets stored under a root directory.
type Catalog struct {
	root  string
	cache *IndexCache
	log   *zap.Logger
}

// NewCatalog returns a catalog over root. A nil cache disables memoization.
func NewCatalog(root string, cache *IndexCache, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{root: root, cache: cache, log: log}
}

// Root returns the directory holding the datasets.
func (c *Catalog) Root() string { return c.root }

// Dir returns the directory of dataset name.
func (c *Catalog) Dir(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", errs.New(errs.CodeInvalidArgument, "invalid dataset name %q", name)
	}
	return filepath.Join(c.root, name), nil
}

// Invalidate forgets the cached index of name.
func (c *Catalog) Invalidate(name string) {
	if c.cache != nil {
		c.cache.Invalidate(name)
	}
}

// Index lists the distinct triples with a circuit or mirror history in name,
// sorted by algorithm, size and backend.
func (c *Catalog) Index(name string) ([]Triple, error) {
	if c.cache != nil {
		if triples, ok := c.cache.Get(name); ok {
			return triples, nil
		}
	}
	dir, err := c.Dir(name)
	if err != nil {
		return nil, err
	}
	base := filepath.Join(dir, history.HistoriesDir)
	if st, err := os.Stat(base); err != nil || !st.IsDir() {
		return nil, errs.New(errs.CodeNotFound, "no histories directory under %s", base)
	}

	seen := make(map[Triple]struct{})
	for _, kind := range []string{history.KindCircuit, history.KindMirror} {
		kindDir := filepath.Join(base, kind)
		entries, err := os.ReadDir(kindDir)
		if errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("missing history folder", zap.String("dataset", name), zap.String("kind", kind))
			continue
		}
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternal, err, "list %s", kindDir)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			stem, ok := historyStem(e.Name())
			if !ok {
				continue
			}
			t, ok := ParseStem(stem)
			if !ok {
				c.log.Debug("skipping history with unexpected name", zap.String("file", e.Name()))
				continue
			}
			seen[t] = struct{}{}
		}
	}

	triples := make([]Triple, 0, len(seen))
	for t := range seen {
		triples = append(triples, t)
	}
	sort.Slice(triples, func(i, j int) bool { return lessTriple(triples[i], triples[j]) })

	c.log.Info("built dataset index", zap.String("dataset", name), zap.Int("entries", len(triples)))
	if c.cache != nil {
		c.cache.Put(name, triples)
	}
	return triples, nil
}

func historyStem(file string) (string, bool) {
	for _, ext := range history.Extensions {
		if strings.HasSuffix(file, ext) {
			return strings.TrimSuffix(file, ext), true
		}
	}
	return "", false
}

// Summary is the metadata document stored next to the histories.
type Summary struct {
	Metadata struct {
		Backend map[string]any `json:"backend"`
		Circuit struct {
			Circuit string `json:"circuit"`
			Mirror  string `json:"mirror"`
		} `json:"circuit"`
	} `json:"metadata"`
}

// Summary loads the first summary file of t in name, in file name order.
func (c *Catalog) Summary(name string, t Triple) (*Summary, error) {
	dir, err := c.Dir(name)
	if err != nil {
		return nil, err
	}
	pattern := filepath.Join(dir, fmt.Sprintf("%s_*.json", escapeGlob(t.String())))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "glob %s", pattern)
	}
	if len(matches) == 0 {
		return nil, errs.New(errs.CodeNotFound, "no summary files matching %s_*.json in %s", t, dir)
	}
	sort.Strings(matches)

	raw, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "read %s", matches[0])
	}
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "decode %s", matches[0])
	}
	return &s, nil
}

// Backend returns the backend description recorded for t.
func (c *Catalog) Backend(name string, t Triple) (map[string]any, error) {
	s, err := c.Summary(name, t)
	if err != nil {
		return nil, err
	}
	if s.Metadata.Backend == nil {
		return map[string]any{}, nil
	}
	return s.Metadata.Backend, nil
}

// Circuit returns the QASM source of the circuit, or of its mirror.
func (c *Catalog) Circuit(name string, t Triple, mirror bool) (string, error) {
	s, err := c.Summary(name, t)
	if err != nil {
		return "", err
	}
	qasm := s.Metadata.Circuit.Circuit
	if mirror {
		qasm = s.Metadata.Circuit.Mirror
	}
	if qasm == "" {
		return "", errs.New(errs.CodeNotFound, "no QASM circuit for %s (mirror=%t)", t, mirror)
	}
	return qasm, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`)
	return r.Replace(s)
}
