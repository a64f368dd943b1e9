package dataset

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"qbenchsim/services/errs"
)

func touch(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseStem(t *testing.T) {
	cases := []struct {
		stem string
		want Triple
		ok   bool
	}{
		{"dj_12_fake_sherbrooke", Triple{"dj", 12, "fake_sherbrooke"}, true},
		{"ghz_3_sim", Triple{"ghz", 3, "sim"}, true},
		{"ghz_x_sim", Triple{}, false},
		{"ghz_3", Triple{}, false},
		{"qaoa_maxcut_4_sim", Triple{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseStem(tc.stem)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseStem(%q) = %v, %v", tc.stem, got, ok)
		}
	}
}

func TestStemOf(t *testing.T) {
	for in, want := range map[string]string{
		"dataset.zip":    "dataset",
		"data.TAR.GZ":    "data",
		"d.tgz":          "d",
		"d.tar.zst":      "d",
		"plain":          "plain",
		"weird.tar.bz2":  "weird",
		"archive.tar.xz": "archive",
		"nested.v1.tar":  "nested.v1",
	} {
		if got := StemOf(in); got != want {
			t.Errorf("StemOf(%q) = %q", in, got)
		}
	}
}

func TestIndex(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "ds", "histories")
	touch(t, filepath.Join(base, "circuit", "dj_12_fake_sherbrooke.jsonl"), "")
	touch(t, filepath.Join(base, "circuit", "ghz_3_sim.jsonl.gz"), "")
	touch(t, filepath.Join(base, "circuit", "notes.txt"), "")
	touch(t, filepath.Join(base, "circuit", "bad_name.jsonl"), "")
	touch(t, filepath.Join(base, "mirror", "dj_12_fake_sherbrooke.jsonl"), "")
	touch(t, filepath.Join(base, "mirror", "bv_2_sim.jsonl.zst"), "")

	cat := NewCatalog(root, nil, nil)
	got, err := cat.Index("ds")
	if err != nil {
		t.Fatal(err)
	}
	want := []Triple{{"bv", 2, "sim"}, {"dj", 12, "fake_sherbrooke"}, {"ghz", 3, "sim"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("index %v", got)
	}
}

func TestIndexMissingFolders(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	root := t.TempDir()
	touch(t, filepath.Join(root, "ds", "histories", "circuit", "ghz_3_sim.jsonl"), "")
	cat := NewCatalog(root, nil, zap.New(core))

	if _, err := cat.Index("ds"); err != nil {
		t.Fatal(err)
	}
	if logs.FilterMessage("missing history folder").Len() != 1 {
		t.Fatalf("logs %v", logs.All())
	}
	if _, err := cat.Index("other"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := cat.Index("../x"); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("expected invalid name, got %v", err)
	}
}

func TestIndexUsesCache(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "ds", "histories", "circuit")
	touch(t, filepath.Join(dir, "ghz_3_sim.jsonl"), "")
	cache := NewIndexCache(4, time.Hour)
	cat := NewCatalog(root, cache, nil)

	first, _ := cat.Index("ds")
	touch(t, filepath.Join(dir, "ghz_4_sim.jsonl"), "")
	second, _ := cat.Index("ds")
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("cached index changed: %v %v", first, second)
	}
	cat.Invalidate("ds")
	third, _ := cat.Index("ds")
	if len(third) != 2 {
		t.Fatalf("invalidated index %v", third)
	}
}

func TestIndexCacheBounds(t *testing.T) {
	c := NewIndexCache(2, time.Hour)
	c.Put("a", []Triple{{"a", 1, "x"}})
	c.Put("b", nil)
	c.Put("c", nil)
	if _, ok := c.Get("a"); ok {
		t.Fatal("least recently used entry survived eviction")
	}
	if c.Len() != 2 {
		t.Fatalf("len %d", c.Len())
	}

	c.Invalidate("b")
	if _, ok := c.Get("b"); ok {
		t.Fatal("invalidated entry returned")
	}
}

func TestIndexCacheCopies(t *testing.T) {
	c := NewIndexCache(2, 0)
	in := []Triple{{"dj", 2, "sim"}}
	c.Put("ds", in)
	in[0].Backend = "changed"

	got, ok := c.Get("ds")
	if !ok || got[0].Backend != "sim" {
		t.Fatalf("cached entry shares caller storage: %v", got)
	}
	got[0].Backend = "changed"
	again, _ := c.Get("ds")
	if again[0].Backend != "sim" {
		t.Fatalf("returned entry shares cache storage: %v", again)
	}
}

func TestIndexCacheExpires(t *testing.T) {
	c := NewIndexCache(2, 50*time.Millisecond)
	c.Put("ds", []Triple{{"dj", 2, "sim"}})
	if _, ok := c.Get("ds"); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(150 * time.Millisecond)
	if _, ok := c.Get("ds"); ok {
		t.Fatal("expired entry returned")
	}
}

func writeSummary(t *testing.T, root string) {
	t.Helper()
	touch(t, filepath.Join(root, "ds", "dj_2_sim_b.json"), `{"metadata":{"backend":{"name":"other"}}}`)
	touch(t, filepath.Join(root, "ds", "dj_2_sim_a.json"),
		`{"metadata":{"backend":{"name":"sim","qubits":5},"circuit":{"circuit":"OPENQASM 2.0;","mirror":""}}}`)
}

func TestBackendAndCircuit(t *testing.T) {
	root := t.TempDir()
	writeSummary(t, root)
	cat := NewCatalog(root, nil, nil)
	tr := Triple{"dj", 2, "sim"}

	be, err := cat.Backend("ds", tr)
	if err != nil {
		t.Fatal(err)
	}
	if be["name"] != "sim" {
		t.Fatalf("backend %v", be)
	}
	qasm, err := cat.Circuit("ds", tr, false)
	if err != nil || qasm != "OPENQASM 2.0;" {
		t.Fatalf("circuit %q %v", qasm, err)
	}
	if _, err := cat.Circuit("ds", tr, true); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("mirror circuit: %v", err)
	}
	if _, err := cat.Backend("ds", Triple{"dj", 3, "sim"}); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("missing summary: %v", err)
	}
}

type entry struct{ name, body string }

func zipArchive(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(e.body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func tarArchive(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		tw.Write([]byte(e.body))
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gzipBytes(b []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(b)
	zw.Close()
	return buf.Bytes()
}

func zstdBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	return enc.EncodeAll(b, nil)
}

var datasetEntries = []entry{
	{"qb/histories/circuit/ghz_3_sim.jsonl", `{"shots":1,"data":{"000":1}}` + "\n"},
	{"qb/histories/mirror/ghz_3_sim.jsonl", `{"shots":1,"data":{"000":1}}` + "\n"},
	{"qb/ghz_3_sim_1.json", `{"metadata":{}}`},
	{"__MACOSX/qb/._ghz", "junk"},
}

func newTestDownloader(root string) *Downloader {
	d := NewDownloader(NewCatalog(root, NewIndexCache(4, time.Hour), nil), 3, 5*time.Second, nil)
	d.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return d
}

func serve(t *testing.T, payload []byte, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDownloadArchives(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		payload func(t *testing.T) []byte
	}{
		{"zip", "qb.zip", func(t *testing.T) []byte { return zipArchive(t, datasetEntries) }},
		{"tar.gz", "qb.tar.gz", func(t *testing.T) []byte { return gzipBytes(tarArchive(t, datasetEntries)) }},
		{"tar.zst", "qb.tar.zst", func(t *testing.T) []byte { return zstdBytes(t, tarArchive(t, datasetEntries)) }},
		{"sniffed zip", "download", func(t *testing.T) []byte { return zipArchive(t, datasetEntries) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root := t.TempDir()
			srv, hits := serve(t, tc.payload(t), 1)
			d := newTestDownloader(root)

			got, err := d.Download(context.Background(), srv.URL+"/files/"+tc.file+"?download=true", "qb", false)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, []Triple{{"ghz", 3, "sim"}}) {
				t.Fatalf("index %v", got)
			}
			if hits.Load() != 2 {
				t.Fatalf("expected one retry, got %d requests", hits.Load())
			}
			if _, err := os.Stat(filepath.Join(root, "qb", "histories", "mirror", "ghz_3_sim.jsonl")); err != nil {
				t.Fatal("dataset not flattened into place:", err)
			}
			if _, err := os.Stat(filepath.Join(root, "qb", macOSJunk)); err == nil {
				t.Fatal("macOS metadata left behind")
			}
			if _, err := os.Stat(filepath.Join(root, tc.file)); err == nil {
				t.Fatal("archive left behind")
			}
		})
	}
}

func TestDownloadDerivesNameAndSkipsExisting(t *testing.T) {
	root := t.TempDir()
	srv, hits := serve(t, zipArchive(t, datasetEntries), 0)
	d := newTestDownloader(root)

	if _, err := d.Download(context.Background(), srv.URL+"/qbench.zip", "", false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "qbench", "histories")); err != nil {
		t.Fatal("dataset name not derived from archive:", err)
	}
	if _, err := d.Download(context.Background(), srv.URL+"/qbench.zip", "", false); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("existing dataset downloaded again: %d requests", hits.Load())
	}
	if _, err := d.Download(context.Background(), srv.URL+"/qbench.zip", "", true); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Fatalf("force did not re-download: %d requests", hits.Load())
	}
}

func TestDownloadFailures(t *testing.T) {
	root := t.TempDir()
	d := newTestDownloader(root)

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()
	if _, err := d.Download(context.Background(), missing.URL+"/x.zip", "", false); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("404: %v", err)
	}

	down, hits := serve(t, nil, 100)
	if _, err := d.Download(context.Background(), down.URL+"/x.zip", "", false); errs.CodeOf(err) != errs.CodeInternal {
		t.Fatalf("503: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}

	xz, _ := serve(t, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, 0)
	if _, err := d.Download(context.Background(), xz.URL+"/x.tar.xz", "", false); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("xz: %v", err)
	}

	slip, _ := serve(t, tarArchive(t, []entry{{"../evil.txt", "x"}}), 0)
	if _, err := d.Download(context.Background(), slip.URL+"/slip.tar", "", false); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("zip slip: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "evil.txt")); err == nil {
		t.Fatal("entry escaped the extraction directory")
	}
}
