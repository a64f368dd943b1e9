package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"qbenchsim/services/errs"
)

// Downloader fetches dataset archives and installs them into a catalog.
type Downloader struct {
	catalog    *Catalog
	httpClient *http.Client
	maxTries   uint
	newBackOff func() backoff.BackOff
	log        *zap.Logger
}

// NewDownloader returns a downloader installing into catalog. maxTries
// bounds the HTTP attempts per archive.
func NewDownloader(catalog *Catalog, maxTries uint, timeout time.Duration, log *zap.Logger) *Downloader {
	if log == nil {
		log = zap.NewNop()
	}
	if maxTries == 0 {
		maxTries = 1
	}
	return &Downloader{
		catalog:    catalog,
		httpClient: &http.Client{Timeout: timeout},
		maxTries:   maxTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			return b
		},
		log: log,
	}
}

// ArchiveName returns the last path element of rawURL, query stripped.
func ArchiveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errs.Wrap(errs.CodeInvalidArgument, err, "invalid dataset url %q", rawURL)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", errs.New(errs.CodeInvalidArgument, "dataset url %q names no archive", rawURL)
	}
	return name, nil
}

// Download fetches the archive at rawURL, extracts it as dataset name (or the
// archive stem when name is empty) and returns the dataset index. An existing
// dataset is kept unless force is set.
func (d *Downloader) Download(ctx context.Context, rawURL, name string, force bool) ([]Triple, error) {
	archiveName, err := ArchiveName(rawURL)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = StemOf(archiveName)
	}
	finalDir, err := d.catalog.Dir(name)
	if err != nil {
		return nil, err
	}
	log := d.log.With(zap.String("dataset", name), zap.String("url", rawURL))

	if _, err := os.Stat(finalDir); err == nil {
		if !force {
			log.Info("dataset already present, skipping download")
			return d.catalog.Index(name)
		}
		if err := os.RemoveAll(finalDir); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", finalDir, err)
		}
		d.catalog.Invalidate(name)
	}

	if err := os.MkdirAll(d.catalog.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", d.catalog.Root(), err)
	}
	archivePath := filepath.Join(d.catalog.Root(), archiveName)
	defer os.Remove(archivePath)

	log.Info("downloading dataset")
	if err := d.fetch(ctx, rawURL, archivePath); err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp(d.catalog.Root(), ".extract-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := extract(archivePath, tmp); err != nil {
		return nil, err
	}
	if err := install(tmp, finalDir); err != nil {
		return nil, err
	}
	d.catalog.Invalidate(name)
	log.Info("dataset extracted", zap.String("path", finalDir))
	return d.catalog.Index(name)
}

// install moves the flattened extraction into finalDir.
func install(tmp, finalDir string) error {
	root, entries, err := flatten(tmp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(finalDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", finalDir, err)
	}
	for _, e := range entries {
		if err := os.Rename(filepath.Join(root, e.Name()), filepath.Join(finalDir, e.Name())); err != nil {
			return fmt.Errorf("failed to move %s: %w", e.Name(), err)
		}
	}
	if err := os.RemoveAll(filepath.Join(finalDir, macOSJunk)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", macOSJunk, err)
	}
	return nil
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// fetch streams rawURL into dst, retrying transport failures and transient
// statuses.
func (d *Downloader) fetch(ctx context.Context, rawURL, dst string) error {
	attempt := 0
	op := func() (int64, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return 0, backoff.Permanent(errs.Wrap(errs.CodeInvalidArgument, err, "build request"))
		}
		resp, err := d.httpClient.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
			if retryable(resp.StatusCode) {
				return 0, err
			}
			code := errs.CodeInternal
			if resp.StatusCode == http.StatusNotFound {
				code = errs.CodeNotFound
			}
			return 0, backoff.Permanent(errs.Wrap(code, err, "download %s", rawURL))
		}

		out, err := os.Create(dst)
		if err != nil {
			return 0, backoff.Permanent(fmt.Errorf("failed to create file %s: %w", dst, err))
		}
		n, err := io.Copy(out, resp.Body)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return 0, fmt.Errorf("failed to write file %s: %w", dst, err)
		}
		return n, nil
	}

	n, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxTries(d.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.log.Warn("download attempt failed",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", wait),
				zap.Error(err))
		}))
	if err != nil {
		var coded *errs.Error
		if errors.As(err, &coded) {
			return err
		}
		return errs.Wrap(errs.CodeInternal, err, "download %s after %d attempts", rawURL, attempt)
	}
	d.log.Info("downloaded archive", zap.String("path", dst), zap.Int64("bytes", n))
	return nil
}
