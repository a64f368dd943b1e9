package dataset

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"qbenchsim/services/errs"
)

type archiveFormat int

const (
	formatUnknown archiveFormat = iota
	formatZip
	formatTar
	formatTarGz
	formatTarBz2
	formatTarZst
	formatTarXz
)

// ArchiveExtensions are stripped from archive names to derive dataset names.
var ArchiveExtensions = []string{".tar.gz", ".tgz", ".tar.bz2", ".tar.zst", ".tar.xz", ".zip", ".tar"}

const macOSJunk = "__MACOSX"

// StemOf strips a known archive extension from name.
func StemOf(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range ArchiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

func formatOf(path string) (archiveFormat, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return formatZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return formatTarGz, nil
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return formatTarBz2, nil
	case strings.HasSuffix(lower, ".tar.zst"):
		return formatTarZst, nil
	case strings.HasSuffix(lower, ".tar.xz"):
		return formatTarXz, nil
	case strings.HasSuffix(lower, ".tar"):
		return formatTar, nil
	}
	return sniff(path)
}

// sniff guesses the format of an archive saved under an uninformative name.
func sniff(path string) (archiveFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return formatUnknown, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return formatZip, nil
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return formatTarGz, nil
	case bytes.HasPrefix(head, []byte("BZh")):
		return formatTarBz2, nil
	case bytes.HasPrefix(head, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return formatTarZst, nil
	case bytes.HasPrefix(head, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}):
		return formatTarXz, nil
	case len(head) >= 262 && string(head[257:262]) == "ustar":
		return formatTar, nil
	}
	return formatUnknown, nil
}

// extract unpacks archive into dest.
func extract(archive, dest string) error {
	format, err := formatOf(archive)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "inspect %s", archive)
	}

	switch format {
	case formatZip:
		return extractZip(archive, dest)
	case formatTarXz:
		return errs.New(errs.CodeInvalidArgument, "xz archives are not supported: %s", filepath.Base(archive))
	case formatUnknown:
		return errs.New(errs.CodeInvalidArgument, "unsupported archive format: %s", filepath.Base(archive))
	}

	f, err := os.Open(archive)
	if err != nil {
		return errs.Wrap(errs.CodeInternal, err, "open %s", archive)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	switch format {
	case formatTarGz:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return errs.Wrap(errs.CodeInvalidArgument, err, "gzip archive %s", archive)
		}
		defer zr.Close()
		r = zr
	case formatTarBz2:
		r = bzip2.NewReader(r)
	case formatTarZst:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return errs.Wrap(errs.CodeInvalidArgument, err, "zstd archive %s", archive)
		}
		defer zr.Close()
		r = zr
	}
	return extractTar(r, dest)
}

// target resolves an archive entry name under dest, rejecting names that
// would land outside it.
func target(dest, name string) (string, error) {
	clean := filepath.FromSlash(strings.TrimPrefix(name, "./"))
	if clean == "" || clean == "." {
		return dest, nil
	}
	if !filepath.IsLocal(clean) {
		return "", errs.New(errs.CodeInvalidArgument, "archive entry %q escapes the extraction directory", name)
	}
	return filepath.Join(dest, clean), nil
}

func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errs.Wrap(errs.CodeInvalidArgument, err, "read tar entry")
		}
		path, err := target(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
		case tar.TypeReg:
			if err := writeFile(path, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		}
	}
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return errs.Wrap(errs.CodeInvalidArgument, err, "open zip %s", archive)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		path, err := target(dest, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return errs.Wrap(errs.CodeInvalidArgument, err, "open zip entry %s", zf.Name)
		}
		err = writeFile(path, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return out.Close()
}

// flatten descends through single-directory roots, ignoring macOS metadata,
// and returns the directory whose entries form the dataset.
func flatten(dir string) (string, []os.DirEntry, error) {
	for {
		entries, err := contents(dir)
		if err != nil {
			return "", nil, err
		}
		if len(entries) != 1 || !entries[0].IsDir() {
			return dir, entries, nil
		}
		dir = filepath.Join(dir, entries[0].Name())
	}
}

func contents(dir string) ([]os.DirEntry, error) {
	all, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	out := all[:0]
	for _, e := range all {
		if e.Name() != macOSJunk {
			out = append(out, e)
		}
	}
	return out, nil
}
