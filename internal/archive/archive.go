// Package archive reads and writes content packages (.tgz and .zip).
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrMemberNotFound is returned when a requested file is not inside the package.
var ErrMemberNotFound = errors.New("member not found in package")

// ErrUnsupported is returned for files that are not a known package format.
var ErrUnsupported = errors.New("unsupported package format")

// Format identifies a package encoding
type Format int

const (
	FormatUnknown Format = iota
	FormatTarGz
	FormatZip
)

// DetectFormat returns the package format implied by the file name
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".tar.gz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	}
	return FormatUnknown
}

// TrimExt strips a recognized package extension from name
func TrimExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.gz", ".tgz", ".zip"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// Extract unpacks the package at pkgPath into destDir.
func Extract(pkgPath, destDir string) error {
	switch DetectFormat(pkgPath) {
	case FormatTarGz:
		f, err := os.Open(pkgPath)
		if err != nil {
			return fmt.Errorf("open package: %w", err)
		}
		defer f.Close()
		return ExtractTarGz(f, destDir)
	case FormatZip:
		return ExtractZip(pkgPath, destDir)
	}
	return fmt.Errorf("%s: %w", filepath.Base(pkgPath), ErrUnsupported)
}

// ExtractTarGz unpacks a gzip-compressed tar stream into destDir.
// Only directories and regular files are materialized.
func ExtractTarGz(r io.Reader, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	gr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		clean, err := safeName(hdr.Name)
		if err != nil {
			return err
		}
		if clean == "" {
			continue
		}
		destPath := filepath.Join(destDir, clean)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return fmt.Errorf("create dir %s: %w", clean, err)
			}
		case tar.TypeReg:
			if err := writeFile(destPath, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("write %s: %w", clean, err)
			}
		}
	}
	return nil
}

// ExtractZip unpacks a zip file into destDir.
func ExtractZip(pkgPath, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	zr, err := zip.OpenReader(pkgPath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		clean, err := safeName(zf.Name)
		if err != nil {
			return err
		}
		if clean == "" {
			continue
		}
		destPath := filepath.Join(destDir, clean)

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return fmt.Errorf("create dir %s: %w", clean, err)
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", clean, err)
		}
		err = writeFile(destPath, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return fmt.Errorf("write %s: %w", clean, err)
		}
	}
	return nil
}

// ReadMember returns the contents of a single file inside the package.
// member uses forward slashes, e.g. "foo/.version".
func ReadMember(pkgPath, member string) ([]byte, error) {
	member = path.Clean(member)

	switch DetectFormat(pkgPath) {
	case FormatTarGz:
		f, err := os.Open(pkgPath)
		if err != nil {
			return nil, fmt.Errorf("open package: %w", err)
		}
		defer f.Close()

		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer gr.Close()

		tr := tar.NewReader(gr)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				return nil, ErrMemberNotFound
			}
			if err != nil {
				return nil, fmt.Errorf("read tar: %w", err)
			}
			if hdr.Typeflag == tar.TypeReg && path.Clean(strings.TrimPrefix(hdr.Name, "./")) == member {
				return io.ReadAll(tr)
			}
		}

	case FormatZip:
		zr, err := zip.OpenReader(pkgPath)
		if err != nil {
			return nil, fmt.Errorf("open zip: %w", err)
		}
		defer zr.Close()

		for _, zf := range zr.File {
			if path.Clean(zf.Name) != member {
				continue
			}
			rc, err := zf.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", member, err)
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
		return nil, ErrMemberNotFound
	}

	return nil, fmt.Errorf("%s: %w", filepath.Base(pkgPath), ErrUnsupported)
}

// CreateTarGz writes srcDir/entry (a file or directory tree) into a new
// gzip-compressed tar at dst. Member names are rooted at entry.
func CreateTarGz(srcDir, entry, dst string) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create package: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	root := filepath.Join(srcDir, entry)
	walkErr := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return fmt.Errorf("add %s: %w", entry, walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

// safeName cleans a member name and rejects paths escaping the destination.
func safeName(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(name, "./")))
	if clean == "." {
		return "", nil
	}
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path in package: %s", name)
	}
	return clean, nil
}

func writeFile(dest string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0644
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
