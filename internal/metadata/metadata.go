// Package metadata derives content record identity from packaged or unpacked
// content, either from the embedded .version file or from the package name.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/archive"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
)

// VersionFile is the name of the embedded metadata file
const VersionFile = ".version"

// ErrNoMetadata is returned for directories without a .version file.
// Callers treat it as "not a content package", not as a failure.
var ErrNoMetadata = errors.New("no content metadata")

// MetadataError reports a package whose identity cannot be derived
type MetadataError struct {
	Path   string
	Reason string
	Err    error
}

func (e *MetadataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metadata %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("metadata %s: %s", e.Path, e.Reason)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// Extract returns the record (without state) for a package file or an
// unpacked content directory.
func Extract(path string) (*models.ContentRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &MetadataError{Path: path, Reason: "stat", Err: err}
	}
	if info.IsDir() {
		return ReadVersionFile(path)
	}
	return extractPackage(path)
}

func extractPackage(path string) (*models.ContentRecord, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &MetadataError{Path: path, Reason: "resolve path", Err: err}
	}

	name, builder, ts, err := ParseFilename(filepath.Base(abs))
	if err != nil {
		return nil, err
	}

	data, err := archive.ReadMember(abs, name+"/"+VersionFile)
	switch {
	case errors.Is(err, archive.ErrMemberNotFound):
		return &models.ContentRecord{
			Name:      name,
			Version:   strconv.FormatInt(ts, 10),
			Builder:   builder,
			BuildTime: ts,
			Indexer:   builder,
			IndexTime: ts,
			Archive:   abs,
		}, nil
	case err != nil:
		return nil, &MetadataError{Path: abs, Reason: "read embedded " + VersionFile, Err: err}
	}

	rec, err := decode(data)
	if err != nil {
		return nil, &MetadataError{Path: abs, Reason: "corrupt embedded " + VersionFile, Err: err}
	}
	rec.Archive = abs
	return rec, nil
}

// ParseFilename splits "<name>-<builder>-<timestamp>.<ext>" into its parts.
func ParseFilename(base string) (name, builder string, timestamp int64, err error) {
	if archive.DetectFormat(base) == archive.FormatUnknown {
		return "", "", 0, &MetadataError{Path: base, Reason: "not a content package"}
	}

	parts := strings.Split(archive.TrimExt(base), "-")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, &MetadataError{Path: base, Reason: "expected <name>-<builder>-<timestamp>"}
	}

	ts, err := models.ParseVersion(parts[2])
	if err != nil {
		return "", "", 0, &MetadataError{Path: base, Reason: "bad timestamp", Err: err}
	}
	return parts[0], parts[1], ts, nil
}

// PackageFilename returns the conventional package name for a record
func PackageFilename(rec *models.ContentRecord, ext string) string {
	if ext == "" {
		ext = ".tgz"
	}
	return strings.Join([]string{rec.Name, rec.Builder, rec.Version}, "-") + ext
}

// ReadVersionFile loads <dir>/.version.
func ReadVersionFile(dir string) (*models.ContentRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, VersionFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoMetadata)
	}
	if err != nil {
		return nil, &MetadataError{Path: dir, Reason: "read " + VersionFile, Err: err}
	}

	rec, err := decode(data)
	if err != nil {
		return nil, &MetadataError{Path: dir, Reason: "corrupt " + VersionFile, Err: err}
	}
	return rec, nil
}

// WriteVersionFile writes rec to <dir>/.version. The archive location is
// never serialized.
func WriteVersionFile(dir string, rec *models.ContentRecord) error {
	vf := versionFile{
		Name:      flexString(rec.Name),
		Builder:   flexString(rec.Builder),
		Indexer:   flexString(rec.Indexer),
		Version:   flexString(rec.Version),
		BuildTime: flexString(strconv.FormatInt(rec.BuildTime, 10)),
		IndexTime: flexString(strconv.FormatInt(rec.IndexTime, 10)),
	}
	data, err := json.Marshal(vf)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", VersionFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, VersionFile), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", VersionFile, err)
	}
	return nil
}

// Decode parses .version content without touching the filesystem
func Decode(data []byte) (*models.ContentRecord, error) {
	return decode(data)
}

// versionFile is the on-disk shape of .version. Older tooling wrote the
// numeric fields as strings, so both forms are accepted.
type versionFile struct {
	Name      flexString `json:"name"`
	Builder   flexString `json:"builder"`
	Indexer   flexString `json:"indexer"`
	Version   flexString `json:"version"`
	BuildTime flexString `json:"build_time"`
	IndexTime flexString `json:"index_time"`
}

func decode(data []byte) (*models.ContentRecord, error) {
	var vf versionFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, err
	}
	if vf.Name == "" || vf.Version == "" {
		return nil, errors.New("name and version are required")
	}

	buildTime, err := optionalInt(string(vf.BuildTime))
	if err != nil {
		return nil, fmt.Errorf("build_time: %w", err)
	}
	indexTime, err := optionalInt(string(vf.IndexTime))
	if err != nil {
		return nil, fmt.Errorf("index_time: %w", err)
	}

	return &models.ContentRecord{
		Name:      string(vf.Name),
		Version:   string(vf.Version),
		Builder:   string(vf.Builder),
		BuildTime: buildTime,
		Indexer:   string(vf.Indexer),
		IndexTime: indexTime,
	}, nil
}

func optionalInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return models.ParseVersion(s)
}

// flexString decodes a JSON string or number into its textual form
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
