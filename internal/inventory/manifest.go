// Package inventory streams object listings out of S3 bucket inventory
// reports: a dated manifest.json naming gzip-compressed CSV or Parquet data
// files that together hold one full listing of the bucket.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ObjectStore is the object-store surface the inventory reader needs.
type ObjectStore interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
	ListDir(ctx context.Context, uri string) ([]string, error)
}

// Manifest describes one inventory snapshot.
type Manifest struct {
	SourceBucket      string         `json:"sourceBucket"`
	DestinationBucket string         `json:"destinationBucket"`
	FileFormat        string         `json:"fileFormat"`
	FileSchema        string         `json:"fileSchema"`
	Files             []ManifestFile `json:"files"`
}

// ManifestFile is one data file of an inventory snapshot.
type ManifestFile struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// ManifestError reports a manifest that could not be used: required keys
// missing or an unsupported data file format.
type ManifestError struct {
	Reason string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest has not parsed correctly: %s", e.Reason)
}

// ParseManifest decodes and validates a manifest document. The manifest
// must carry fileFormat, fileSchema, files and destinationBucket, and the
// format must be CSV or PARQUET.
func ParseManifest(raw []byte) (*Manifest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ManifestError{Reason: err.Error()}
	}

	var missing []string
	for _, key := range []string{"fileFormat", "fileSchema", "files", "destinationBucket"} {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &ManifestError{Reason: "missing keys " + strings.Join(missing, ", ")}
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ManifestError{Reason: err.Error()}
	}

	switch strings.ToUpper(m.FileFormat) {
	case "CSV", "PARQUET":
	default:
		return nil, &ManifestError{Reason: fmt.Sprintf("data is not in CSV or PARQUET format, got %q", m.FileFormat)}
	}

	return &m, nil
}

// BucketName strips the ARN prefix from the destination bucket field.
func (m *Manifest) BucketName() string {
	parts := strings.Split(m.DestinationBucket, ":")
	return parts[len(parts)-1]
}

// DataFileURIs returns the s3:// URIs of the manifest's data files.
func (m *Manifest) DataFileURIs() []string {
	prefix := "s3://" + m.BucketName() + "/"
	uris := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		uris = append(uris, prefix+f.Key)
	}
	return uris
}

// Schema returns the CSV column names from the fileSchema field.
func (m *Manifest) Schema() []string {
	cols := strings.Split(m.FileSchema, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}

// FindLatestManifest resolves the manifest.json of the newest inventory
// snapshot under a prefix. Snapshot folders are named by UTC timestamp
// (ending in "Z"), so the lexicographically greatest folder is the latest.
func FindLatestManifest(ctx context.Context, store ObjectStore, prefix string) (string, error) {
	listing, err := store.ListDir(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to list inventory folders under %s: %w", prefix, err)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(listing)))
	for _, entry := range listing {
		if !strings.HasSuffix(entry, "/") {
			continue
		}
		segments := strings.Split(strings.TrimSuffix(entry, "/"), "/")
		leaf := segments[len(segments)-1]
		if strings.HasSuffix(leaf, "Z") {
			return entry + "manifest.json", nil
		}
	}

	return "", fmt.Errorf("no inventory manifest found under %s", prefix)
}
