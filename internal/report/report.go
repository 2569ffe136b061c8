// Package report defines the gap report artifact: a point-in-time snapshot
// of the missing/orphan partition between a source archive, the destination
// mirror, and the datacube index, written once per run under a bucket's
// status-report prefix.
package report

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// ObjectStore is the object-store surface report handling needs.
type ObjectStore interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
	Dump(ctx context.Context, uri string, body []byte, contentType string) error
	ListDir(ctx context.Context, uri string) ([]string, error)
}

// Report is one gap report. Missing keys are in the source but absent from
// the destination; orphan keys the reverse. The _odc sets compare the
// destination against the datacube index.
type Report struct {
	Missing    []string `json:"missing"`
	Orphan     []string `json:"orphan"`
	MissingODC []string `json:"missing_odc,omitempty"`
	OrphanODC  []string `json:"orphan_odc,omitempty"`
}

// Empty reports whether the report carries no keys at all.
func (r *Report) Empty() bool {
	return len(r.Missing) == 0 && len(r.Orphan) == 0 &&
		len(r.MissingODC) == 0 && len(r.OrphanODC) == 0
}

// StatusReportPrefix is the folder under the destination bucket where gap
// reports are written.
const StatusReportPrefix = "status-report"

// Filename returns the dated report object name. Force-update runs carry
// an _update marker in the name so downstream readers can tell a full
// resync from an incremental fill.
func Filename(product string, t time.Time, update bool) string {
	name := fmt.Sprintf("%s_%s_gap_report", product, t.Format("2006-01-02"))
	if update {
		name += "_update"
	}
	return name + ".json"
}

// URI returns the full report location for a bucket and product.
func URI(bucket, product string, t time.Time, update bool) string {
	return fmt.Sprintf("s3://%s/%s/%s", bucket, StatusReportPrefix, Filename(product, t, update))
}

// IsUpdate reports whether a report path names a force-update run. The
// signal is the filename convention, nothing more.
func IsUpdate(reportPath string) bool {
	return strings.Contains(path.Base(reportPath), "update")
}

// Write serializes the report as JSON and writes it to its deterministic
// location. Write failure is fatal to the calling job; the scheduler
// retries the whole run.
func Write(ctx context.Context, store ObjectStore, uri string, r *Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal gap report: %w", err)
	}

	contentType := "application/json"
	if strings.HasSuffix(uri, ".gz") {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return fmt.Errorf("failed to compress gap report: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to compress gap report: %w", err)
		}
		body = buf.Bytes()
		contentType = "application/gzip"
	}

	if err := store.Dump(ctx, uri, body, contentType); err != nil {
		return fmt.Errorf("failed to write gap report: %w", err)
	}
	return nil
}

// FindLatest resolves the most recent report under a status-report folder:
// the lexicographically greatest key whose name contains `contains` and
// does not contain `notContains` (either may be empty). Report names embed
// an ISO date, so lexicographic order is chronological order.
func FindLatest(ctx context.Context, store ObjectStore, folder, contains, notContains string) (string, error) {
	listing, err := store.ListDir(ctx, folder)
	if err != nil {
		return "", fmt.Errorf("failed to list reports under %s: %w", folder, err)
	}

	var candidates []string
	for _, entry := range listing {
		if strings.HasSuffix(entry, "/") {
			continue
		}
		name := path.Base(entry)
		if contains != "" && !strings.Contains(name, contains) {
			continue
		}
		if notContains != "" && strings.Contains(name, notContains) {
			continue
		}
		candidates = append(candidates, entry)
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("report not found under %s", folder)
	}

	sort.Strings(candidates)
	return candidates[len(candidates)-1], nil
}

// ReadMissing fetches a report and returns its missing set, trimmed of
// whitespace and empty entries, in original order. A limit of 0 means no
// limit; a limit past the end returns everything.
func ReadMissing(ctx context.Context, store ObjectStore, reportPath string, limit int) ([]string, error) {
	raw, err := store.Fetch(ctx, reportPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report %s: %w", reportPath, err)
	}

	if strings.HasSuffix(reportPath, ".gz") {
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip report %s: %w", reportPath, err)
		}
		defer gz.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(gz); err != nil {
			return nil, fmt.Errorf("failed to decompress report %s: %w", reportPath, err)
		}
		raw = buf.Bytes()
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", reportPath, err)
	}
	rawMissing, ok := fields["missing"]
	if !ok {
		return nil, fmt.Errorf("missing scenes not found in report %s", reportPath)
	}

	var missing []string
	if err := json.Unmarshal(rawMissing, &missing); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", reportPath, err)
	}

	scenes := make([]string, 0, len(missing))
	for _, s := range missing {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		scenes = append(scenes, s)
	}

	if limit > 0 && limit < len(scenes) {
		scenes = scenes[:limit]
	}
	return scenes, nil
}
