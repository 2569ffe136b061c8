package inventory

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Entry is one object listed by an inventory report.
type Entry struct {
	Bucket       string
	Key          string
	Size         int64
	LastModified time.Time
}

// KeyFilter selects inventory entries by key shape. The zero value accepts
// every key. Contains is satisfied by any one of its members; NotContains
// rejects a key matching any of its members and is applied last, so
// sidecar documents can be carved out of an otherwise matching prefix.
type KeyFilter struct {
	Prefix      string
	Suffix      string
	Contains    []string
	NotContains []string
}

// Match reports whether a key passes the filter.
func (f KeyFilter) Match(key string) bool {
	if !strings.HasPrefix(key, f.Prefix) || !strings.HasSuffix(key, f.Suffix) {
		return false
	}
	if len(f.Contains) > 0 {
		matched := false
		for _, c := range f.Contains {
			if strings.Contains(key, c) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, c := range f.NotContains {
		if strings.Contains(key, c) {
			return false
		}
	}
	return true
}

// listWorkers is the fixed fan-out across a manifest's data files. The
// files are small and the work is I/O bound; the pool size is a constant,
// not tuned per workload.
const listWorkers = 100

// Reader streams entries out of bucket inventory reports.
type Reader struct {
	store  ObjectStore
	logger *slog.Logger
}

// NewReader creates an inventory Reader.
func NewReader(store ObjectStore) *Reader {
	return &Reader{
		store:  store,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the reader.
func (r *Reader) WithLogger(logger *slog.Logger) *Reader {
	r.logger = logger
	return r
}

// List streams the entries of an inventory snapshot that pass the filter.
// manifest is the s3:// URI of a manifest.json, or an inventory prefix
// (trailing slash) in which case the latest snapshot is resolved first.
// Data files are read concurrently, so ordering across files is not
// guaranteed. The error channel delivers the first failure (or nil) once
// the entry channel is closed.
func (r *Reader) List(ctx context.Context, manifest string, filter KeyFilter) (<-chan Entry, <-chan error) {
	entries := make(chan Entry, 1024)
	errc := make(chan error, 1)

	go func() {
		defer close(entries)
		errc <- r.list(ctx, manifest, filter, entries)
	}()

	return entries, errc
}

// ListKeys drains List into a key slice.
func (r *Reader) ListKeys(ctx context.Context, manifest string, filter KeyFilter) ([]string, error) {
	entries, errc := r.List(ctx, manifest, filter)
	var keys []string
	for e := range entries {
		keys = append(keys, e.Key)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *Reader) list(ctx context.Context, manifest string, filter KeyFilter, entries chan<- Entry) error {
	if strings.HasSuffix(manifest, "/") {
		resolved, err := FindLatestManifest(ctx, r.store, manifest)
		if err != nil {
			return err
		}
		manifest = resolved
	}

	raw, err := r.store.Fetch(ctx, manifest)
	if err != nil {
		return fmt.Errorf("failed to fetch manifest %s: %w", manifest, err)
	}

	m, err := ParseManifest(raw)
	if err != nil {
		return err
	}

	uris := m.DataFileURIs()
	r.logger.InfoContext(ctx, "reading inventory",
		slog.String("manifest", manifest),
		slog.String("format", m.FileFormat),
		slog.Int("data_files", len(uris)),
	)

	jobs := make(chan string)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	workers := listWorkers
	if workers > len(uris) {
		workers = len(uris)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for uri := range jobs {
				if err := r.readDataFile(ctx, m, uri, filter, entries); err != nil {
					errOnce.Do(func() { firstErr = err })
				}
			}
		}()
	}

	for _, uri := range uris {
		jobs <- uri
	}
	close(jobs)
	wg.Wait()

	return firstErr
}

func (r *Reader) readDataFile(ctx context.Context, m *Manifest, uri string, filter KeyFilter, entries chan<- Entry) error {
	raw, err := r.store.Fetch(ctx, uri)
	if err != nil {
		return fmt.Errorf("failed to fetch inventory data file %s: %w", uri, err)
	}

	var records []Entry
	switch strings.ToUpper(m.FileFormat) {
	case "CSV":
		records, err = decodeCSV(raw, m.Schema())
	case "PARQUET":
		records, err = decodeParquet(raw)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", uri, err)
	}

	for _, e := range records {
		if !filter.Match(e.Key) {
			continue
		}
		select {
		case entries <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// decodeCSV parses a gzip-compressed CSV data file, mapping columns by the
// manifest's fileSchema.
func decodeCSV(raw []byte, schema []string) ([]Entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	cols := make(map[string]int, len(schema))
	for i, name := range schema {
		cols[name] = i
	}

	var entries []Entry
	rdr := csv.NewReader(gz)
	rdr.FieldsPerRecord = -1
	for {
		rec, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		entries = append(entries, entryFromRecord(rec, cols))
	}
	return entries, nil
}

func entryFromRecord(rec []string, cols map[string]int) Entry {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var e Entry
	e.Bucket = field("Bucket")
	e.Key = field("Key")
	if s := field("Size"); s != "" {
		e.Size, _ = strconv.ParseInt(s, 10, 64)
	}
	if d := field("LastModifiedDate"); d != "" {
		e.LastModified = parseInventoryTime(d)
	}
	return e
}

// parseInventoryTime accepts the timestamp formats seen in inventory
// reports. Unparseable values yield the zero time; the listing is still
// usable for key comparison.
func parseInventoryTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02T15:04:05.000Z",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
