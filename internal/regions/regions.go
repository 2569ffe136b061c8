// Package regions loads region-of-interest reference sets: the MGRS tiles
// and WRS path/rows covering the African continent, published as small
// csv.gz files.
package regions

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Published reference sets.
const (
	AfricaMGRSTilesURL = "https://raw.githubusercontent.com/digitalearthafrica/deafrica-extent/master/deafrica-mgrs-tiles.csv.gz"
	AfricaPathrowsURL  = "https://raw.githubusercontent.com/digitalearthafrica/deafrica-extent/master/deafrica-usgs-pathrows.csv.gz"
)

// fetchAttempts bounds the retry loop around one remote read. There is no
// backoff; a flaky read either recovers immediately or the job fails and
// the scheduler reruns it.
const fetchAttempts = 3

// Loader fetches reference sets over HTTP.
type Loader struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(timeout time.Duration) *Loader {
	return &Loader{
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// WithLogger sets a custom logger for the loader.
func (l *Loader) WithLogger(logger *slog.Logger) *Loader {
	l.logger = logger
	return l
}

// LoadSet fetches a csv.gz reference file and returns every non-empty cell
// as a set member.
func (l *Loader) LoadSet(ctx context.Context, url string) (map[string]struct{}, error) {
	raw, err := l.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	rdr := io.Reader(bytes.NewReader(raw))
	if strings.HasSuffix(url, ".gz") {
		gz, err := gzip.NewReader(rdr)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream from %s: %w", url, err)
		}
		defer gz.Close()
		rdr = gz
	}

	set := make(map[string]struct{})
	csvRdr := csv.NewReader(rdr)
	csvRdr.FieldsPerRecord = -1
	for {
		rec, err := csvRdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read reference CSV from %s: %w", url, err)
		}
		for _, cell := range rec {
			cell = strings.TrimSpace(cell)
			if cell != "" {
				set[cell] = struct{}{}
			}
		}
	}

	l.logger.DebugContext(ctx, "loaded reference set",
		slog.String("url", url),
		slog.Int("members", len(set)),
	)
	return set, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
		}

		resp, err := l.httpClient.Do(req)
		if err != nil {
			lastErr = err
			l.logger.WarnContext(ctx, "reference fetch failed",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}

		body, err := func() ([]byte, error) {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("status %d from %s", resp.StatusCode, url)
			}
			return io.ReadAll(resp.Body)
		}()
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("failed to fetch %s after %d attempts: %w", url, fetchAttempts, lastErr)
}
