// Package usgs reads the USGS Landsat Collection 2 bulk metadata files and
// turns their scene rows into the dataset prefixes published under the
// usgs-landsat bucket.
package usgs

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BaseBulkURL is where USGS publishes the bulk metadata csv.gz files.
const BaseBulkURL = "https://landsat.usgs.gov/landsat/metadata_service/bulk_metadata_files/"

// BulkFiles maps a product name to its USGS bulk metadata file.
var BulkFiles = map[string]string{
	"ls8_ls9": "LANDSAT_OT_C2_L2.csv.gz",
	"ls7":     "LANDSAT_ETM_C2_L2.csv.gz",
	"ls5":     "LANDSAT_TM_C2_L2.csv.gz",
}

// Client downloads and parses USGS bulk metadata files.
type Client struct {
	baseURL    string
	dir        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client that caches downloads under dir.
func NewClient(baseURL, dir string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		dir:        dir,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// DownloadBulkFile fetches a bulk metadata file into the cache directory and
// returns its local path. A previous download is reused when its size matches
// the Content-Length reported by the server.
func (c *Client) DownloadBulkFile(ctx context.Context, fileName string) (string, error) {
	url := c.baseURL + fileName
	localPath := filepath.Join(c.dir, fileName)

	if info, err := os.Stat(localPath); err == nil {
		if size, ok := c.remoteSize(ctx, url); ok && size == info.Size() {
			c.logger.InfoContext(ctx, "bulk file already up to date",
				slog.String("path", localPath),
				slog.Int64("size", size),
			)
			return localPath, nil
		}
	}

	c.logger.InfoContext(ctx, "downloading bulk file",
		slog.String("url", url),
		slog.String("path", localPath),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d downloading %s", resp.StatusCode, url)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return localPath, nil
}

func (c *Client) remoteSize(ctx context.Context, url string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return 0, false
	}
	return resp.ContentLength, true
}

// ScenePaths reads a downloaded bulk file and returns the dataset prefix of
// every scene that passes the filters: Landsat 4 is excluded, only daytime
// acquisitions count, and the scene's path/row must be in pathrows.
func (c *Client) ScenePaths(path string, pathrows map[string]struct{}) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bulk file %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream from %s: %w", path, err)
	}
	defer gz.Close()

	rdr := csv.NewReader(gz)
	rdr.FieldsPerRecord = -1

	header, err := rdr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read bulk file header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{"Satellite", "Day/Night Indicator", "WRS Path", "WRS Row", "Sensor Identifier", "Date Acquired", "Display ID"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("bulk file is missing column %q", name)
		}
	}

	field := func(rec []string, name string) string {
		i := col[name]
		if i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	paths := make(map[string]struct{})
	for {
		rec, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read bulk file row: %w", err)
		}

		sat := field(rec, "Satellite")
		if sat == "" || sat == "LANDSAT_4" || sat == "4" {
			continue
		}
		if !strings.EqualFold(field(rec, "Day/Night Indicator"), "DAY") {
			continue
		}
		if _, ok := pathrows[PathrowKey(field(rec, "WRS Path"), field(rec, "WRS Row"))]; !ok {
			continue
		}

		scene, err := buildScenePath(rec, field)
		if err != nil {
			return nil, err
		}
		paths[scene] = struct{}{}
	}
	return paths, nil
}

// buildScenePath mirrors the layout of the usgs-landsat bucket. USGS swaps
// '-' for '_' in sensor identifiers when it writes the bulk file, so the
// swap is undone here.
func buildScenePath(rec []string, field func([]string, string) string) (string, error) {
	identifier := strings.ReplaceAll(strings.ToLower(field(rec, "Sensor Identifier")), "_", "-")
	acquired, err := parseAcquiredDate(field(rec, "Date Acquired"))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("collection02/level-2/standard/%s/%d/%s/%s/%s/",
		identifier,
		acquired.Year(),
		zfill(field(rec, "WRS Path"), 3),
		zfill(field(rec, "WRS Row"), 3),
		field(rec, "Display ID"),
	), nil
}

// parseAcquiredDate accepts both date layouts USGS has used in bulk files.
func parseAcquiredDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006/01/02", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised acquisition date %q", s)
}

func zfill(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// PathrowKey converts a padded path/row pair into the form used by the
// Africa pathrow reference set, which stores them as plain integers.
func PathrowKey(path, row string) string {
	n, err := strconv.Atoi(zfill(path, 3) + zfill(row, 3))
	if err != nil {
		return ""
	}
	return strconv.Itoa(n)
}
