// Package catalog reads the Open Data Cube index: which datasets of a
// product are indexed, where their metadata documents live, and when they
// were added.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// Catalog reads dataset records from an ODC Postgres index.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to the ODC index database.
func Open(dsn string) (*Catalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open datacube index: %w", err)
	}
	return &Catalog{db: db, logger: slog.Default()}, nil
}

// New wraps an existing database handle.
func New(db *sql.DB) *Catalog {
	return &Catalog{db: db, logger: slog.Default()}
}

// WithLogger sets a custom logger for the catalog.
func (c *Catalog) WithLogger(logger *slog.Logger) *Catalog {
	c.logger = logger
	return c
}

// Close releases the database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

const activeDatasetsQuery = `
SELECT dl.uri_scheme || ':' || dl.uri_body, d.added
FROM agdc.dataset d
JOIN agdc.dataset_type dt ON dt.id = d.dataset_type_ref
JOIN agdc.dataset_location dl ON dl.dataset_ref = d.id
WHERE dt.name = $1
  AND d.archived IS NULL
  AND dl.archived IS NULL`

// ActiveDatasets returns the location URI and indexed-at time of every
// active dataset of a product.
func (c *Catalog) ActiveDatasets(ctx context.Context, product string) (map[string]time.Time, error) {
	rows, err := c.db.QueryContext(ctx, activeDatasetsQuery, product)
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets for %s: %w", product, err)
	}
	defer rows.Close()

	datasets := make(map[string]time.Time)
	for rows.Next() {
		var (
			uri   string
			added time.Time
		)
		if err := rows.Scan(&uri, &added); err != nil {
			return nil, fmt.Errorf("failed to scan dataset row: %w", err)
		}
		datasets[uri] = added
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dataset rows: %w", err)
	}
	return datasets, nil
}

// ActiveDatasetsBestEffort is ActiveDatasets with catalog failures
// swallowed: errors are logged and an empty map returned, so callers see
// "no catalog entries" whether the index is empty or unreachable. Gap
// reports stay useful when the index is down, at the price of ambiguity.
func (c *Catalog) ActiveDatasetsBestEffort(ctx context.Context, product string) map[string]time.Time {
	datasets, err := c.ActiveDatasets(ctx, product)
	if err != nil {
		c.logger.ErrorContext(ctx, "error while searching for datasets in the datacube index",
			slog.String("product", product),
			slog.String("error", err.Error()),
		)
		return map[string]time.Time{}
	}
	return datasets
}

const duplicateURIsQuery = `
SELECT dl.uri_scheme || ':' || dl.uri_body AS uri
FROM agdc.dataset d
JOIN agdc.dataset_type dt ON dt.id = d.dataset_type_ref
JOIN agdc.dataset_location dl ON dl.dataset_ref = d.id
WHERE dt.name = $1
  AND d.archived IS NULL
  AND dl.archived IS NULL
GROUP BY uri
HAVING count(*) > 1
ORDER BY uri`

// DuplicateURIs returns metadata document URIs shared by more than one
// active dataset of a product. Datasets sharing a URI are duplicates.
func (c *Catalog) DuplicateURIs(ctx context.Context, product string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, duplicateURIsQuery, product)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicates for %s: %w", product, err)
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate row: %w", err)
		}
		uris = append(uris, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read duplicate rows: %w", err)
	}
	return uris, nil
}

const latestIndexedQuery = `
SELECT max(d.added)
FROM agdc.dataset d
JOIN agdc.dataset_type dt ON dt.id = d.dataset_type_ref
WHERE dt.name = $1 AND d.archived IS NULL`

// LatestIndexedAt returns the added time of the most recently indexed
// active dataset of a product.
func (c *Catalog) LatestIndexedAt(ctx context.Context, product string) (time.Time, error) {
	var added sql.NullTime
	err := c.db.QueryRowContext(ctx, latestIndexedQuery, product).Scan(&added)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest dataset for %s: %w", product, err)
	}
	if !added.Valid {
		return time.Time{}, fmt.Errorf("no active datasets indexed for %s", product)
	}
	return added.Time, nil
}
