// Package products defines the product catalogue: for each product it
// records where upstream publishes scenes, where the Africa mirror keeps
// them, and how inventory keys are narrowed down to that product.
package products

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/digitalearthafrica/deafrica-sync/internal/inventory"
	"github.com/digitalearthafrica/deafrica-sync/internal/regions"
)

// Kind tells how the source side of a product is enumerated.
type Kind string

const (
	// KindSentinel2 products enumerate the source from an S3 inventory.
	KindSentinel2 Kind = "sentinel-2"
	// KindLandsat products enumerate the source from USGS bulk metadata
	// files.
	KindLandsat Kind = "landsat"
)

// Product describes one synced product.
type Product struct {
	Name  string
	Title string
	Kind  Kind

	// DestinationBucket is the Africa mirror bucket the product lives in.
	DestinationBucket string
	// DestinationInventory is the s3:// prefix of the mirror bucket's
	// inventory.
	DestinationInventory string
	// DestinationFilter narrows the mirror inventory to this product's
	// metadata documents.
	DestinationFilter inventory.KeyFilter

	// SourceBucket is the upstream bucket scenes are mirrored from.
	SourceBucket string
	// SourceInventory is the s3:// prefix of the upstream inventory.
	// Empty for products sourced from bulk metadata files.
	SourceInventory string
	// SourceFilter narrows the upstream inventory.
	SourceFilter inventory.KeyFilter

	// RegionsURL points at the reference set limiting the product to the
	// African continent.
	RegionsURL string

	// BulkFile is the USGS bulk metadata file name for Landsat products.
	BulkFile string

	// ODCProducts are the index product names this product indexes into.
	ODCProducts []string

	// DefaultQueue is the sync queue missing scenes are republished to.
	DefaultQueue string
}

// oldFormatKey matches the retired sentinel-s2-l2a-cogs layout that keyed
// scenes by year.
var oldFormatKey = regexp.MustCompile(`^sentinel-s2-l2a-cogs/\d{4}/`)

// KeepSourceKey reports whether an upstream inventory key belongs to this
// product within the African extent.
func (p *Product) KeepSourceKey(key string, africa map[string]struct{}) bool {
	if p.Kind != KindSentinel2 {
		return false
	}
	if oldFormatKey.MatchString(key) {
		return false
	}
	tile := mgrsTile(key)
	if tile == "" {
		return false
	}
	_, ok := africa[tile]
	return ok
}

// mgrsTile extracts the MGRS tile from an upstream key. Scene folders name
// the tile in their second underscore field, S2A_30NYL_20230101_0_L2A for
// sentinel-cogs and S2A_T30NYL_... in the collection-1 layout, so a leading
// T is stripped.
func mgrsTile(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) < 2 {
		return ""
	}
	fields := strings.Split(parts[len(parts)-2], "_")
	if len(fields) < 2 {
		return ""
	}
	return strings.TrimPrefix(fields[1], "T")
}

// Registry holds the product catalogue indexed by name.
type Registry struct {
	products map[string]*Product
}

// NewRegistry creates a registry preloaded with the built-in catalogue.
func NewRegistry() (*Registry, error) {
	r := &Registry{products: make(map[string]*Product)}
	for _, p := range builtin() {
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a product.
// Returns an error if the product is invalid or its name is taken.
func (r *Registry) Add(p *Product) error {
	if p == nil {
		return fmt.Errorf("cannot add nil product")
	}
	if err := validateProduct(p); err != nil {
		return fmt.Errorf("invalid product %q: %w", p.Name, err)
	}
	if _, exists := r.products[p.Name]; exists {
		return fmt.Errorf("product with name %q already exists", p.Name)
	}
	r.products[p.Name] = p
	return nil
}

// Get retrieves a product by name.
// Returns nil if the product does not exist.
func (r *Registry) Get(name string) *Product {
	return r.products[name]
}

// Has checks if a product with the given name exists in the registry.
func (r *Registry) Has(name string) bool {
	_, exists := r.products[name]
	return exists
}

// Names returns all product names in the registry.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.products))
	for name := range r.products {
		names = append(names, name)
	}
	return names
}

// Count returns the number of products in the registry.
func (r *Registry) Count() int {
	return len(r.products)
}

func validateProduct(p *Product) error {
	if p.Name == "" {
		return fmt.Errorf("product name is required")
	}
	if p.Kind != KindSentinel2 && p.Kind != KindLandsat {
		return fmt.Errorf("unknown product kind %q", p.Kind)
	}
	if p.DestinationBucket == "" {
		return fmt.Errorf("destination bucket is required")
	}
	if p.DestinationInventory == "" {
		return fmt.Errorf("destination inventory is required")
	}
	if p.SourceBucket == "" {
		return fmt.Errorf("source bucket is required")
	}
	switch p.Kind {
	case KindSentinel2:
		if p.SourceInventory == "" {
			return fmt.Errorf("source inventory is required for inventory-sourced products")
		}
	case KindLandsat:
		if p.BulkFile == "" {
			return fmt.Errorf("bulk file is required for landsat products")
		}
	}
	if len(p.ODCProducts) == 0 {
		return fmt.Errorf("product must index into at least one ODC product")
	}
	return nil
}

func builtin() []*Product {
	return []*Product{
		{
			Name:              "s2_l2a",
			Title:             "Sentinel 2",
			Kind:              KindSentinel2,
			DestinationBucket: "deafrica-sentinel-2",
			DestinationInventory: "s3://deafrica-sentinel-2-inventory/" +
				"deafrica-sentinel-2/deafrica-sentinel-2-inventory/",
			DestinationFilter: inventory.KeyFilter{
				Prefix:   "sentinel-s2-l2a-cogs",
				Contains: []string{".json"},
			},
			SourceBucket:    "sentinel-cogs",
			SourceInventory: "s3://sentinel-cogs-inventory/sentinel-cogs/sentinel-cogs/",
			SourceFilter: inventory.KeyFilter{
				Prefix:   "sentinel-s2-l2a-cogs",
				Contains: []string{".json"},
			},
			RegionsURL:   regions.AfricaMGRSTilesURL,
			ODCProducts:  []string{"s2_l2a"},
			DefaultQueue: "deafrica-pds-sentinel-2-sync-scene",
		},
		{
			Name:              "s2_c1",
			Title:             "Sentinel 2 C1",
			Kind:              KindSentinel2,
			DestinationBucket: "deafrica-sentinel-2-l2a-c1",
			DestinationInventory: "s3://deafrica-sentinel-2-l2a-c1-inventory/" +
				"deafrica-sentinel-2-l2a-c1/deafrica-sentinel-2-l2a-c1-inventory/",
			DestinationFilter: inventory.KeyFilter{
				Prefix:   "sentinel-2-c1-l2a",
				Contains: []string{".json"},
			},
			SourceBucket: "e84-earth-search-sentinel-data",
			SourceInventory: "s3://e84-earth-search-sentinel-data-inventory/" +
				"e84-earth-search-sentinel-data/primary/",
			SourceFilter: inventory.KeyFilter{
				Prefix:   "sentinel-2-c1-l2a",
				Contains: []string{".json"},
				// tile info sidecars share the scene folder but are not
				// datasets
				NotContains: []string{"tileinfo_metadata.json", "tileInfo.json"},
			},
			RegionsURL:   regions.AfricaMGRSTilesURL,
			ODCProducts:  []string{"s2_l2a_c1"},
			DefaultQueue: "deafrica-pds-sentinel-2-l2a-c1-sync-scene",
		},
		{
			Name:              "ls8_ls9",
			Title:             "Landsat 8 & Landsat 9",
			Kind:              KindLandsat,
			DestinationBucket: "deafrica-landsat",
			DestinationInventory: "s3://deafrica-landsat-inventory/" +
				"deafrica-landsat/deafrica-landsat-inventory/",
			DestinationFilter: inventory.KeyFilter{
				Prefix:   "collection02",
				Suffix:   "_stac.json",
				Contains: []string{"LC08", "LC09"},
			},
			SourceBucket: "usgs-landsat",
			RegionsURL:   regions.AfricaPathrowsURL,
			BulkFile:     "LANDSAT_OT_C2_L2.csv.gz",
			ODCProducts:  []string{"ls8_sr", "ls9_sr"},
		},
		{
			Name:              "ls7",
			Title:             "Landsat 7",
			Kind:              KindLandsat,
			DestinationBucket: "deafrica-landsat",
			DestinationInventory: "s3://deafrica-landsat-inventory/" +
				"deafrica-landsat/deafrica-landsat-inventory/",
			DestinationFilter: inventory.KeyFilter{
				Prefix:   "collection02",
				Suffix:   "_stac.json",
				Contains: []string{"LE07"},
			},
			SourceBucket: "usgs-landsat",
			RegionsURL:   regions.AfricaPathrowsURL,
			BulkFile:     "LANDSAT_ETM_C2_L2.csv.gz",
			ODCProducts:  []string{"ls7_sr"},
		},
		{
			Name:              "ls5",
			Title:             "Landsat 5",
			Kind:              KindLandsat,
			DestinationBucket: "deafrica-landsat",
			DestinationInventory: "s3://deafrica-landsat-inventory/" +
				"deafrica-landsat/deafrica-landsat-inventory/",
			DestinationFilter: inventory.KeyFilter{
				Prefix:   "collection02",
				Suffix:   "_stac.json",
				Contains: []string{"LT05"},
			},
			SourceBucket: "usgs-landsat",
			RegionsURL:   regions.AfricaPathrowsURL,
			BulkFile:     "LANDSAT_TM_C2_L2.csv.gz",
			ODCProducts:  []string{"ls5_sr"},
		},
	}
}
