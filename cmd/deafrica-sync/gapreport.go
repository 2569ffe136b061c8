package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitalearthafrica/deafrica-sync/internal/catalog"
	"github.com/digitalearthafrica/deafrica-sync/internal/inventory"
	"github.com/digitalearthafrica/deafrica-sync/internal/products"
	"github.com/digitalearthafrica/deafrica-sync/internal/reconcile"
	"github.com/digitalearthafrica/deafrica-sync/internal/regions"
	"github.com/digitalearthafrica/deafrica-sync/internal/report"
	"github.com/digitalearthafrica/deafrica-sync/internal/storage"
	"github.com/digitalearthafrica/deafrica-sync/internal/usgs"
)

var (
	gapReportUpdate   bool
	gapReportSlackURL string
)

var gapReportCmd = &cobra.Command{
	Use:   "gap-report PRODUCT BUCKET",
	Short: "Compare a source archive with the mirror bucket and write a gap report",
	Long: `Compare the upstream archive of PRODUCT against the Africa mirror in
BUCKET and write a dated gap report to s3://BUCKET/status-report/.

Sentinel-2 products are compared inventory to inventory; Landsat products
are compared against the USGS bulk metadata files. Landsat runs also diff
the mirror against the ODC index.`,
	Args: cobra.ExactArgs(2),
	RunE: runGapReport,
}

func init() {
	gapReportCmd.Flags().BoolVar(&gapReportUpdate, "update", false,
		"report every source scene so the mirror is resynced in full")
	gapReportCmd.Flags().StringVar(&gapReportSlackURL, "slack-url", "",
		"Slack webhook URL for notifications")
}

func runGapReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp()
	if err != nil {
		return err
	}

	p, err := a.product(args[0])
	if err != nil {
		return err
	}
	bucket := args[1]
	env := environment(bucket)

	a.logger.InfoContext(ctx, "gap report started",
		slog.String("product", p.Name),
		slog.String("bucket", bucket),
		slog.String("environment", env),
		slog.Bool("update", gapReportUpdate),
	)
	start := time.Now()

	destCfg, err := a.awsConfig(ctx, a.cfg.AWS.Region)
	if err != nil {
		return err
	}
	destStore := storage.NewFromConfig(destCfg).WithLogger(a.logger)

	africa, err := regions.NewLoader(httpTimeout).WithLogger(a.logger).LoadSet(ctx, p.RegionsURL)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "retrieving keys from mirror inventory",
		slog.String("inventory", p.DestinationInventory),
	)
	destKeys, err := inventory.NewReader(destStore).WithLogger(a.logger).
		ListKeys(ctx, p.DestinationInventory, p.DestinationFilter)
	if err != nil {
		return err
	}

	var source, destination reconcile.Set
	switch p.Kind {
	case products.KindSentinel2:
		destination = reconcile.NewSet(destKeys...)
		source, err = a.sentinel2SourceKeys(ctx, p, africa)
	case products.KindLandsat:
		destination = reconcile.NewSet()
		for _, k := range destKeys {
			destination.Add(reconcile.DatasetPrefix(k))
		}
		source, err = a.landsatSourceKeys(ctx, p, africa)
	default:
		err = fmt.Errorf("product %q has unknown kind %q", p.Name, p.Kind)
	}
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "key sets assembled",
		slog.Int("source", len(source)),
		slog.Int("destination", len(destination)),
	)

	now := time.Now()
	rep := &report.Report{}

	if gapReportUpdate {
		res := reconcile.ForceUpdate(source)
		rep.Missing = withBucket(p.SourceBucket, res.Missing.Keys())
	} else {
		res := reconcile.Reconcile(source, destination)
		rep.Missing = withBucket(p.SourceBucket, res.Missing.Keys())
		rep.Orphan = withBucket(bucket, res.Orphan.Keys())

		if p.Kind == products.KindLandsat {
			cres := reconcile.ReconcileCatalog(destination, a.catalogPrefixes(ctx, p), now)
			rep.MissingODC = withBucket(bucket, cres.MissingODC.Keys())
			rep.OrphanODC = withBucket(bucket, cres.OrphanODC.Keys())
		}
	}

	reportOutput := "No missing scenes were found"
	if !rep.Empty() {
		uri := report.URI(bucket, p.Name, now, gapReportUpdate)
		if err := report.Write(ctx, destStore, uri, rep); err != nil {
			return err
		}
		reportOutput, err = storage.PublicURL(uri, a.cfg.AWS.Region)
		if err != nil {
			return err
		}
	}

	message := fmt.Sprintf(
		"*%s GAP REPORT - %s*\n"+
			"Missing Scenes: %d\n"+
			"Orphan Scenes: %d\n"+
			"Missing ODC Scenes: %d\n"+
			"Orphan ODC Scenes: %d\n"+
			"Report: %s\n",
		p.Title, env,
		len(rep.Missing), len(rep.Orphan),
		len(rep.MissingODC), len(rep.OrphanODC),
		reportOutput,
	)

	a.logger.InfoContext(ctx, message, slog.Duration("elapsed", time.Since(start)))

	threshold := a.cfg.Report.MaxScenes
	if !gapReportUpdate && (len(rep.Missing) > threshold || len(rep.Orphan) > threshold) {
		if n := a.notifier(gapReportSlackURL); n != nil {
			if err := n.Send(ctx, fmt.Sprintf("%s Gap Report", p.Title), message); err != nil {
				a.logger.ErrorContext(ctx, "failed to send notification", slog.String("error", err.Error()))
			}
		}
		return fmt.Errorf("more than %d scenes were found\n%s", threshold, message)
	}

	return nil
}

func (a *app) sentinel2SourceKeys(ctx context.Context, p *products.Product, africa map[string]struct{}) (reconcile.Set, error) {
	srcCfg, err := a.awsConfig(ctx, a.cfg.AWS.SourceRegion)
	if err != nil {
		return nil, err
	}
	srcStore := storage.NewFromConfig(srcCfg).WithLogger(a.logger)

	a.logger.InfoContext(ctx, "retrieving keys from source inventory",
		slog.String("inventory", p.SourceInventory),
	)
	keys, err := inventory.NewReader(srcStore).WithLogger(a.logger).
		ListKeys(ctx, p.SourceInventory, p.SourceFilter)
	if err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(keys))
	for _, k := range keys {
		if p.KeepSourceKey(k, africa) {
			kept = append(kept, k)
		}
	}
	// The source archive occasionally lists the same object under a clean
	// path and a double-slash path; keep one spelling per object.
	return reconcile.NewSet(reconcile.DedupeDoubleSlash(kept)...), nil
}

func (a *app) landsatSourceKeys(ctx context.Context, p *products.Product, africa map[string]struct{}) (reconcile.Set, error) {
	client := usgs.NewClient(usgs.BaseBulkURL, os.TempDir(), httpTimeout).WithLogger(a.logger)

	path, err := client.DownloadBulkFile(ctx, p.BulkFile)
	if err != nil {
		return nil, err
	}

	paths, err := client.ScenePaths(path, africa)
	if err != nil {
		return nil, err
	}
	return reconcile.Set(paths), nil
}

// catalogPrefixes maps the index contents of a product's ODC products to
// mirror-relative dataset prefixes. Catalog failures degrade to an empty
// map, the same as an empty index.
func (a *app) catalogPrefixes(ctx context.Context, p *products.Product) map[string]time.Time {
	cat, err := catalog.Open(a.cfg.DB.DSN())
	if err != nil {
		a.logger.ErrorContext(ctx, "error while connecting to the datacube index",
			slog.String("error", err.Error()),
		)
		return map[string]time.Time{}
	}
	defer cat.Close()
	cat.WithLogger(a.logger)

	prefixes := make(map[string]time.Time)
	for _, odcProduct := range p.ODCProducts {
		for uri, indexed := range cat.ActiveDatasetsBestEffort(ctx, odcProduct) {
			prefixes[reconcile.DatasetPrefix(reconcile.StripBucket(uri))] = indexed
		}
	}
	return prefixes
}

// withBucket prefixes each key with its bucket URI, sorted for stable
// report output. Trailing slashes on dataset prefixes are preserved.
func withBucket(bucket string, keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	uris := make([]string, 0, len(keys))
	for _, k := range keys {
		uris = append(uris, "s3://"+bucket+"/"+strings.TrimPrefix(k, "/"))
	}
	sort.Strings(uris)
	return uris
}
