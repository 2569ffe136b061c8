package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitalearthafrica/deafrica-sync/internal/catalog"
	"github.com/digitalearthafrica/deafrica-sync/internal/report"
	"github.com/digitalearthafrica/deafrica-sync/internal/storage"
)

var duplicatesCmd = &cobra.Command{
	Use:   "find-duplicates PRODUCT OUTPUT_URI",
	Short: "List catalog datasets sharing a metadata document",
	Long: `Find active datasets of PRODUCT that share one metadata document URI and
write the shared URIs to a dated text report under
OUTPUT_URI/status-report/. Datasets are considered duplicates if they have
the same STAC file path.`,
	Args: cobra.ExactArgs(2),
	RunE: runDuplicates,
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp()
	if err != nil {
		return err
	}

	p, err := a.product(args[0])
	if err != nil {
		return err
	}
	outputBase := args[1]

	cat, err := catalog.Open(a.cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to the datacube index: %w", err)
	}
	defer cat.Close()
	cat.WithLogger(a.logger)

	var uris []string
	for _, odcProduct := range p.ODCProducts {
		dup, err := cat.DuplicateURIs(ctx, odcProduct)
		if err != nil {
			return err
		}
		uris = append(uris, dup...)
	}
	sort.Strings(uris)

	a.logger.InfoContext(ctx, "duplicate scan finished",
		slog.String("product", p.Name),
		slog.Int("duplicates", len(uris)),
	)

	awsCfg, err := a.awsConfig(ctx, a.cfg.AWS.Region)
	if err != nil {
		return err
	}
	store := storage.NewFromConfig(awsCfg).WithLogger(a.logger)

	output := storage.JoinURI(outputBase, report.StatusReportPrefix,
		fmt.Sprintf("%s_duplicate_datasets_%s.txt", p.Name, time.Now().Format("2006-01-02")))

	body := strings.Join(uris, "\n") + "\n"
	if err := store.Dump(ctx, output, []byte(body), "text/plain"); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "duplicate dataset URIs written",
		slog.String("product", p.Name),
		slog.String("output", output),
	)
	return nil
}
