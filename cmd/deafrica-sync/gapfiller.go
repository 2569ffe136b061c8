package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/digitalearthafrica/deafrica-sync/internal/products"
	"github.com/digitalearthafrica/deafrica-sync/internal/queue"
	"github.com/digitalearthafrica/deafrica-sync/internal/reconcile"
	"github.com/digitalearthafrica/deafrica-sync/internal/report"
	"github.com/digitalearthafrica/deafrica-sync/internal/stac"
	"github.com/digitalearthafrica/deafrica-sync/internal/storage"
)

var (
	gapFillerLimit    int
	gapFillerSlackURL string
	gapFillerDryRun   bool
)

var gapFillerCmd = &cobra.Command{
	Use:   "gap-filler IDX MAX_WORKERS [QUEUE] [PRODUCT]",
	Short: "Republish the missing scenes of the latest gap report to a sync queue",
	Long: `Read the latest gap report for PRODUCT, shard its missing scenes equally
across MAX_WORKERS workers, and publish this worker's shard (worker IDX,
zero-based) to the sync QUEUE in batches of 10.

QUEUE defaults to the product's sync queue, PRODUCT to s2_l2a. A worker
whose index falls past the last shard exits cleanly without publishing.`,
	Args: cobra.RangeArgs(2, 4),
	RunE: runGapFiller,
}

func init() {
	gapFillerCmd.Flags().IntVarP(&gapFillerLimit, "limit", "l", 0,
		"limit the number of scenes read from the report (0 = no limit)")
	gapFillerCmd.Flags().StringVar(&gapFillerSlackURL, "slack-url", "",
		"Slack webhook URL for notifications")
	gapFillerCmd.Flags().BoolVar(&gapFillerDryRun, "dry-run", false,
		"prepare messages but do not send them")
}

func runGapFiller(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp()
	if err != nil {
		return err
	}

	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 0 {
		return fmt.Errorf("worker index must be a non-negative integer, got %q", args[0])
	}
	maxWorkers, err := strconv.Atoi(args[1])
	if err != nil || maxWorkers < 1 {
		return fmt.Errorf("worker count must be a positive integer, got %q", args[1])
	}
	if gapFillerLimit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", gapFillerLimit)
	}

	productName := "s2_l2a"
	if len(args) > 3 {
		productName = args[3]
	}
	p, err := a.product(productName)
	if err != nil {
		return err
	}

	queueName := p.DefaultQueue
	if len(args) > 2 {
		queueName = args[2]
	}
	if queueName == "" {
		return fmt.Errorf("product %q has no default sync queue, pass QUEUE explicitly", p.Name)
	}
	env := environment(queueName)

	a.logger.InfoContext(ctx, "gap filler started",
		slog.String("product", p.Name),
		slog.String("queue", queueName),
		slog.Int("worker", idx),
		slog.Int("max_workers", maxWorkers),
		slog.Int("limit", gapFillerLimit),
		slog.Bool("dry_run", gapFillerDryRun),
	)

	destCfg, err := a.awsConfig(ctx, a.cfg.AWS.Region)
	if err != nil {
		return err
	}
	store := storage.NewFromConfig(destCfg).WithLogger(a.logger)

	folder := fmt.Sprintf("s3://%s/%s/", p.DestinationBucket, report.StatusReportPrefix)
	latest, err := report.FindLatest(ctx, store, folder, "gap_report", "orphaned")
	if err != nil {
		return err
	}
	update := report.IsUpdate(latest)

	a.logger.InfoContext(ctx, "latest report resolved",
		slog.String("report", latest),
		slog.Bool("update", update),
	)

	scenes, err := report.ReadMissing(ctx, store, latest, gapFillerLimit)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "missing scenes read", slog.Int("scenes", len(scenes)))

	shards, err := reconcile.SplitEqually(scenes, maxWorkers)
	if err != nil {
		return err
	}
	if idx >= len(shards) {
		a.logger.WarnContext(ctx, "worker skipped, no shard at this index",
			slog.Int("worker", idx),
			slog.Int("shards", len(shards)),
		)
		return nil
	}
	shard := shards[idx]

	bodies, prepFailed := a.prepareMessages(ctx, p, shard, update)

	sent, failed := 0, 0
	if gapFillerDryRun {
		a.logger.InfoContext(ctx, "dry run, messages not sent", slog.Int("prepared", len(bodies)))
	} else {
		pub := queue.NewPublisherFromConfig(destCfg).WithLogger(a.logger)
		queueURL, err := pub.ResolveQueueURL(ctx, queueName)
		if err != nil {
			return err
		}
		sent, failed = pub.PublishAll(ctx, queueURL, bodies)
	}

	errorFlag := ""
	if failed+prepFailed > 0 {
		errorFlag = ":red_circle:"
	}
	message := fmt.Sprintf(
		"%s*%s Gap Filler (worker %d) - %s*\n"+
			"Total messages: %d\n"+
			"Attempted worker messages prepared: %d\n"+
			"Failed messages prepared: %d\n"+
			"Sent Messages: %d\n"+
			"Failed Messages: %d\n",
		errorFlag, p.Title, idx, env,
		len(scenes), len(shard), prepFailed, sent, failed,
	)

	a.logger.InfoContext(ctx, message)

	if n := a.notifier(gapFillerSlackURL); n != nil && !gapFillerDryRun {
		if err := n.Send(ctx, fmt.Sprintf("%s Gap Filler", p.Title), message); err != nil {
			a.logger.ErrorContext(ctx, "failed to send notification", slog.String("error", err.Error()))
		}
	}

	if failed+prepFailed > 0 {
		return fmt.Errorf("%d messages failed", failed+prepFailed)
	}
	return nil
}

// prepareMessages turns scene paths into queue message bodies. Scenes that
// cannot be prepared are logged and counted, not fatal.
func (a *app) prepareMessages(ctx context.Context, p *products.Product, scenes []string, update bool) (bodies []string, failed int) {
	switch p.Kind {
	case products.KindLandsat:
		for _, scene := range scenes {
			body, err := stac.NewLandsatMessage(scene, update)
			if err != nil {
				a.logger.ErrorContext(ctx, "error generating message",
					slog.String("scene", scene),
					slog.String("error", err.Error()),
				)
				failed++
				continue
			}
			bodies = append(bodies, body)
		}
		return bodies, failed

	case products.KindSentinel2:
		srcCfg, err := a.awsConfig(ctx, a.cfg.AWS.SourceRegion)
		if err != nil {
			a.logger.ErrorContext(ctx, "error loading source AWS config", slog.String("error", err.Error()))
			return nil, len(scenes)
		}
		srcStore := storage.NewFromConfig(srcCfg).WithLogger(a.logger)

		for _, scene := range scenes {
			body, err := a.sentinel2Message(ctx, srcStore, scene, p.Name)
			if err != nil {
				a.logger.ErrorContext(ctx, "error generating message",
					slog.String("scene", scene),
					slog.String("error", err.Error()),
				)
				failed++
				continue
			}
			bodies = append(bodies, body)
		}
		return bodies, failed
	}

	return nil, len(scenes)
}

func (a *app) sentinel2Message(ctx context.Context, store *storage.Store, scene, product string) (string, error) {
	raw, err := store.Fetch(ctx, scene)
	if err != nil {
		return "", err
	}

	var item stac.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", fmt.Errorf("failed to decode STAC document %s: %w", scene, err)
	}

	return stac.NewItemMessage(&item, product)
}
