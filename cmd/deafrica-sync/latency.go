package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/digitalearthafrica/deafrica-sync/internal/catalog"
	"github.com/digitalearthafrica/deafrica-sync/internal/storage"
)

var (
	latencyDays     int
	latencySlackURL string
)

var latencyCheckCmd = &cobra.Command{
	Use:   "latency-check PRODUCT BUCKET PREFIX",
	Short: "Alert when no fresh data has landed in the mirror or the index",
	Long: `Check how old the newest object under s3://BUCKET/PREFIX and the newest
indexed dataset of PRODUCT are. When either exceeds the latency threshold a
Slack notification is sent.`,
	Args: cobra.ExactArgs(3),
	RunE: runLatencyCheck,
}

func init() {
	latencyCheckCmd.Flags().IntVar(&latencyDays, "days", 3,
		"latency threshold in days")
	latencyCheckCmd.Flags().StringVar(&latencySlackURL, "slack-url", "",
		"Slack webhook URL for notifications")
}

func runLatencyCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp()
	if err != nil {
		return err
	}

	p, err := a.product(args[0])
	if err != nil {
		return err
	}
	bucket, prefix := args[1], args[2]

	if latencyDays < 1 {
		return fmt.Errorf("latency threshold must be at least 1 day, got %d", latencyDays)
	}
	threshold := time.Duration(latencyDays) * 24 * time.Hour

	a.logger.InfoContext(ctx, "latency check started",
		slog.String("product", p.Name),
		slog.String("bucket", bucket),
		slog.String("prefix", prefix),
		slog.Int("days", latencyDays),
	)

	awsCfg, err := a.awsConfig(ctx, a.cfg.AWS.Region)
	if err != nil {
		return err
	}
	store := storage.NewFromConfig(awsCfg).WithLogger(a.logger)

	now := time.Now()

	bucketStale, err := bucketExceeds(ctx, store, bucket, prefix, now, threshold)
	if err != nil {
		return err
	}
	indexStale := a.indexExceeds(ctx, p.ODCProducts, now, threshold)

	var exceeded string
	switch {
	case bucketStale && indexStale:
		exceeded = "Latency exceeded in Data Cube and S3 bucket"
	case indexStale:
		exceeded = "Latency exceeded in Data Cube"
	case bucketStale:
		exceeded = "Latency exceeded in S3 bucket"
	default:
		a.logger.InfoContext(ctx, "latency within threshold", slog.String("product", p.Name))
		return nil
	}

	message := fmt.Sprintf(
		"Data Latency Checker - Latency Exceed on %s!\nExceeded: %s\n",
		p.Name, exceeded,
	)

	a.logger.WarnContext(ctx, message)

	if n := a.notifier(latencySlackURL); n != nil {
		if err := n.Send(ctx, "Data Latency Checker", message); err != nil {
			a.logger.ErrorContext(ctx, "failed to send notification", slog.String("error", err.Error()))
		}
	}

	return nil
}

// bucketExceeds reports whether the newest object under the prefix is older
// than the threshold. An empty prefix counts as stale.
func bucketExceeds(ctx context.Context, store *storage.Store, bucket, prefix string, now time.Time, threshold time.Duration) (bool, error) {
	_, lastModified, err := store.LatestUnder(ctx, "s3://"+bucket+"/"+prefix)
	if errors.Is(err, storage.ErrNoObjects) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check bucket latency: %w", err)
	}
	return now.Sub(lastModified) > threshold, nil
}

// indexExceeds reports whether every ODC product's newest dataset is older
// than the threshold. An unreachable index counts as stale so the check
// errs towards alerting.
func (a *app) indexExceeds(ctx context.Context, odcProducts []string, now time.Time, threshold time.Duration) bool {
	cat, err := catalog.Open(a.cfg.DB.DSN())
	if err != nil {
		a.logger.ErrorContext(ctx, "error while connecting to the datacube index",
			slog.String("error", err.Error()),
		)
		return true
	}
	defer cat.Close()
	cat.WithLogger(a.logger)

	for _, product := range odcProducts {
		latest, err := cat.LatestIndexedAt(ctx, product)
		if err != nil {
			a.logger.ErrorContext(ctx, "error while reading latest indexed dataset",
				slog.String("product", product),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !latest.IsZero() && now.Sub(latest) <= threshold {
			return false
		}
	}
	return true
}
