// deafrica-sync entry point
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"github.com/digitalearthafrica/deafrica-sync/internal/config"
	"github.com/digitalearthafrica/deafrica-sync/internal/products"
	"github.com/digitalearthafrica/deafrica-sync/internal/slack"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// httpTimeout bounds every outbound HTTP request the jobs make (Slack,
// reference sets, USGS bulk files).
const httpTimeout = 5 * time.Minute

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "deafrica-sync",
	Short: "Digital Earth Africa mirror and catalog sync tooling",
	Long: `deafrica-sync keeps the Digital Earth Africa mirror buckets and the
ODC index honest: it diffs upstream archives against the Africa mirrors,
republishes missing scenes to the sync queues, and raises the alarm when
dead-letter queues fill up or data goes stale.

Each subcommand is a standalone batch job intended to run as a pod.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"deafrica-sync version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(gapReportCmd)
	rootCmd.AddCommand(gapFillerCmd)
	rootCmd.AddCommand(deadQueuesCmd)
	rootCmd.AddCommand(latencyCheckCmd)
	rootCmd.AddCommand(duplicatesCmd)
}

// app bundles the dependencies every job starts from.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *products.Registry
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	registry, err := products.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build product registry: %w", err)
	}

	return &app{cfg: cfg, logger: logger, registry: registry}, nil
}

func (a *app) product(name string) (*products.Product, error) {
	p := a.registry.Get(name)
	if p == nil {
		return nil, fmt.Errorf("unknown product %q, expected one of: %s",
			name, strings.Join(a.registry.Names(), ", "))
	}
	return p, nil
}

func (a *app) awsConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config for region %s: %w", region, err)
	}
	return cfg, nil
}

// notifier returns a Slack notifier for the webhook, preferring the flag
// over the configured default. Nil when neither is set.
func (a *app) notifier(flagURL string) *slack.Notifier {
	url := flagURL
	if url == "" {
		url = a.cfg.Slack.WebhookURL
	}
	if url == "" {
		return nil
	}
	return slack.NewNotifier(url, httpTimeout).WithLogger(a.logger)
}

// environment labels a run from the bucket or queue it targets.
func environment(name string) string {
	if strings.Contains(name, "dev") {
		return "DEV"
	}
	return "PDS"
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
