package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digitalearthafrica/deafrica-sync/internal/queue"
)

var deadQueuesSlackURL string

var deadQueuesCmd = &cobra.Command{
	Use:   "check-dead-queues",
	Short: "Alert when any dead-letter queue has messages",
	Args:  cobra.NoArgs,
	RunE:  runDeadQueues,
}

func init() {
	deadQueuesCmd.Flags().StringVar(&deadQueuesSlackURL, "slack-url", "",
		"Slack webhook URL for notifications")
}

func runDeadQueues(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp()
	if err != nil {
		return err
	}

	awsCfg, err := a.awsConfig(ctx, a.cfg.AWS.Region)
	if err != nil {
		return err
	}

	statuses, err := queue.NewPublisherFromConfig(awsCfg).WithLogger(a.logger).
		DeadLetterQueues(ctx, "deadletter")
	if err != nil {
		return err
	}

	env := "Unknown"
	var bad []string
	for _, status := range statuses {
		if status.Messages == 0 {
			continue
		}
		if parts := strings.Split(status.Name, "-"); len(parts) > 1 {
			env = strings.ToUpper(parts[1])
		}
		bad = append(bad, fmt.Sprintf(" - Queue `%s` has %d items", status.Name, status.Messages))
	}

	if len(bad) == 0 {
		a.logger.InfoContext(ctx, "no messages on dead-letter queues",
			"queues_checked", len(statuses),
		)
		return nil
	}

	message := fmt.Sprintf(
		"*Environment*: %s\n Found %d dead queues with messages:\n%s",
		env, len(bad), strings.Join(bad, "\n"),
	)

	a.logger.ErrorContext(ctx, message)

	if n := a.notifier(deadQueuesSlackURL); n != nil {
		if err := n.Send(ctx, "Dead Letter Checker", message); err != nil {
			a.logger.ErrorContext(ctx, "failed to send notification", "error", err.Error())
		}
	}

	return fmt.Errorf("found %d dead-letter queues with messages", len(bad))
}
