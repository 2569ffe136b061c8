// Package queue publishes work messages to SQS and inspects dead-letter
// queues.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// API is the subset of the SQS client used by this package.
type API interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// MaxBatch is the SQS SendMessageBatch entry limit.
const MaxBatch = 10

// Publisher sends message bodies to a queue in batches.
type Publisher struct {
	client API
	logger *slog.Logger
}

// NewPublisher creates a Publisher around an SQS client.
func NewPublisher(client API) *Publisher {
	return &Publisher{
		client: client,
		logger: slog.Default(),
	}
}

// NewPublisherFromConfig creates a Publisher from a resolved AWS config.
func NewPublisherFromConfig(cfg aws.Config) *Publisher {
	return NewPublisher(sqs.NewFromConfig(cfg))
}

// WithLogger sets a custom logger for the publisher.
func (p *Publisher) WithLogger(logger *slog.Logger) *Publisher {
	p.logger = logger
	return p
}

// ResolveQueueURL looks up the URL of a queue by name.
func (p *Publisher) ResolveQueueURL(ctx context.Context, name string) (string, error) {
	out, err := p.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue %s: %w", name, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

// PublishAll sends every body to the queue in batches of MaxBatch.
// Individual failures are counted and logged, never raised: a bad message
// must not stop the rest of the shard. Delivery is at-least-once; a
// restarted worker re-publishes its whole shard.
func (p *Publisher) PublishAll(ctx context.Context, queueURL string, bodies []string) (sent, failed int) {
	for start := 0; start < len(bodies); start += MaxBatch {
		end := start + MaxBatch
		if end > len(bodies) {
			end = len(bodies)
		}
		s, f := p.sendBatch(ctx, queueURL, bodies[start:end], start)
		sent += s
		failed += f
	}
	return sent, failed
}

func (p *Publisher) sendBatch(ctx context.Context, queueURL string, bodies []string, offset int) (sent, failed int) {
	entries := make([]types.SendMessageBatchRequestEntry, 0, len(bodies))
	for i, body := range bodies {
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(offset + i)),
			MessageBody: aws.String(body),
		})
	}

	out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(queueURL),
		Entries:  entries,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to publish batch",
			slog.String("queue_url", queueURL),
			slog.Int("batch_size", len(entries)),
			slog.String("error", err.Error()),
		)
		return 0, len(entries)
	}

	for _, f := range out.Failed {
		p.logger.ErrorContext(ctx, "message rejected by queue",
			slog.String("id", aws.ToString(f.Id)),
			slog.String("code", aws.ToString(f.Code)),
			slog.String("message", aws.ToString(f.Message)),
		)
	}
	return len(out.Successful), len(out.Failed)
}

// QueueStatus is the name and depth of one queue.
type QueueStatus struct {
	Name     string
	URL      string
	Messages int
}

// DeadLetterQueues returns the status of every queue whose name contains
// the given substring.
func (p *Publisher) DeadLetterQueues(ctx context.Context, contains string) ([]QueueStatus, error) {
	var statuses []QueueStatus

	var next *string
	for {
		out, err := p.client.ListQueues(ctx, &sqs.ListQueuesInput{
			QueueNamePrefix: nil,
			NextToken:       next,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list queues: %w", err)
		}

		for _, url := range out.QueueUrls {
			name := queueNameFromURL(url)
			if contains != "" && !strings.Contains(name, contains) {
				continue
			}
			attrs, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
				QueueUrl:       aws.String(url),
				AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to read attributes of %s: %w", name, err)
			}
			depth, _ := strconv.Atoi(attrs.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
			statuses = append(statuses, QueueStatus{Name: name, URL: url, Messages: depth})
		}

		if out.NextToken == nil {
			break
		}
		next = out.NextToken
	}

	return statuses, nil
}

func queueNameFromURL(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
