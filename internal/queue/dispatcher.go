// Package queue provides the SQS producer that hands claimed dataset periods
// to the refresh workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/merchbaseco/bidbeacon-sub001/internal/config"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// RefreshDispatcher sends one RefreshJob message per claimed dataset period to
// the refresh queue. The scheduler claims rows before dispatching, so a lost
// message surfaces later as a stuck claim and is recovered by maintenance, not
// by the dispatcher.
type RefreshDispatcher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewRefreshDispatcher creates a dispatcher targeting the refresh queue from
// the AWS configuration.
func NewRefreshDispatcher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *RefreshDispatcher {
	return &RefreshDispatcher{
		client:   client,
		queueURL: awsCfg.RefreshQueueURL,
		logger:   logger,
	}
}

// Enqueue serializes the RefreshJob and sends it to the refresh queue.
// Aggregation and entity type ride along as message attributes so queue
// consumers and redrive tooling can filter without parsing bodies.
func (d *RefreshDispatcher) Enqueue(ctx context.Context, job types.RefreshJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal RefreshJob: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"aggregation": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(job.Aggregation)),
			},
			"entity_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(job.EntityType)),
			},
		},
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send RefreshJob to %s: %w", d.queueURL, err)
	}

	d.logger.InfoContext(ctx, "refresh job dispatched",
		"queue_url", d.queueURL,
		"job_id", job.JobID,
		"trace_id", job.TraceID,
		"account_id", job.AccountID,
		"country_code", job.CountryCode,
		"period_start", job.PeriodStart,
		"aggregation", string(job.Aggregation),
		"entity_type", string(job.EntityType),
	)

	return nil
}
