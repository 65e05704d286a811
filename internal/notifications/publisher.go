package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventPublisher sends DatasetEvents to the platform event SQS queue.
type EventPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewEventPublisher creates a publisher targeting the given event queue.
func NewEventPublisher(client SQSSender, queueURL string, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Publish stamps OccurredAt if the caller left it zero, serializes the event,
// and sends it to the event queue. The event kind rides along as a message
// attribute so consumers can filter error events without parsing bodies.
func (p *EventPublisher) Publish(ctx context.Context, evt types.DatasetEvent) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = p.nowFn()
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notifications: failed to marshal DatasetEvent: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(evt.Kind)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("notifications: failed to send DatasetEvent to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "dataset event published",
		"queue_url", p.queueURL,
		"kind", string(evt.Kind),
		"account_id", evt.Key.AccountID,
		"country_code", evt.Key.CountryCode,
		"period_start", evt.Key.PeriodStart,
		"aggregation", string(evt.Key.Aggregation),
		"entity_type", string(evt.Key.EntityType),
		"new_status", string(evt.NewStatus),
		"refreshing", evt.Refreshing,
	)

	return nil
}

var _ Notifier = (*EventPublisher)(nil)
