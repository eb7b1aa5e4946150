package notifications

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/verification"
)

const statusEventPrefix = "submission-"

// SNSAPI is the subset of the SNS client used by Publisher
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher forwards terminal status events to an SNS topic
type Publisher struct {
	client   SNSAPI
	topicARN string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPublisher creates a publisher for topicARN
func NewPublisher(client SNSAPI, topicARN string, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, topicARN: topicARN, timeout: 5 * time.Second, logger: logger}
}

// NewSNSClient builds an SNS client from an AWS config
func NewSNSClient(cfg aws.Config) *sns.Client {
	return sns.NewFromConfig(cfg)
}

// Notify publishes status events and ignores the rest. It is meant to run behind a
// verification.Dispatcher, which calls sinks off the pipeline goroutine.
func (p *Publisher) Notify(event verification.Event) {
	if !strings.HasPrefix(event.Name, statusEventPrefix) {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode status event", zap.String("event", event.Name), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String(event.Name),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {DataType: aws.String("String"), StringValue: aws.String(event.Name)},
			"kind":  {DataType: aws.String("String"), StringValue: aws.String(string(event.Kind))},
		},
	})
	if err != nil {
		p.logger.Warn("Failed to publish status event",
			zap.String("event", event.Name),
			zap.String("submission_id", event.SubmissionID),
			zap.Error(err))
		return
	}

	p.logger.Debug("Status event published",
		zap.String("event", event.Name),
		zap.String("message_id", aws.ToString(out.MessageId)))
}
