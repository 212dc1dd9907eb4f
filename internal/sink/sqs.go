package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/notify"
)

// SendMessageAPI is the subset of the SQS client the sink uses.
type SendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueMessage is the body written to the queue.
type QueueMessage struct {
	UserID       string              `json:"user_id"`
	Notification notify.Notification `json:"notification"`
	EnqueuedAt   int64               `json:"enqueued_at"`
}

type SQSConfig struct {
	QueueURL string
	Region   string
	UserID   string
}

// SQSSink enqueues each notification for downstream consumers such as an
// analytics or digest service.
type SQSSink struct {
	client   SendMessageAPI
	queueURL string
	userID   string
	logger   *zap.Logger
	now      func() time.Time
}

// NewSQSSink loads the default AWS configuration and builds an SQS client.
func NewSQSSink(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*SQSSink, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SQS: %w", err)
	}

	logger.Info("sqs sink initialized", zap.String("queue_url", cfg.QueueURL))

	return NewSQSSinkWithClient(sqs.NewFromConfig(awsCfg), cfg.QueueURL, cfg.UserID, logger), nil
}

func NewSQSSinkWithClient(client SendMessageAPI, queueURL, userID string, logger *zap.Logger) *SQSSink {
	return &SQSSink{
		client:   client,
		queueURL: queueURL,
		userID:   userID,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *SQSSink) Name() string { return "sqs" }

func (s *SQSSink) Notify(ctx context.Context, n notify.Notification) error {
	body, err := json.Marshal(QueueMessage{
		UserID:       s.userID,
		Notification: n,
		EnqueuedAt:   s.now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"category": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(n.Category)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send failed: %w", err)
	}

	s.logger.Debug("notification enqueued",
		zap.String("notification_id", n.ID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
