package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/notify"
)

// PublishAPI is the subset of the SNS client the sink uses.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes each notification to an SNS topic so other devices or
// services can fan it out further.
type SNSSink struct {
	client   PublishAPI
	topicARN string
	userID   string
	logger   *zap.Logger
}

type SNSConfig struct {
	TopicARN string
	Region   string
	// Endpoint overrides the service endpoint (LocalStack).
	Endpoint string
	UserID   string
}

// NewSNSSink loads the default AWS configuration and builds an SNS client.
func NewSNSSink(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSink, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SNS: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewSNSSinkWithClient(client, cfg.TopicARN, cfg.UserID, logger), nil
}

func NewSNSSinkWithClient(client PublishAPI, topicARN, userID string, logger *zap.Logger) *SNSSink {
	return &SNSSink{
		client:   client,
		topicARN: topicARN,
		userID:   userID,
		logger:   logger,
	}
}

func (s *SNSSink) Name() string { return "sns" }

func (s *SNSSink) Notify(ctx context.Context, n notify.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"category": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(n.Category)),
			},
		},
	}
	// SNS rejects empty subjects and attribute values
	if n.Title != "" {
		input.Subject = aws.String(n.Title)
	}
	if s.userID != "" {
		input.MessageAttributes["user_id"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.userID),
		}
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	s.logger.Debug("notification published to SNS",
		zap.String("notification_id", n.ID),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}
