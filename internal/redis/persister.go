package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/notify"
)

// NotificationPersister stores one user's notification list as a single
// JSON document. It implements notify.Persister.
type NotificationPersister struct {
	client *Client
	logger *zap.Logger
	key    string
}

// NewNotificationPersister creates a persister for userID's list.
func NewNotificationPersister(client *Client, userID string, logger *zap.Logger) *NotificationPersister {
	return &NotificationPersister{
		client: client,
		logger: logger,
		key:    notificationsKey(userID),
	}
}

func notificationsKey(userID string) string {
	return fmt.Sprintf("%snotifications:%s", keyPrefix, userID)
}

// Load returns the stored list, or nil if nothing was saved.
func (p *NotificationPersister) Load(ctx context.Context) ([]notify.Notification, error) {
	data, err := p.client.rdb.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var items []notify.Notification
	if err := json.Unmarshal(data, &items); err != nil {
		// a corrupt document is dropped rather than blocking startup
		p.logger.Warn("discarding unreadable notification list",
			zap.String("key", p.key),
			zap.Error(err),
		)
		return nil, nil
	}
	return items, nil
}

// Save replaces the stored list. An empty list deletes the key.
func (p *NotificationPersister) Save(ctx context.Context, items []notify.Notification) error {
	if len(items) == 0 {
		if err := p.client.rdb.Del(ctx, p.key).Err(); err != nil {
			return fmt.Errorf("redis del failed: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}

	if err := p.client.rdb.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
