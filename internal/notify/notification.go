// Package notify holds the user-facing notification list: insertion with
// (correlation id, category) de-duplication, read state, retention, and
// persistence of the list across restarts.
package notify

import (
	"context"
	"time"
)

// Category is the kind of event a notification describes.
type Category string

const (
	CategoryOrderAccepted   Category = "order_accepted"
	CategoryOrderRejected   Category = "order_rejected"
	CategoryOrderConfirmed  Category = "order_confirmed"
	CategoryOrderCompleted  Category = "order_completed"
	CategoryNewOrder        Category = "new_order"
	CategoryMerchantRequest Category = "merchant_request"
	CategoryMessageReceived Category = "message_received"
)

// NonOrderCategories are excluded from the order badge count.
var NonOrderCategories = []Category{
	CategoryMessageReceived,
	CategoryMerchantRequest,
	CategoryNewOrder,
}

// MaxNotifications is the retention cap of the store.
const MaxNotifications = 50

// Notification is one entry in the user's notification list.
type Notification struct {
	ID         string    `json:"id"`
	Category   Category  `json:"category"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	OrderID    string    `json:"order_id,omitempty"`
	RoomID     string    `json:"room_id,omitempty"`
	SenderID   string    `json:"sender_id,omitempty"`
	MerchantID string    `json:"merchant_id,omitempty"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// CorrelationID is the external identifier the notification is keyed on.
func (n Notification) CorrelationID() string {
	switch {
	case n.OrderID != "":
		return n.OrderID
	case n.RoomID != "":
		return n.RoomID
	case n.MerchantID != "":
		return n.MerchantID
	default:
		return n.SenderID
	}
}

func (n Notification) key() dedupKey {
	return dedupKey{correlation: n.CorrelationID(), category: n.Category}
}

type dedupKey struct {
	correlation string
	category    Category
}

// Persister saves and restores the notification list.
type Persister interface {
	Load(ctx context.Context) ([]Notification, error)
	Save(ctx context.Context, items []Notification) error
}

// Sink receives newly inserted notifications for best-effort side effects
// such as a sound cue, a webhook, or a push message.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}
