package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OrderStatus is the lifecycle state of an order as reported by the backend.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusPreparing  OrderStatus = "preparing"
	StatusReady      OrderStatus = "ready"
	StatusDelivering OrderStatus = "delivering"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
)

// UnmarshalJSON accepts the backend's upper-case enum names.
func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("order status: %w", err)
	}
	*s = OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}

// Restaurant is the subset of restaurant fields nested in an order.
type Restaurant struct {
	Name string `json:"name"`
}

// Order is a single order belonging to the current user.
type Order struct {
	ID         string      `json:"id"`
	UserID     string      `json:"userId,omitempty"`
	Status     OrderStatus `json:"status"`
	Restaurant *Restaurant `json:"restaurant,omitempty"`
}

// RestaurantName returns the nested restaurant name, or "" when absent.
func (o Order) RestaurantName() string {
	if o.Restaurant == nil {
		return ""
	}
	return o.Restaurant.Name
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID         flexID      `json:"id"`
		UserID     flexID      `json:"userId"`
		Status     OrderStatus `json:"status"`
		Restaurant *Restaurant `json:"restaurant"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*o = Order{
		ID:         string(wire.ID),
		UserID:     string(wire.UserID),
		Status:     wire.Status,
		Restaurant: wire.Restaurant,
	}
	return nil
}

// Room is a chat conversation between two participants.
type Room struct {
	ID            string    `json:"id"`
	User1ID       string    `json:"user1Id,omitempty"`
	User2ID       string    `json:"user2Id,omitempty"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	LastMessageAt Timestamp `json:"lastMessageTime"`
}

// Counterpart returns the participant that is not userID.
func (r Room) Counterpart(userID string) string {
	if r.User1ID == userID {
		return r.User2ID
	}
	return r.User1ID
}

func (r *Room) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID            flexID    `json:"id"`
		User1ID       flexID    `json:"user1Id"`
		User2ID       flexID    `json:"user2Id"`
		LastMessage   string    `json:"lastMessage"`
		LastMessageAt Timestamp `json:"lastMessageTime"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Room{
		ID:            string(wire.ID),
		User1ID:       string(wire.User1ID),
		User2ID:       string(wire.User2ID),
		LastMessage:   wire.LastMessage,
		LastMessageAt: wire.LastMessageAt,
	}
	return nil
}

// ChatMessage is the body exchanged on room topics and the send destination.
type ChatMessage struct {
	RoomID     string     `json:"roomId"`
	SenderID   string     `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Content    string     `json:"content"`
	Timestamp  *Timestamp `json:"timestamp,omitempty"`
}

func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		RoomID     flexID     `json:"roomId"`
		SenderID   flexID     `json:"senderId"`
		ReceiverID flexID     `json:"receiverId"`
		Content    string     `json:"content"`
		Timestamp  *Timestamp `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*m = ChatMessage{
		RoomID:     string(wire.RoomID),
		SenderID:   string(wire.SenderID),
		ReceiverID: string(wire.ReceiverID),
		Content:    wire.Content,
		Timestamp:  wire.Timestamp,
	}
	return nil
}

// Timestamp decodes the time formats the backend emits: RFC3339, zone-less
// ISO local date-times, and epoch milliseconds.
type Timestamp struct {
	time.Time
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}

	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if raw == "" {
		*t = Timestamp{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// flexID accepts both JSON strings and numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}
