// Package transport keeps a STOMP-over-WebSocket session to the chat
// backend alive and routes messages on subscribed destinations to handlers.
package transport

import (
	"context"
	"time"

	"github.com/lalithlochan/orderpulse/internal/backend"
)

// State is the connection state of the adapter.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Destinations on the broker.
const (
	roomTopicPrefix = "/topic/room/"
	userTopicPrefix = "/topic/user/"
	sendDestination = "/app/chat.sendMessage"
)

// Handler receives decoded chat messages for one subscription, in arrival
// order.
type Handler func(msg backend.ChatMessage)

// Unsubscribe cancels a subscription. Calling it more than once is safe.
type Unsubscribe func()

// Target identifies the endpoint and identity of a session.
type Target struct {
	URL    string
	UserID string
}

// Session is one live broker connection.
type Session interface {
	Subscribe(destination string) (Subscription, error)
	Send(destination string, body []byte) error
	// Done is closed when the underlying connection is lost.
	Done() <-chan struct{}
	Close() error
}

// Subscription delivers raw message bodies. Messages is closed when the
// subscription ends.
type Subscription interface {
	Messages() <-chan []byte
	Unsubscribe() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, target Target, token string) (Session, error)
}

// TokenSource issues one-time socket tokens.
type TokenSource interface {
	SocketToken(ctx context.Context) (string, error)
}

// Config tunes reconnect behavior.
type Config struct {
	ReconnectDelay time.Duration
	HeartBeat      time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.HeartBeat <= 0 {
		c.HeartBeat = 4 * time.Second
	}
	return c
}
