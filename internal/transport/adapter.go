package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/backend"
	"github.com/lalithlochan/orderpulse/internal/metrics"
)

// Adapter owns at most one active session. While a target is set it keeps
// reconnecting with a fixed delay and re-issues every subscription after
// each reconnect. Failures never escape: they are logged and reflected in
// State.
type Adapter struct {
	dialer Dialer
	tokens TokenSource
	cfg    Config
	logger *zap.Logger

	// lifecycle serializes Connect and Disconnect.
	lifecycle sync.Mutex

	mu        sync.Mutex
	state     State
	target    Target
	active    bool
	session   Session
	subs      map[string]*subscription
	cancel    context.CancelFunc
	done      chan struct{}
	listeners []func(State)
}

type subscription struct {
	destination string
	handler     Handler

	live Subscription
	stop chan struct{}
}

// NewAdapter creates a disconnected adapter.
func NewAdapter(dialer Dialer, tokens TokenSource, cfg Config, logger *zap.Logger) *Adapter {
	return &Adapter{
		dialer: dialer,
		tokens: tokens,
		cfg:    cfg.withDefaults(),
		logger: logger,
		subs:   make(map[string]*subscription),
	}
}

// Connect activates the adapter for target. It returns immediately; the
// connection is established in the background and kept alive until ctx is
// cancelled or Disconnect is called. Connecting to the current target is a
// no-op. Connecting to a different target tears the old session down first
// but keeps the subscriptions, which are re-issued on the new session.
func (a *Adapter) Connect(ctx context.Context, target Target) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.mu.Lock()
	if a.active && a.target == target {
		a.mu.Unlock()
		return
	}
	if a.active {
		a.logger.Info("switching transport target",
			zap.String("from_user", a.target.UserID),
			zap.String("to_user", target.UserID),
		)
	}
	a.mu.Unlock()

	a.stop()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.target = target
	a.active = true
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go a.run(loopCtx, target, done)
}

// Disconnect deactivates the adapter and forgets every subscription.
func (a *Adapter) Disconnect() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	a.stop()

	a.mu.Lock()
	for _, sub := range a.subs {
		sub.detach()
	}
	a.subs = make(map[string]*subscription)
	a.target = Target{}
	a.mu.Unlock()

	metrics.SetRoomSubscriptions(0)
}

// stop cancels the run loop and waits for it to exit.
func (a *Adapter) stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.active = false
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// OnStateChange registers fn to be called after every state transition.
// fn runs on the adapter's goroutine and must not block.
func (a *Adapter) OnStateChange(fn func(State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// SubscribeRoom delivers messages for roomID to h. A second subscription to
// the same room returns the existing one's canceller and ignores h.
func (a *Adapter) SubscribeRoom(roomID string, h Handler) Unsubscribe {
	return a.subscribe(roomTopicPrefix+roomID, h)
}

// SubscribeUser delivers messages addressed to userID's inbox to h.
func (a *Adapter) SubscribeUser(userID string, h Handler) Unsubscribe {
	return a.subscribe(userTopicPrefix+userID, h)
}

// SubscribedRooms lists the room ids with an active subscription.
func (a *Adapter) SubscribedRooms() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	rooms := make([]string, 0, len(a.subs))
	for dest := range a.subs {
		if id, ok := strings.CutPrefix(dest, roomTopicPrefix); ok {
			rooms = append(rooms, id)
		}
	}
	sort.Strings(rooms)
	return rooms
}

// SendMessage publishes a chat message from the current user. When not
// connected the message is dropped and SendMessage returns false.
func (a *Adapter) SendMessage(roomID, content, receiverID string) bool {
	a.mu.Lock()
	session, state, sender := a.session, a.state, a.target.UserID
	a.mu.Unlock()

	if state != StateConnected || session == nil {
		a.logger.Warn("dropping message: transport not connected",
			zap.String("room_id", roomID),
			zap.String("state", state.String()),
		)
		return false
	}

	body, err := json.Marshal(backend.ChatMessage{
		RoomID:     roomID,
		SenderID:   sender,
		ReceiverID: receiverID,
		Content:    content,
	})
	if err != nil {
		a.logger.Error("failed to encode chat message", zap.Error(err))
		return false
	}

	if err := session.Send(sendDestination, body); err != nil {
		a.logger.Warn("failed to send chat message",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (a *Adapter) subscribe(destination string, h Handler) Unsubscribe {
	a.mu.Lock()
	sub, ok := a.subs[destination]
	if !ok {
		sub = &subscription{destination: destination, handler: h}
		a.subs[destination] = sub
		if a.session != nil {
			a.attachLocked(a.session, sub)
		}
	}
	rooms := a.roomCountLocked()
	a.mu.Unlock()

	metrics.SetRoomSubscriptions(rooms)

	var once sync.Once
	return func() {
		once.Do(func() { a.unsubscribe(sub) })
	}
}

func (a *Adapter) unsubscribe(sub *subscription) {
	a.mu.Lock()
	if a.subs[sub.destination] == sub {
		delete(a.subs, sub.destination)
	}
	live := sub.detach()
	rooms := a.roomCountLocked()
	a.mu.Unlock()

	metrics.SetRoomSubscriptions(rooms)

	if live != nil {
		if err := live.Unsubscribe(); err != nil {
			a.logger.Debug("unsubscribe failed",
				zap.String("destination", sub.destination),
				zap.Error(err),
			)
		}
	}
}

func (a *Adapter) run(ctx context.Context, target Target, done chan struct{}) {
	defer close(done)

	for {
		a.setState(StateConnecting)

		session, err := a.dial(ctx, target)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("transport connect failed",
					zap.String("url", target.URL),
					zap.Duration("retry_in", a.cfg.ReconnectDelay),
					zap.Error(err),
				)
			}
		} else {
			a.attach(session)
			a.setState(StateConnected)
			a.logger.Info("transport connected", zap.String("user_id", target.UserID))

			select {
			case <-session.Done():
				a.logger.Warn("transport connection lost",
					zap.Duration("retry_in", a.cfg.ReconnectDelay),
				)
			case <-ctx.Done():
			}

			a.detach()
			if err := session.Close(); err != nil {
				a.logger.Debug("session close failed", zap.Error(err))
			}
		}

		a.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}

		metrics.RecordReconnect()
		timer := time.NewTimer(a.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (a *Adapter) dial(ctx context.Context, target Target) (Session, error) {
	token, err := a.tokens.SocketToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch socket token: %w", err)
	}

	session, err := a.dialer.Dial(ctx, target, token)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.URL, err)
	}
	return session, nil
}

func (a *Adapter) attach(session Session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.session = session
	for _, sub := range a.subs {
		a.attachLocked(session, sub)
	}
}

// attachLocked must be called with mu held.
func (a *Adapter) attachLocked(session Session, sub *subscription) {
	live, err := session.Subscribe(sub.destination)
	if err != nil {
		a.logger.Warn("subscribe failed",
			zap.String("destination", sub.destination),
			zap.Error(err),
		)
		return
	}

	sub.live = live
	sub.stop = make(chan struct{})
	go a.pump(sub.destination, live, sub.handler, sub.stop)
}

func (a *Adapter) detach() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.session = nil
	for _, sub := range a.subs {
		sub.detach()
	}
}

// detach stops the pump and returns the live subscription, if any. It must
// be called with the adapter mutex held.
func (s *subscription) detach() Subscription {
	live := s.live
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.live = nil
	return live
}

// pump delivers one subscription's messages in order.
func (a *Adapter) pump(destination string, live Subscription, h Handler, stop <-chan struct{}) {
	messages := live.Messages()
	for {
		select {
		case <-stop:
			return
		case body, ok := <-messages:
			if !ok {
				return
			}

			var msg backend.ChatMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				a.logger.Warn("dropping undecodable message",
					zap.String("destination", destination),
					zap.Error(err),
				)
				continue
			}
			h(msg)
		}
	}
}

func (a *Adapter) setState(state State) {
	a.mu.Lock()
	if a.state == state {
		a.mu.Unlock()
		return
	}
	a.state = state
	listeners := append([]func(State){}, a.listeners...)
	a.mu.Unlock()

	metrics.SetTransportState(int(state))
	for _, fn := range listeners {
		fn(state)
	}
}

// roomCountLocked must be called with mu held.
func (a *Adapter) roomCountLocked() int {
	count := 0
	for dest := range a.subs {
		if strings.HasPrefix(dest, roomTopicPrefix) {
			count++
		}
	}
	return count
}
