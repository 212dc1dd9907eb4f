// Package session ties the per-user pieces together: it loads the user's
// chat rooms once the transport is up, routes every incoming chat message
// through de-duplication into the notification store, and tears all of it
// down on logout.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lalithlochan/orderpulse/internal/backend"
	"github.com/lalithlochan/orderpulse/internal/dedup"
	"github.com/lalithlochan/orderpulse/internal/metrics"
	"github.com/lalithlochan/orderpulse/internal/notify"
	"github.com/lalithlochan/orderpulse/internal/transport"
)

type RoomFetcher interface {
	ListRooms(ctx context.Context, userID string) ([]backend.Room, error)
}

type RoomSubscriber interface {
	SubscribeRoom(roomID string, h transport.Handler) transport.Unsubscribe
}

type NotificationAdder interface {
	Add(ctx context.Context, candidate notify.Notification) (notify.Notification, bool)
}

// Bootstrap owns the room list and the shared message handler.
type Bootstrap struct {
	rooms  RoomFetcher
	sub    RoomSubscriber
	store  NotificationAdder
	ledger *dedup.Ledger
	userID string
	logger *zap.Logger

	// ctx scopes background room refreshes; replaced by Reset.
	ctx    context.Context
	cancel context.CancelFunc

	group singleflight.Group

	mu         sync.Mutex
	loaded     bool
	refreshing bool
	known      map[string]*backend.Room
	subscribed map[string]transport.Unsubscribe

	now func() time.Time
}

func NewBootstrap(rooms RoomFetcher, sub RoomSubscriber, store NotificationAdder, ledger *dedup.Ledger, userID string, logger *zap.Logger) *Bootstrap {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bootstrap{
		rooms:      rooms,
		sub:        sub,
		store:      store,
		ledger:     ledger,
		userID:     userID,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		known:      make(map[string]*backend.Room),
		subscribed: make(map[string]transport.Unsubscribe),
		now:        time.Now,
	}
}

// Loaded reports whether LoadRooms has succeeded this session.
func (b *Bootstrap) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

// LoadRooms fetches the user's rooms and subscribes to each. It runs at
// most once per session; after a failed fetch it may be called again.
func (b *Bootstrap) LoadRooms(ctx context.Context) error {
	if b.Loaded() {
		return nil
	}
	gen := b.context()

	rooms, err := b.fetchRooms(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}

	b.mu.Lock()
	if err := gen.Err(); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("load rooms: %w", err)
	}
	if b.loaded {
		b.mu.Unlock()
		return nil
	}
	b.loaded = true
	b.mu.Unlock()

	added := b.merge(gen, rooms)
	b.logger.Info("rooms loaded",
		zap.Int("rooms", len(rooms)),
		zap.Int("subscribed", added),
	)
	return nil
}

// HandleMessage processes one incoming chat message. Duplicates are
// dropped before any other work happens.
func (b *Bootstrap) HandleMessage(ctx context.Context, msg backend.ChatMessage) {
	if b.ledger.Seen(dedup.Fingerprint(msg, b.now())) {
		metrics.RecordDuplicateMessage()
		b.logger.Debug("duplicate message dropped", zap.String("room_id", msg.RoomID))
		return
	}

	b.mu.Lock()
	room, known := b.known[msg.RoomID]
	if known {
		room.LastMessage = msg.Content
		if msg.Timestamp != nil && !msg.Timestamp.IsZero() {
			room.LastMessageAt = *msg.Timestamp
		} else {
			room.LastMessageAt = backend.Timestamp{Time: b.now()}
		}
	}
	refresh := !known && msg.RoomID != "" && !b.refreshing
	if refresh {
		b.refreshing = true
	}
	b.mu.Unlock()

	if msg.ReceiverID == b.userID {
		b.store.Add(ctx, notify.Notification{
			Category: notify.CategoryMessageReceived,
			Title:    "New message",
			Message:  msg.Content,
			RoomID:   msg.RoomID,
			SenderID: msg.SenderID,
		})
	}

	if refresh {
		go b.refreshRooms(msg.RoomID)
	}
}

// Handler adapts HandleMessage to the transport callback signature.
func (b *Bootstrap) Handler() transport.Handler {
	return func(msg backend.ChatMessage) {
		b.HandleMessage(b.context(), msg)
	}
}

// Rooms returns the known rooms, most recent activity first.
func (b *Bootstrap) Rooms() []backend.Room {
	b.mu.Lock()
	rooms := make([]backend.Room, 0, len(b.known))
	for _, r := range b.known {
		rooms = append(rooms, *r)
	}
	b.mu.Unlock()

	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].LastMessageAt.Equal(rooms[j].LastMessageAt.Time) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastMessageAt.After(rooms[j].LastMessageAt.Time)
	})
	return rooms
}

// Room returns one known room.
func (b *Bootstrap) Room(id string) (backend.Room, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.known[id]; ok {
		return *r, true
	}
	return backend.Room{}, false
}

// Reset clears per-session state: loaded flag, rooms, subscriptions and
// the de-duplication ledger. In-flight refreshes are abandoned.
func (b *Bootstrap) Reset() {
	b.mu.Lock()
	b.cancel()
	b.ctx, b.cancel = context.WithCancel(context.Background())
	subs := b.subscribed
	b.loaded = false
	b.refreshing = false
	b.known = make(map[string]*backend.Room)
	b.subscribed = make(map[string]transport.Unsubscribe)
	b.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	b.ledger.Reset()
}

func (b *Bootstrap) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

func (b *Bootstrap) refreshRooms(trigger string) {
	ctx := b.context()
	defer func() {
		b.mu.Lock()
		b.refreshing = false
		b.mu.Unlock()
	}()

	rooms, err := b.fetchRooms(ctx)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn("room refresh failed",
				zap.String("room_id", trigger),
				zap.Error(err),
			)
		}
		return
	}
	added := b.merge(ctx, rooms)
	b.logger.Info("rooms refreshed",
		zap.String("room_id", trigger),
		zap.Int("new_rooms", added),
	)
}

// fetchRooms shares one backend call between concurrent callers.
func (b *Bootstrap) fetchRooms(ctx context.Context) ([]backend.Room, error) {
	v, err, _ := b.group.Do("rooms", func() (interface{}, error) {
		return b.rooms.ListRooms(ctx, b.userID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]backend.Room), nil
}

// merge records rooms and subscribes the ones not yet subscribed. It
// returns the number of new subscriptions. gen is the bootstrap context the
// caller started under; once Reset has cancelled it nothing is recorded and
// any subscription made in the meantime is released.
func (b *Bootstrap) merge(gen context.Context, rooms []backend.Room) int {
	handler := b.Handler()

	b.mu.Lock()
	if gen.Err() != nil {
		b.mu.Unlock()
		return 0
	}
	var fresh []string
	for i := range rooms {
		r := rooms[i]
		if existing, ok := b.known[r.ID]; ok {
			// keep newer local activity
			if r.LastMessageAt.After(existing.LastMessageAt.Time) {
				existing.LastMessage = r.LastMessage
				existing.LastMessageAt = r.LastMessageAt
			}
		} else {
			b.known[r.ID] = &r
		}
		if _, ok := b.subscribed[r.ID]; !ok {
			fresh = append(fresh, r.ID)
		}
	}
	b.mu.Unlock()

	added := 0
	for _, id := range fresh {
		unsub := b.sub.SubscribeRoom(id, handler)

		b.mu.Lock()
		_, dup := b.subscribed[id]
		stale := gen.Err() != nil
		if !dup && !stale {
			b.subscribed[id] = unsub
			added++
		}
		b.mu.Unlock()

		if dup || stale {
			unsub()
		}
	}
	return added
}
