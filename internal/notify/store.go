package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/backend"
	"github.com/lalithlochan/orderpulse/internal/metrics"
)

// sinkTimeout bounds one background sink delivery.
const sinkTimeout = 15 * time.Second

// Store is the authoritative notification list for one user session.
// Entries are kept newest first. The only state transition an entry
// supports is unread -> read.
type Store struct {
	mu    sync.RWMutex
	items []Notification

	// saveMu serializes persistence so the last write always carries the
	// latest snapshot.
	saveMu sync.Mutex

	persister Persister // nil if persistence not configured
	sink      Sink      // nil if no side effects configured
	logger    *zap.Logger

	// emits tracks sink deliveries still running in the background
	emits sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// NewStore creates an empty store. persister and sink may be nil.
func NewStore(logger *zap.Logger, persister Persister, sink Sink) *Store {
	return &Store{
		persister: persister,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Load replaces the in-memory list with the persisted one.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	items, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}

	if len(items) > MaxNotifications {
		items = items[:MaxNotifications]
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()

	s.logger.Debug("notifications restored", zap.Int("count", len(items)))
	return nil
}

// Add inserts candidate unless an entry with the same correlation id and
// category already exists. ID, Read and CreatedAt on candidate are
// ignored. It reports the stored entry and whether it was inserted.
func (s *Store) Add(ctx context.Context, candidate Notification) (Notification, bool) {
	s.mu.Lock()
	key := candidate.key()
	for _, existing := range s.items {
		if existing.key() == key {
			s.mu.Unlock()
			metrics.RecordNotificationSuppressed(string(candidate.Category))
			return existing, false
		}
	}

	candidate.ID = s.newID()
	candidate.Read = false
	candidate.CreatedAt = s.now()

	s.items = slices.Insert(s.items, 0, candidate)
	if len(s.items) > MaxNotifications {
		s.items = s.items[:MaxNotifications]
	}
	s.mu.Unlock()

	metrics.RecordNotificationAdded(string(candidate.Category))
	s.logger.Info("notification added",
		zap.String("notification_id", candidate.ID),
		zap.String("category", string(candidate.Category)),
		zap.String("correlation_id", key.correlation),
	)

	s.persist(ctx)
	s.emit(ctx, candidate)
	return candidate, true
}

// MarkRead marks one entry read. It reports whether the entry exists.
func (s *Store) MarkRead(ctx context.Context, id string) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	changed := !s.items[idx].Read
	s.items[idx].Read = true
	s.mu.Unlock()

	if changed {
		s.persist(ctx)
	}
	return true
}

// MarkAllRead marks every entry read.
func (s *Store) MarkAllRead(ctx context.Context) {
	s.mu.Lock()
	for i := range s.items {
		s.items[i].Read = true
	}
	s.mu.Unlock()

	s.persist(ctx)
}

// Remove deletes one entry. It reports whether the entry existed.
func (s *Store) Remove(ctx context.Context, id string) bool {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.items = slices.Delete(s.items, idx, idx+1)
	s.mu.Unlock()

	s.persist(ctx)
	return true
}

// Clear deletes every entry, including the persisted copy.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()

	s.persist(ctx)
}

// Reset drops in-memory state on logout. The persisted list is kept.
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}

// List returns a copy of all entries, newest first.
func (s *Store) List() []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Get returns the entry with the given id.
func (s *Store) Get(id string) (Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.items[idx], true
	}
	return Notification{}, false
}

// UnreadCount counts unread entries whose category is not in exclude.
func (s *Store) UnreadCount(exclude ...Category) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.items {
		if !n.Read && !slices.Contains(exclude, n.Category) {
			count++
		}
	}
	return count
}

// UnreadCountOf counts unread entries whose category is in include.
func (s *Store) UnreadCountOf(include ...Category) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.items {
		if !n.Read && slices.Contains(include, n.Category) {
			count++
		}
	}
	return count
}

// InitializeFromOrders synthesizes notifications for orders already in a
// terminal or semi-terminal state, so that changes that happened while no
// session was running still surface. Calling it again with the same orders
// adds nothing. It returns the number of entries added.
func (s *Store) InitializeFromOrders(ctx context.Context, orders []backend.Order) int {
	added := 0
	for _, order := range orders {
		category, ok := categoryForStatus(order.Status)
		if !ok || order.ID == "" {
			continue
		}
		if _, inserted := s.Add(ctx, OrderNotification(order, category)); inserted {
			added++
		}
	}
	return added
}

func categoryForStatus(status backend.OrderStatus) (Category, bool) {
	switch status {
	case backend.StatusConfirmed, backend.StatusPreparing:
		return CategoryOrderAccepted, true
	case backend.StatusCancelled:
		return CategoryOrderRejected, true
	case backend.StatusCompleted:
		return CategoryOrderCompleted, true
	default:
		return "", false
	}
}

// OrderNotification builds the candidate entry for an order event.
func OrderNotification(order backend.Order, category Category) Notification {
	who := order.RestaurantName()
	if who == "" {
		who = "The restaurant"
	}

	n := Notification{
		Category: category,
		OrderID:  order.ID,
	}
	switch category {
	case CategoryOrderAccepted:
		n.Title = "Order accepted"
		n.Message = fmt.Sprintf("%s accepted your order #%s", who, order.ID)
	case CategoryOrderRejected:
		n.Title = "Order rejected"
		n.Message = fmt.Sprintf("%s could not accept your order #%s", who, order.ID)
	case CategoryOrderConfirmed:
		n.Title = "Order confirmed"
		n.Message = fmt.Sprintf("Order #%s has been confirmed", order.ID)
	case CategoryOrderCompleted:
		n.Title = "Order completed"
		n.Message = fmt.Sprintf("Order #%s from %s has been delivered", order.ID, who)
	case CategoryNewOrder:
		n.Title = "New order"
		n.Message = fmt.Sprintf("You received a new order #%s", order.ID)
	default:
		n.Title = "Order update"
		n.Message = fmt.Sprintf("Order #%s was updated", order.ID)
	}
	return n
}

// indexOf must be called with mu held.
func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.items, func(n Notification) bool { return n.ID == id })
}

func (s *Store) persist(ctx context.Context) {
	if s.persister == nil {
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if err := s.persister.Save(ctx, s.List()); err != nil {
		s.logger.Warn("failed to persist notifications", zap.Error(err))
	}
}

// emit hands n to the sink on its own goroutine. The delivery outlives ctx
// cancellation but is bounded by sinkTimeout.
func (s *Store) emit(ctx context.Context, n Notification) {
	if s.sink == nil {
		return
	}

	s.emits.Add(1)
	go func() {
		defer s.emits.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		defer cancel()

		if err := s.sink.Notify(ctx, n); err != nil {
			s.logger.Debug("notification sink failed",
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
		}
	}()
}

// Flush blocks until every sink delivery started so far has finished.
func (s *Store) Flush() {
	s.emits.Wait()
}
