// Package reconciler polls the user's orders and turns status changes into
// notifications, covering events the real-time channel never delivers.
package reconciler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/backend"
	"github.com/lalithlochan/orderpulse/internal/metrics"
	"github.com/lalithlochan/orderpulse/internal/notify"
)

type OrderFetcher interface {
	ListOrders(ctx context.Context, userID string) ([]backend.Order, error)
}

type Store interface {
	Add(ctx context.Context, candidate notify.Notification) (notify.Notification, bool)
	InitializeFromOrders(ctx context.Context, orders []backend.Order) int
}

type Config struct {
	PollInterval time.Duration
}

type Reconciler struct {
	orders OrderFetcher
	store  Store
	userID string
	config Config
	logger *zap.Logger

	mu          sync.Mutex
	snapshot    map[string]backend.OrderStatus
	initialized bool
}

func New(orders OrderFetcher, store Store, userID string, cfg Config, logger *zap.Logger) *Reconciler {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}

	return &Reconciler{
		orders: orders,
		store:  store,
		userID: userID,
		config: cfg,
		logger: logger,
	}
}

// Start polls immediately and then every PollInterval until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

// Poll runs one cycle and returns the number of notifications emitted.
// The first successful cycle seeds the store from current order states and
// records the snapshot; later cycles diff against the previous snapshot.
func (r *Reconciler) Poll(ctx context.Context) int {
	orders, err := r.orders.ListOrders(ctx, r.userID)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("failed to poll orders", zap.Error(err))
		}
		metrics.RecordPoll("error")
		return 0
	}
	metrics.RecordPoll("ok")

	r.mu.Lock()
	prev, initialized := r.snapshot, r.initialized
	next := make(map[string]backend.OrderStatus, len(orders))
	for _, o := range orders {
		next[o.ID] = o.Status
	}
	r.snapshot = next
	r.initialized = true
	r.mu.Unlock()

	if !initialized {
		added := r.store.InitializeFromOrders(ctx, orders)
		r.logger.Info("order snapshot initialized",
			zap.Int("orders", len(orders)),
			zap.Int("notifications", added),
		)
		return added
	}

	emitted := 0
	for _, o := range orders {
		before, known := prev[o.ID]
		if !known {
			continue
		}

		category, ok := Transition(before, o.Status)
		if !ok {
			continue
		}

		if _, inserted := r.store.Add(ctx, notify.OrderNotification(o, category)); inserted {
			emitted++
			r.logger.Info("order status changed",
				zap.String("order_id", o.ID),
				zap.String("from", string(before)),
				zap.String("to", string(o.Status)),
			)
		}
	}
	return emitted
}

// Reset forgets the snapshot so the next poll initializes again.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshot = nil
	r.initialized = false
}

// Transition maps a status change to the notification it produces, if any.
func Transition(prev, next backend.OrderStatus) (notify.Category, bool) {
	if prev == next {
		return "", false
	}

	switch {
	case prev == backend.StatusPending && next == backend.StatusConfirmed:
		return notify.CategoryOrderAccepted, true
	case prev == backend.StatusPending && next == backend.StatusCancelled:
		return notify.CategoryOrderRejected, true
	case next == backend.StatusCompleted:
		return notify.CategoryOrderCompleted, true
	default:
		return "", false
	}
}
