package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/orderpulse/internal/transport"
)

type Transport interface {
	Connect(ctx context.Context, target transport.Target)
	Disconnect()
	State() transport.State
	OnStateChange(fn func(transport.State))
	SubscribeUser(userID string, h transport.Handler) transport.Unsubscribe
}

type Poller interface {
	Start(ctx context.Context)
	Reset()
}

type NotificationStore interface {
	Load(ctx context.Context) error
	Reset()
}

type Config struct {
	SocketURL string
	UserID    string
	// RoomRetryInterval is how often a failed room load is retried while
	// connected.
	RoomRetryInterval time.Duration
}

// Session runs every per-user component between login and logout.
type Session struct {
	cfg       Config
	transport Transport
	boot      *Bootstrap
	poller    Poller
	store     NotificationStore
	logger    *zap.Logger

	connected chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, t Transport, boot *Bootstrap, poller Poller, store NotificationStore, logger *zap.Logger) *Session {
	if cfg.RoomRetryInterval == 0 {
		cfg.RoomRetryInterval = 10 * time.Second
	}

	s := &Session{
		cfg:       cfg,
		transport: t,
		boot:      boot,
		poller:    poller,
		store:     store,
		logger:    logger,
		connected: make(chan struct{}, 1),
	}

	t.OnStateChange(func(state transport.State) {
		if state != transport.StateConnected {
			return
		}
		select {
		case s.connected <- struct{}{}:
		default:
		}
	})
	return s
}

// Login starts the session in the background. It is a no-op while a
// session is already running.
func (s *Session) Login(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		if err := s.Run(runCtx); err != nil {
			s.logger.Error("session ended with error", zap.Error(err))
		}
	}()
}

// Logout stops the session and waits for teardown to finish.
func (s *Session) Logout() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run blocks until ctx is done. Persisted notifications are restored, the
// transport is connected, the reconciler is started, and rooms are loaded
// once the transport reports connected. On return all per-session state is
// reset; only the persisted notification list survives.
func (s *Session) Run(ctx context.Context) error {
	log := s.logger.With(zap.String("user_id", s.cfg.UserID))
	log.Info("session starting")

	// drop a connect signal left over from a previous session
	select {
	case <-s.connected:
	default:
	}

	if err := s.store.Load(ctx); err != nil {
		log.Warn("failed to restore notifications", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	s.transport.SubscribeUser(s.cfg.UserID, s.boot.Handler())
	s.transport.Connect(gctx, transport.Target{URL: s.cfg.SocketURL, UserID: s.cfg.UserID})

	g.Go(func() error {
		s.poller.Start(gctx)
		return nil
	})
	g.Go(func() error {
		s.watchConnection(gctx)
		return nil
	})

	err := g.Wait()

	s.boot.Reset()
	s.transport.Disconnect()
	s.poller.Reset()
	s.store.Reset()

	log.Info("session stopped")
	return err
}

func (s *Session) watchConnection(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RoomRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.connected:
			s.loadRooms(ctx)
		case <-ticker.C:
			if s.transport.State() == transport.StateConnected && !s.boot.Loaded() {
				s.loadRooms(ctx)
			}
		}
	}
}

func (s *Session) loadRooms(ctx context.Context) {
	if err := s.boot.LoadRooms(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("room bootstrap failed, will retry", zap.Error(err))
	}
}
