package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/backend"
	"github.com/lalithlochan/orderpulse/internal/transport"
)

type fakeTransport struct {
	mu           sync.Mutex
	state        transport.State
	listeners    []func(transport.State)
	targets      []transport.Target
	inbox        []string
	disconnected int

	offline      bool   // Connect never reports connected
	onDisconnect func() // runs before the state change
}

func (f *fakeTransport) Connect(ctx context.Context, target transport.Target) {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	offline := f.offline
	f.mu.Unlock()
	if !offline {
		f.setState(transport.StateConnected)
	}
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.disconnected++
	hook := f.onDisconnect
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.setState(transport.StateDisconnected)
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) OnStateChange(fn func(transport.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeTransport) SubscribeUser(userID string, h transport.Handler) transport.Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, userID)
	return func() {}
}

func (f *fakeTransport) setState(s transport.State) {
	f.mu.Lock()
	f.state = s
	listeners := append([]func(transport.State){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

type fakePoller struct {
	started atomic.Int32
	resets  atomic.Int32
}

func (f *fakePoller) Start(ctx context.Context) {
	f.started.Add(1)
	<-ctx.Done()
}

func (f *fakePoller) Reset() { f.resets.Add(1) }

type fakeNotificationStore struct {
	loads   atomic.Int32
	resets  atomic.Int32
	loadErr error
}

func (f *fakeNotificationStore) Load(ctx context.Context) error {
	f.loads.Add(1)
	return f.loadErr
}

func (f *fakeNotificationStore) Reset() { f.resets.Add(1) }

func newTestSession(rooms *mockRooms) (*Session, *fakeTransport, *fakePoller, *fakeNotificationStore, *Bootstrap) {
	tr := &fakeTransport{}
	poller := &fakePoller{}
	store := &fakeNotificationStore{}
	boot := newTestBootstrap(rooms, newMockSubscriber(), &countingStore{})
	s := New(Config{SocketURL: "ws://chat.local/ws", UserID: "u1", RoomRetryInterval: 10 * time.Millisecond},
		tr, boot, poller, store, zap.NewNop())
	return s, tr, poller, store, boot
}

func TestRun_LoadsRoomsOnceConnected(t *testing.T) {
	rooms := &mockRooms{rooms: []backend.Room{room("R1", time.Now())}}
	s, tr, poller, store, boot := newTestSession(rooms)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, boot.Loaded)
	if poller.started.Load() != 1 {
		t.Error("expected reconciler to start")
	}
	if store.loads.Load() != 1 {
		t.Error("expected persisted notifications to be restored")
	}

	tr.mu.Lock()
	if len(tr.targets) != 1 || tr.targets[0].UserID != "u1" {
		t.Errorf("unexpected connect targets: %v", tr.targets)
	}
	if len(tr.inbox) != 1 || tr.inbox[0] != "u1" {
		t.Errorf("expected inbox subscription for u1, got %v", tr.inbox)
	}
	tr.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}

	if tr.disconnected != 1 {
		t.Errorf("expected transport disconnected once, got %d", tr.disconnected)
	}
	if boot.Loaded() {
		t.Error("expected bootstrap reset")
	}
	if poller.resets.Load() != 1 || store.resets.Load() != 1 {
		t.Error("expected poller and store reset")
	}
}

func TestRun_RetriesRoomLoad(t *testing.T) {
	rooms := &mockRooms{err: errors.New("unavailable")}
	s, _, _, _, boot := newTestSession(rooms)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return rooms.callCount() >= 2 })
	if boot.Loaded() {
		t.Fatal("should not be loaded while fetch fails")
	}

	rooms.set([]backend.Room{room("R1", time.Now())}, nil)
	waitFor(t, boot.Loaded)
}

func TestRun_RestoreFailureIsNotFatal(t *testing.T) {
	rooms := &mockRooms{}
	s, _, poller, store, _ := newTestSession(rooms)
	store.loadErr = errors.New("redis down")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return poller.started.Load() == 1 })
}

func TestLoginLogout(t *testing.T) {
	rooms := &mockRooms{rooms: []backend.Room{room("R1", time.Now())}}
	s, tr, poller, _, boot := newTestSession(rooms)

	s.Login(context.Background())
	s.Login(context.Background())
	waitFor(t, boot.Loaded)

	if poller.started.Load() != 1 {
		t.Errorf("second login should be a no-op, started %d times", poller.started.Load())
	}

	s.Logout()
	s.Logout()

	if tr.State() != transport.StateDisconnected {
		t.Error("expected transport disconnected after logout")
	}
	if boot.Loaded() {
		t.Error("expected bootstrap reset after logout")
	}
}

func TestRun_ResetsBootstrapBeforeDisconnect(t *testing.T) {
	rooms := &mockRooms{rooms: []backend.Room{room("R1", time.Now())}}
	s, tr, _, _, boot := newTestSession(rooms)

	var loadedAtDisconnect atomic.Bool
	tr.onDisconnect = func() { loadedAtDisconnect.Store(boot.Loaded()) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, boot.Loaded)
	cancel()
	<-done

	if loadedAtDisconnect.Load() {
		t.Error("bootstrap should be reset before the transport is torn down")
	}
}

func TestRun_IgnoresConnectSignalFromPreviousSession(t *testing.T) {
	rooms := &mockRooms{rooms: []backend.Room{room("R1", time.Now())}}
	s, tr, poller, _, boot := newTestSession(rooms)
	tr.offline = true

	// left behind by an earlier session that connected and was logged out
	s.connected <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return poller.started.Load() == 1 })
	time.Sleep(50 * time.Millisecond)

	if got := rooms.callCount(); got != 0 {
		t.Errorf("rooms should not load before the transport connects, got %d fetches", got)
	}
	if boot.Loaded() {
		t.Error("bootstrap should not be loaded")
	}

	cancel()
	<-done
}
