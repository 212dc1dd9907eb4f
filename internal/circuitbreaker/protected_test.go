package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lalithlochan/orderpulse/internal/backend"
	"github.com/lalithlochan/orderpulse/internal/notify"
)

type mockSink struct {
	err   error
	calls int
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Notify(ctx context.Context, n notify.Notification) error {
	m.calls++
	return m.err
}

var testNotif = notify.Notification{ID: "n-1", Category: notify.CategoryOrderAccepted, OrderID: "1"}

func TestProtectedSink_PassesThrough(t *testing.T) {
	mock := &mockSink{}
	ps := NewProtectedSink(mock, New(Config{Name: "test", MaxFailures: 5}, testLogger()), testLogger())

	if err := ps.Notify(context.Background(), testNotif); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if mock.calls != 1 {
		t.Fatalf("calls = %d", mock.calls)
	}
	if ps.Name() != "mock" {
		t.Errorf("expected wrapped name, got %s", ps.Name())
	}
}

func TestProtectedSink_FailFastWhenOpen(t *testing.T) {
	mock := &mockSink{err: errors.New("down")}
	cb := New(Config{Name: "webhook", MaxFailures: 2}, testLogger())
	ps := NewProtectedSink(mock, cb, testLogger())

	ps.Notify(context.Background(), testNotif)
	ps.Notify(context.Background(), testNotif)
	mock.calls = 0

	err := ps.Notify(context.Background(), testNotif)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got: %v", err)
	}
	if mock.calls != 0 {
		t.Fatalf("sink called %d times when circuit open", mock.calls)
	}
}

func TestProtectedSink_FullLifecycle(t *testing.T) {
	mock := &mockSink{}
	cb := New(Config{Name: "lifecycle", MaxFailures: 3, RecoveryTimeout: 50 * time.Millisecond}, testLogger())
	ps := NewProtectedSink(mock, cb, testLogger())
	ctx := context.Background()

	if err := ps.Notify(ctx, testNotif); err != nil {
		t.Fatalf("working: %v", err)
	}

	mock.err = errors.New("webhook down")
	for i := 0; i < 3; i++ {
		ps.Notify(ctx, testNotif)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	time.Sleep(60 * time.Millisecond)

	mock.err = nil
	if err := ps.Notify(ctx, testNotif); err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if ps.Breaker().GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
}

type mockBackend struct {
	err   error
	calls int
}

func (m *mockBackend) SocketToken(ctx context.Context) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return "tok", nil
}

func (m *mockBackend) ListRooms(ctx context.Context, userID string) ([]backend.Room, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []backend.Room{{ID: "R1"}}, nil
}

func (m *mockBackend) ListOrders(ctx context.Context, userID string) ([]backend.Order, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []backend.Order{{ID: "1", Status: backend.StatusPending}}, nil
}

func TestProtectedBackend_PassesResults(t *testing.T) {
	pb := NewProtectedBackend(&mockBackend{}, New(BackendConfig(), testLogger()))
	ctx := context.Background()

	token, err := pb.SocketToken(ctx)
	if err != nil || token != "tok" {
		t.Fatalf("token = %q, err = %v", token, err)
	}
	rooms, err := pb.ListRooms(ctx, "u1")
	if err != nil || len(rooms) != 1 {
		t.Fatalf("rooms = %v, err = %v", rooms, err)
	}
	orders, err := pb.ListOrders(ctx, "u1")
	if err != nil || len(orders) != 1 {
		t.Fatalf("orders = %v, err = %v", orders, err)
	}
}

func TestProtectedBackend_OpensOnServerErrors(t *testing.T) {
	mock := &mockBackend{err: &backend.StatusError{Method: "GET", Path: "/api/orders/user/u1", Code: 502}}
	cfg := BackendConfig()
	cfg.MaxFailures = 2
	pb := NewProtectedBackend(mock, New(cfg, testLogger()))
	ctx := context.Background()

	pb.ListOrders(ctx, "u1")
	pb.ListRooms(ctx, "u1")
	mock.calls = 0

	if _, err := pb.SocketToken(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if mock.calls != 0 {
		t.Errorf("backend called %d times while open", mock.calls)
	}
}

func TestBackendConfig_FailureFilter(t *testing.T) {
	isFailure := BackendConfig().IsFailure

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unauthorized", fmt.Errorf("get: %w", backend.ErrUnauthorized), false},
		{"canceled", context.Canceled, false},
		{"not found", &backend.StatusError{Code: 404}, false},
		{"too many requests", &backend.StatusError{Code: 429}, true},
		{"server error", &backend.StatusError{Code: 500}, true},
		{"network", errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFailure(tt.err); got != tt.want {
				t.Errorf("IsFailure(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
