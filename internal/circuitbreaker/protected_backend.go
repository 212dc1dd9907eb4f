package circuitbreaker

import (
	"context"
	"errors"
	"net/http"

	"github.com/lalithlochan/orderpulse/internal/backend"
)

// Backend is the REST surface the sync components depend on.
type Backend interface {
	SocketToken(ctx context.Context) (string, error)
	ListRooms(ctx context.Context, userID string) ([]backend.Room, error)
	ListOrders(ctx context.Context, userID string) ([]backend.Order, error)
}

// ProtectedBackend routes every backend call through one breaker, so the
// reconnect loop, the poller and room refreshes back off together when the
// backend is down.
type ProtectedBackend struct {
	backend Backend
	breaker *CircuitBreaker
}

func NewProtectedBackend(b Backend, breaker *CircuitBreaker) *ProtectedBackend {
	return &ProtectedBackend{backend: b, breaker: breaker}
}

// BackendConfig is DefaultConfig with a failure filter that ignores client
// errors: a 4xx says nothing about backend health.
func BackendConfig() Config {
	cfg := DefaultConfig("backend")
	cfg.IsFailure = func(err error) bool {
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, backend.ErrUnauthorized) {
			return false
		}
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) {
			return statusErr.Code >= http.StatusInternalServerError || statusErr.Code == http.StatusTooManyRequests
		}
		return true
	}
	return cfg
}

func (p *ProtectedBackend) SocketToken(ctx context.Context) (string, error) {
	var token string
	err := p.breaker.Execute(func() error {
		var err error
		token, err = p.backend.SocketToken(ctx)
		return err
	})
	return token, err
}

func (p *ProtectedBackend) ListRooms(ctx context.Context, userID string) ([]backend.Room, error) {
	var rooms []backend.Room
	err := p.breaker.Execute(func() error {
		var err error
		rooms, err = p.backend.ListRooms(ctx, userID)
		return err
	})
	return rooms, err
}

func (p *ProtectedBackend) ListOrders(ctx context.Context, userID string) ([]backend.Order, error) {
	var orders []backend.Order
	err := p.breaker.Execute(func() error {
		var err error
		orders, err = p.backend.ListOrders(ctx, userID)
		return err
	})
	return orders, err
}

// Breaker returns the underlying circuit breaker.
func (p *ProtectedBackend) Breaker() *CircuitBreaker {
	return p.breaker
}
