package circuitbreaker

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/orderpulse/internal/notify"
)

// Sink mirrors sink.Named to avoid an import cycle.
type Sink interface {
	Notify(ctx context.Context, n notify.Notification) error
	Name() string
}

// ProtectedSink wraps a Sink with a CircuitBreaker so an unreachable webhook
// or topic fails fast instead of stalling every insertion.
type ProtectedSink struct {
	sink    Sink
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedSink(sink Sink, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSink {
	return &ProtectedSink{
		sink:    sink,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedSink) Name() string {
	return p.sink.Name()
}

func (p *ProtectedSink) Notify(ctx context.Context, n notify.Notification) error {
	err := p.breaker.Execute(func() error {
		return p.sink.Notify(ctx, n)
	})
	if err != nil {
		p.logger.Debug("protected sink call failed",
			zap.String("breaker", p.breaker.Name()),
			zap.String("notification_id", n.ID),
			zap.String("state", p.breaker.GetState().String()),
			zap.Error(err),
		)
	}
	return err
}

// Breaker returns the underlying circuit breaker.
func (p *ProtectedSink) Breaker() *CircuitBreaker {
	return p.breaker
}
