package session

import (
	"context"

	"github.com/rcliao/ecoagent-memory/internal/metrics"
	"github.com/rcliao/ecoagent-memory/internal/model"
)

// Instrumented counts successful transitions and cleanup closures of the
// wrapped service.
type Instrumented struct {
	Service
	metrics *metrics.Metrics
}

// WithMetrics wraps svc. A nil m returns svc unchanged.
func WithMetrics(svc Service, m *metrics.Metrics) Service {
	if m == nil {
		return svc
	}
	return &Instrumented{Service: svc, metrics: m}
}

func (i *Instrumented) Activate(ctx context.Context, id string) (*model.Session, error) {
	return i.count("activated")(i.Service.Activate(ctx, id))
}

func (i *Instrumented) Pause(ctx context.Context, id string) (*model.Session, error) {
	return i.count("paused")(i.Service.Pause(ctx, id))
}

func (i *Instrumented) Resume(ctx context.Context, id string) (*model.Session, error) {
	return i.count("resumed")(i.Service.Resume(ctx, id))
}

func (i *Instrumented) Close(ctx context.Context, id string) (*model.Session, error) {
	return i.count("closed")(i.Service.Close(ctx, id))
}

func (i *Instrumented) CleanupExpired(ctx context.Context) (int, error) {
	n, err := i.Service.CleanupExpired(ctx)
	i.metrics.SessionsClosed(n)
	return n, err
}

func (i *Instrumented) count(action string) func(*model.Session, error) (*model.Session, error) {
	return func(s *model.Session, err error) (*model.Session, error) {
		if err == nil {
			i.metrics.SessionTransition(action)
		}
		return s, err
	}
}
