package collection

import (
	"context"
	"errors"

	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/metrics"
	"github.com/heartline/keyset/pkg/pagination"
	"github.com/heartline/keyset/pkg/resilience"
)

// Breakers hands out one circuit breaker per backend, shared by every
// collection served from it.
type Breakers struct {
	cfg      config.CircuitBreakerConfig
	log      logger.Logger
	breakers map[string]*resilience.CircuitBreaker
}

// NewBreakers returns the breaker set. A disabled config yields nil breakers
// and Guard leaves stores untouched.
func NewBreakers(cfg config.CircuitBreakerConfig, log logger.Logger) *Breakers {
	return &Breakers{cfg: cfg, log: log, breakers: map[string]*resilience.CircuitBreaker{}}
}

// For returns the breaker of a backend, creating it on first use.
func (b *Breakers) For(backend string) *resilience.CircuitBreaker {
	if !b.cfg.Enabled {
		return nil
	}
	if cb, ok := b.breakers[backend]; ok {
		return cb
	}
	cb := resilience.NewCircuitBreaker(resilience.Config{
		Name:        backend,
		MaxFailures: b.cfg.MaxFailures,
		Cooldown:    b.cfg.Cooldown,
		IsFailure:   backendFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			metrics.SetBreakerState(name, int(to))
			if to == resilience.StateOpen {
				b.log.Warn("circuit breaker opened", "backend", name, "from", from.String(), "cooldown", b.cfg.Cooldown)
				return
			}
			b.log.Info("circuit breaker state changed", "backend", name, "from", from.String(), "to", to.String())
		},
	})
	metrics.SetBreakerState(backend, int(resilience.StateClosed))
	b.breakers[backend] = cb
	return cb
}

// backendFailure leaves out errors the backend never saw: cancelled requests
// and queries the adapter could not translate.
func backendFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, pagination.ErrUntranslatable)
}

// Guard routes the store's calls through the backend breaker.
func Guard[T any](s Store[T], cb *resilience.CircuitBreaker) Store[T] {
	if cb == nil {
		return s
	}
	return &guarded[T]{Store: s, cb: cb}
}

type guarded[T any] struct {
	Store[T]
	cb *resilience.CircuitBreaker
}

func (g *guarded[T]) run(fn func() error) error {
	err := g.cb.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		metrics.RecordBreakerRejection(g.cb.Name())
	}
	return err
}

func (g *guarded[T]) Find(ctx context.Context, q pagination.Query) ([]T, error) {
	var items []T
	err := g.run(func() error {
		var err error
		items, err = g.Store.Find(ctx, q)
		return err
	})
	return items, err
}

func (g *guarded[T]) Count(ctx context.Context, filter pagination.Predicate) (int64, error) {
	var n int64
	err := g.run(func() error {
		var err error
		n, err = g.Store.Count(ctx, filter)
		return err
	})
	return n, err
}

// Stream guards opening the cursor. Errors while iterating surface through
// the export run and do not trip the breaker.
func (g *guarded[T]) Stream(ctx context.Context, q pagination.StreamQuery) (pagination.RecordCursor[T], error) {
	var cur pagination.RecordCursor[T]
	err := g.run(func() error {
		var err error
		cur, err = g.Store.Stream(ctx, q)
		return err
	})
	return cur, err
}
