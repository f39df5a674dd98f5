package pgwire

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/brindlecove/pgwire/internal/pgtype"
	"github.com/brindlecove/pgwire/internal/pool"
	"github.com/brindlecove/pgwire/internal/proto"
)

// Pool is a bounded, fair dispenser of ready Conns, built on top of
// internal/pool.Pool. It owns dialing and authentication (via Config),
// which the lower-level pool package deliberately knows nothing about.
type Pool struct {
	inner    *pool.Pool
	cfg      Config
	registry *pgtype.Registry
}

// NewPool builds a Pool. If cfg.PoolConnectEagerly is set, NewPool blocks
// until PoolSize connections exist. registry may be nil to use
// pgtype.NewDefaultRegistry() for every connection the pool creates.
func NewPool(ctx context.Context, cfg Config, registry *pgtype.Registry) (*Pool, error) {
	cfg = cfg.withDefaults()
	if registry == nil {
		registry = pgtype.NewDefaultRegistry()
	}

	p := &Pool{cfg: cfg, registry: registry}

	connector := func(ctx context.Context) (*proto.Conn, error) {
		c, err := Connect(ctx, cfg, registry)
		if err != nil {
			return nil, err
		}
		return c.raw, nil
	}

	logger := cfg.logger()
	innerCfg := pool.Config{
		Size:                         cfg.PoolSize,
		Eager:                        cfg.PoolConnectEagerly,
		ValidationQuery:              cfg.PoolValidationQuery,
		BorrowTimeout:                cfg.PoolBorrowTimeout,
		KeepReturnedOpenOnClosedPool: !cfg.closeReturnedOnClosedPool(),
		OnEvent: func(event string, fields map[string]any) {
			ev := logger.Info().Str("event", event)
			for k, v := range fields {
				ev = ev.Interface(k, v)
			}
			ev.Msg("pgwire pool event")
		},
	}

	inner, err := pool.New(ctx, innerCfg, connector)
	if err != nil {
		return nil, err
	}
	p.inner = inner
	return p, nil
}

func (p *Pool) wrap(raw *proto.Conn) *Conn {
	return &Conn{raw: raw, registry: p.registry, cfg: p.cfg, logger: p.cfg.logger()}
}

// BorrowConnection waits at most timeout (or cfg.PoolBorrowTimeout, if
// timeout <= 0) for a ready connection.
func (p *Pool) BorrowConnection(ctx context.Context, timeout time.Duration) (*Conn, error) {
	raw, err := p.inner.BorrowConnection(ctx, timeout)
	if err != nil {
		return nil, translatePoolErr(err)
	}
	return p.wrap(raw), nil
}

// ReturnConnection returns a previously borrowed connection.
func (p *Pool) ReturnConnection(c *Conn) error {
	return translatePoolErr(p.inner.ReturnConnection(c.raw))
}

// WithConnection borrows a connection, runs fn, and always returns it.
func (p *Pool) WithConnection(ctx context.Context, timeout time.Duration, fn func(*Conn) error) error {
	return translatePoolErr(p.inner.WithConnection(ctx, timeout, func(raw *proto.Conn) error {
		return fn(p.wrap(raw))
	}))
}

// Close marks the pool closed and closes every idle connection.
func (p *Pool) Close() error { return p.inner.Close() }

// Stats reports the pool's current bookkeeping.
type Stats = pool.Stats

// Stats returns a snapshot of the pool's bookkeeping.
func (p *Pool) Stats() Stats { return p.inner.Stats() }

func translatePoolErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pool.ErrPoolClosed):
		return errors.Mark(err, ErrPoolClosed)
	case errors.Is(err, pool.ErrBorrowTimeout):
		return errors.Mark(err, ErrBorrowTimeout)
	case errors.Is(err, pool.ErrValidationFailed):
		return errors.Mark(err, ErrValidationFailed)
	default:
		return err
	}
}
