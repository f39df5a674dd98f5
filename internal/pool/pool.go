// Package pool implements a bounded, fair, reusable-connection dispenser
// for proto.Conn: eager or lazy provisioning, validation before reuse, and
// borrow/return lifecycle across concurrent borrowers.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/brindlecove/pgwire/internal/proto"
)

var (
	// ErrPoolClosed is returned by BorrowConnection once Close has run, and
	// by ReturnConnection for a connection returned after Close.
	ErrPoolClosed = errors.New("pool: closed")
	// ErrBorrowTimeout is returned when no connection became available
	// within a borrow's timeout.
	ErrBorrowTimeout = errors.New("pool: borrow timed out")
	// ErrValidationFailed is returned after maxValidationFailures
	// successive validation-query failures for one borrow request.
	ErrValidationFailed = errors.New("pool: connection validation failed")
)

// Connector creates one new backend connection. It is supplied by the
// caller (the public façade dials and authenticates); the pool never
// constructs a transport itself.
type Connector func(ctx context.Context) (*proto.Conn, error)

// Config configures a Pool's size, fill policy, and reuse behavior.
type Config struct {
	// Size is the maximum number of live connections.
	Size int
	// Eager, if true, creates Size connections during New instead of on
	// demand.
	Eager bool
	// ValidationQuery, if non-empty, is run against a previously used
	// connection before it is handed to a borrower.
	ValidationQuery string
	// BorrowTimeout is the default wait when BorrowConnection is called
	// with timeout <= 0.
	BorrowTimeout time.Duration
	// KeepReturnedOpenOnClosedPool controls what ReturnConnection does
	// with a connection returned after Close. The zero value (false)
	// gives the default behavior of closing it; set true to leave it open
	// and usable by the caller directly. The polarity is chosen so the
	// zero Config matches the documented default of closing on return to
	// a closed pool.
	KeepReturnedOpenOnClosedPool bool

	// OnEvent, if set, is called for every pool state transition worth
	// observing (open, eager-fill failure, validation failure, close). The pool
	// itself has no logger dependency; the façade that constructs a Pool
	// wires this to its own structured logger.
	OnEvent func(event string, fields map[string]any)
}

func (c Config) logEvent(event string, fields map[string]any) {
	if c.OnEvent != nil {
		c.OnEvent(event, fields)
	}
}

func (c Config) withDefaults() Config {
	if c.BorrowTimeout <= 0 {
		c.BorrowTimeout = 30 * time.Second
	}
	return c
}

// Pool hands out validated, exclusively-owned connections to borrowers and
// takes them back. Its critical section (the mutex below) is held only
// across in-memory bookkeeping, never across a network call.
type Pool struct {
	cfg       Config
	connector Connector
	validate  validator

	mu        sync.Mutex
	available []*proto.Conn
	liveCount int
	closed    bool
	waiters   waiterQueue

	// createCtx is canceled by Close to interrupt pool-initiated
	// connection creation (eager fill, replacing a discarded connection
	// for a waiter). Creation triggered directly by a caller's
	// BorrowConnection uses that caller's own context instead, since it is
	// bounded by the caller's own timeout already.
	createCtx    context.Context
	cancelCreate context.CancelFunc
	creating     sync.WaitGroup
}

// New builds a Pool. If cfg.Eager is set, it blocks until Size connections
// have been created (or one fails, in which case any already created are
// closed and the error is returned).
func New(ctx context.Context, cfg Config, connector Connector) (*Pool, error) {
	createCtx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:          cfg.withDefaults(),
		connector:    connector,
		validate:     newValidator(cfg.ValidationQuery),
		createCtx:    createCtx,
		cancelCreate: cancel,
	}
	if p.cfg.Eager {
		if err := p.fillEagerly(ctx); err != nil {
			cancel()
			return nil, err
		}
	}
	p.cfg.logEvent("pool.opened", map[string]any{"size": p.cfg.Size, "eager": p.cfg.Eager})
	return p, nil
}

func (p *Pool) fillEagerly(ctx context.Context) error {
	for i := 0; i < p.cfg.Size; i++ {
		c, err := p.connect(ctx)
		if err != nil {
			p.mu.Lock()
			avail := p.available
			p.available = nil
			p.liveCount = 0
			p.mu.Unlock()
			for _, c := range avail {
				_ = c.Close()
			}
			p.cfg.logEvent("pool.eager_fill_failed", map[string]any{"error": err.Error()})
			return errors.Wrap(err, "pool: eager fill")
		}
		p.mu.Lock()
		p.available = append(p.available, c)
		p.liveCount++
		p.mu.Unlock()
	}
	return nil
}

func (p *Pool) connect(ctx context.Context) (*proto.Conn, error) {
	p.creating.Add(1)
	defer p.creating.Done()
	return p.connector(ctx)
}

// BorrowConnection returns a ready, exclusively-owned connection, waiting
// at most timeout (or Config.BorrowTimeout, if timeout <= 0). A connection
// that fails validation is discarded and replaced, up to
// maxValidationFailures times, before ErrValidationFailed is returned.
func (p *Pool) BorrowConnection(ctx context.Context, timeout time.Duration) (*proto.Conn, error) {
	if timeout <= 0 {
		timeout = p.cfg.BorrowTimeout
	}
	deadline := time.Now().Add(timeout)

	for attempt := 0; attempt < maxValidationFailures; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrBorrowTimeout
		}
		c, reused, err := p.acquireOne(ctx, remaining)
		if err != nil {
			return nil, err
		}
		if p.validate == nil || !reused {
			return c, nil
		}
		vctx, cancel := context.WithDeadline(ctx, deadline)
		verr := p.validate(vctx, c)
		cancel()
		if verr == nil {
			return c, nil
		}
		p.cfg.logEvent("pool.validation_failed", map[string]any{"attempt": attempt + 1, "error": verr.Error()})
		p.discard(c)
	}
	return nil, ErrValidationFailed
}

// acquireOne performs a single, non-retrying acquisition: an already
// available connection, a freshly created one if the pool has room, or a
// suspended wait for either. reused reports whether the returned
// connection came from the available queue (including eagerly filled
// ones) or was handed over by ReturnConnection, rather than being dialed
// for this request — a connection dialed for this request has nothing a
// validation query could invalidate, so BorrowConnection skips validating it.
func (p *Pool) acquireOne(ctx context.Context, timeout time.Duration) (conn *proto.Conn, reused bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	if n := len(p.available); n > 0 {
		c := p.available[n-1]
		p.available = p.available[:n-1]
		p.mu.Unlock()
		return c, true, nil
	}
	if p.liveCount < p.cfg.Size {
		p.liveCount++
		p.mu.Unlock()
		c, err := p.connect(ctx)
		if err != nil {
			p.mu.Lock()
			p.liveCount--
			p.mu.Unlock()
			return nil, false, err
		}
		return c, false, nil
	}

	w := newWaiter()
	elem := p.waiters.pushBack(w)
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-w.ch:
		return res.conn, res.reused, res.err
	case <-timer.C:
		p.mu.Lock()
		abandoned := p.waiters.abandon(elem, w)
		p.mu.Unlock()
		if !abandoned {
			// A deliverer already claimed w between the timer firing and
			// this goroutine acquiring the lock; it is committed to
			// sending into w.ch. Take that connection rather than drop it
			// on the floor and report a timeout the borrower never sees
			// resolved.
			res := <-w.ch
			return res.conn, res.reused, res.err
		}
		return nil, false, ErrBorrowTimeout
	case <-ctx.Done():
		p.mu.Lock()
		abandoned := p.waiters.abandon(elem, w)
		p.mu.Unlock()
		if !abandoned {
			res := <-w.ch
			return res.conn, res.reused, res.err
		}
		return nil, false, ctx.Err()
	}
}

// discard closes c, decrements live-count, and — if a waiter is queued —
// starts creating a replacement connection for it. Used both by
// BorrowConnection's validation-retry ladder and by ReturnConnection for a
// non-reusable connection.
func (p *Pool) discard(c *proto.Conn) {
	_ = c.Close()
	p.mu.Lock()
	p.liveCount--
	w := p.waiters.popFront()
	if w != nil {
		p.liveCount++ // reserve the slot for the replacement being created
	}
	p.mu.Unlock()
	if w != nil {
		go p.createForWaiter(w)
	}
}

func (p *Pool) createForWaiter(w *waiter) {
	c, err := p.connect(p.createCtx)
	if err != nil {
		p.mu.Lock()
		p.liveCount--
		p.mu.Unlock()
		w.ch <- waiterResult{err: err}
		return
	}
	w.ch <- waiterResult{conn: c, reused: false}
}

// ReturnConnection returns a previously borrowed connection to the pool.
// A connection left mid-transaction or in a fatal state is closed instead
// of reinserted. If the pool has been closed, the connection is closed (or
// not, per Config.KeepReturnedOpenOnClosedPool) and ErrPoolClosed is
// always returned.
func (p *Pool) ReturnConnection(c *proto.Conn) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if !p.cfg.KeepReturnedOpenOnClosedPool {
			_ = c.Close()
		}
		return ErrPoolClosed
	}

	if !isReusable(c) {
		p.mu.Unlock()
		p.discard(c)
		return nil
	}

	if w := p.waiters.popFront(); w != nil {
		p.mu.Unlock()
		w.ch <- waiterResult{conn: c, reused: true}
		return nil
	}
	p.available = append(p.available, c)
	p.mu.Unlock()
	return nil
}

func isReusable(c *proto.Conn) bool {
	return c.Phase() != proto.PhaseFatal && c.TxStatus() == 'I'
}

// WithConnection borrows a connection, runs fn, and always returns it
// (validation and reuse rules apply as for a plain borrow/return pair).
func (p *Pool) WithConnection(ctx context.Context, timeout time.Duration, fn func(*proto.Conn) error) error {
	c, err := p.BorrowConnection(ctx, timeout)
	if err != nil {
		return err
	}
	fnErr := fn(c)
	if retErr := p.ReturnConnection(c); retErr != nil && fnErr == nil {
		return retErr
	}
	return fnErr
}

// Close marks the pool closed, fails every queued waiter with
// ErrPoolClosed, cancels and waits for any in-flight pool-initiated
// connection creation, then closes every available connection. Connections
// currently borrowed are unaffected until their owners call
// ReturnConnection.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	avail := p.available
	p.available = nil
	p.waiters.drain(ErrPoolClosed)
	p.mu.Unlock()

	p.cancelCreate()
	p.creating.Wait()

	var firstErr error
	for _, c := range avail {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.cfg.logEvent("pool.closed", map[string]any{"drained_available": len(avail)})
	return firstErr
}

// Stats is a snapshot of the pool's bookkeeping, useful for tests and
// diagnostics.
type Stats struct {
	Available int
	LiveCount int
	Closed    bool
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Available: len(p.available), LiveCount: p.liveCount, Closed: p.closed}
}
