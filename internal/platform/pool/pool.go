// Package pool provides a bounded database session governor.
//
// Schedulers and synchronous API reads share one pool; it is the single
// synchronization point between them. The pool admits at most
// Size+MaxOverflow concurrent sessions, fails acquisitions that wait longer
// than AcquireTimeout with a retryable exhaustion error, and discards
// connections older than RecycleAge instead of reusing them.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrExhausted indicates no session became available within the acquire
	// timeout. Callers retry on their next tick rather than treating it as
	// fatal.
	ErrExhausted = errors.New("session pool exhausted")
	// ErrClosed indicates the pool has been shut down.
	ErrClosed = errors.New("session pool is closed")
)

const defaultAcquireTimeout = 3 * time.Second

// Factory opens one new database connection.
type Factory func(ctx context.Context) (*sql.Conn, error)

// Config sizes the governor.
type Config struct {
	// Size is the number of pooled sessions kept across releases.
	Size int
	// MaxOverflow allows short bursts beyond Size; overflow sessions are
	// closed on release instead of being pooled.
	MaxOverflow int
	// AcquireTimeout bounds how long Acquire blocks before returning
	// ErrExhausted.
	AcquireTimeout time.Duration
	// RecycleAge discards connections older than this instead of reusing
	// them. Zero disables recycling.
	RecycleAge time.Duration
}

type pooledConn struct {
	conn   *sql.Conn
	bornAt time.Time
}

// Pool is a bounded session governor over database connections.
type Pool struct {
	cfg     Config
	factory Factory
	tokens  chan struct{}

	mu         sync.Mutex
	idle       []pooledConn
	checkedOut int
	closed     bool
	now        func() time.Time
}

// New validates the configuration and returns a ready pool.
func New(cfg Config, factory Factory) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("connection factory is required")
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool size must be greater than zero")
	}
	if cfg.MaxOverflow < 0 {
		return nil, fmt.Errorf("max overflow must not be negative")
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}

	capacity := cfg.Size + cfg.MaxOverflow
	tokens := make(chan struct{}, capacity)
	for i := 0; i < capacity; i++ {
		tokens <- struct{}{}
	}

	return &Pool{
		cfg:     cfg,
		factory: factory,
		tokens:  tokens,
		now:     time.Now,
	}, nil
}

// Session is one checked-out connection lease.
//
// Holders must not keep a session across a slow external call: release it
// first and reacquire afterward, so the bounded pool is never starved by
// work that does not touch the database.
type Session struct {
	Conn *sql.Conn

	pool     *Pool
	bornAt   time.Time
	finished bool
}

// Acquire leases one session, waiting at most the configured acquire
// timeout. On exhaustion it returns ErrExhausted rather than hanging.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	if p == nil {
		return nil, ErrClosed
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no session within %s", ErrExhausted, p.cfg.AcquireTimeout)
	case <-p.tokens:
	}

	conn, bornAt, err := p.takeConn(ctx)
	if err != nil {
		p.tokens <- struct{}{}
		return nil, err
	}
	return &Session{Conn: conn, pool: p, bornAt: bornAt}, nil
}

// takeConn reuses the freshest idle connection, discarding any that have
// outlived the recycle age, and opens a new one when none remain.
func (p *Pool) takeConn(ctx context.Context) (*sql.Conn, time.Time, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, time.Time{}, ErrClosed
	}
	var reuse *pooledConn
	for len(p.idle) > 0 {
		candidate := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.stale(candidate.bornAt) {
			_ = candidate.conn.Close()
			continue
		}
		reuse = &candidate
		break
	}
	p.checkedOut++
	p.mu.Unlock()

	if reuse != nil {
		return reuse.conn, reuse.bornAt, nil
	}

	conn, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.checkedOut--
		p.mu.Unlock()
		return nil, time.Time{}, fmt.Errorf("open pool connection: %w", err)
	}
	return conn, p.now(), nil
}

func (p *Pool) stale(bornAt time.Time) bool {
	return p.cfg.RecycleAge > 0 && p.now().Sub(bornAt) >= p.cfg.RecycleAge
}

// Release returns the session to the pool. Stale and overflow connections
// are closed instead of pooled.
func (s *Session) Release() {
	s.finish(false)
}

// Discard closes the session's connection outright. Use it after an error
// that may have poisoned the connection.
func (s *Session) Discard() {
	s.finish(true)
}

func (s *Session) finish(discard bool) {
	if s == nil || s.finished || s.pool == nil {
		return
	}
	s.finished = true
	p := s.pool

	p.mu.Lock()
	p.checkedOut--
	keep := !discard && !p.closed && !p.stale(s.bornAt) && len(p.idle) < p.cfg.Size
	if keep {
		p.idle = append(p.idle, pooledConn{conn: s.Conn, bornAt: s.bornAt})
	}
	p.mu.Unlock()

	if !keep {
		_ = s.Conn.Close()
	}
	p.tokens <- struct{}{}
}

// InUse reports the number of currently checked-out sessions.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkedOut
}

// Close shuts the pool down and closes idle connections. Outstanding
// sessions are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var firstErr error
	for _, pooled := range idle {
		if err := pooled.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsRetryable reports whether the error is transient resource exhaustion
// that the caller's next tick will naturally retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExhausted)
}
