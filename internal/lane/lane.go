// Package lane serializes work per chat.
//
// Every chat gets its own lane: jobs submitted for the same key run one at a
// time in submission order, so two links pasted into one chat never share a
// staging directory at the same time. Lanes for different chats run in
// parallel, bounded by a global in-flight limit. A lane whose queue is full
// rejects new work instead of growing without bound, and lanes that stay idle
// are retired.
package lane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mediagrab/internal/metrics"
)

var (
	// ErrLaneFull is returned when a chat already has QueueSize jobs waiting.
	ErrLaneFull = errors.New("lane queue full")

	// ErrClosed is returned by Submit after Close or Drain.
	ErrClosed = errors.New("lane manager closed")

	// ErrShutdownTimeout is returned when running jobs don't stop within the timeout.
	ErrShutdownTimeout = errors.New("lane shutdown timed out")
)

// Job is one unit of work. ctx is cancelled when the manager closes.
type Job func(ctx context.Context)

type Config struct {
	MaxInFlight int           // jobs running across all lanes (default 4)
	QueueSize   int           // pending jobs per lane (default 4)
	IdleTimeout time.Duration // retire a lane after this long without work (default 10m)
	Logger      *slog.Logger
}

type lane struct {
	key   string
	queue chan Job
}

// Manager owns the lanes for all chats.
type Manager struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool

	sem         chan struct{}
	queueSize   int
	idleTimeout time.Duration
	logger      *slog.Logger

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	drain     chan struct{}
	drainOnce sync.Once
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		lanes:       make(map[string]*lane),
		sem:         make(chan struct{}, cfg.MaxInFlight),
		queueSize:   cfg.QueueSize,
		idleTimeout: cfg.IdleTimeout,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
		drain:       make(chan struct{}),
	}
}

// Submit queues job on the lane for key and returns without waiting for it.
func (m *Manager) Submit(key string, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	l, ok := m.lanes[key]
	if !ok {
		l = &lane{key: key, queue: make(chan Job, m.queueSize)}
		m.lanes[key] = l
		metrics.LanesActive.Inc()
		m.wg.Add(1)
		go m.run(l)
	}

	// The send happens under m.mu so an idle lane cannot retire between
	// the lookup and the enqueue.
	select {
	case l.queue <- job:
		return nil
	default:
		return ErrLaneFull
	}
}

// Lanes returns the number of live lanes.
func (m *Manager) Lanes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lanes)
}

// InFlight returns the number of jobs currently running.
func (m *Manager) InFlight() int {
	return len(m.sem)
}

// Close stops accepting work, cancels running jobs, drops queued ones and
// waits up to timeout for lane workers to exit. It may follow Drain.
func (m *Manager) Close(timeout time.Duration) error {
	m.stopAccepting()
	m.cancel()
	return m.wait(timeout)
}

// Drain stops accepting work and lets every queued job finish. If ctx ends
// first, running jobs are cancelled and ctx's error is returned; call Close
// afterwards to wait for them.
func (m *Manager) Drain(ctx context.Context) error {
	m.stopAccepting()
	m.drainOnce.Do(func() { close(m.drain) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}
}

func (m *Manager) stopAccepting() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Manager) wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (m *Manager) run(l *lane) {
	defer m.wg.Done()

	for {
		timer := time.NewTimer(m.idleTimeout)
		select {
		case job := <-l.queue:
			timer.Stop()
			m.execute(l, job)
		case <-timer.C:
			if m.retire(l, false) {
				return
			}
		case <-m.drain:
			timer.Stop()
			m.finish(l)
			return
		case <-m.ctx.Done():
			timer.Stop()
			m.retire(l, true)
			return
		}
	}
}

// finish runs what is left in the lane's queue, then retires it. Submit
// refuses work once draining starts, so the queue only shrinks.
func (m *Manager) finish(l *lane) {
	for {
		select {
		case job := <-l.queue:
			if m.ctx.Err() != nil {
				m.retire(l, true)
				return
			}
			m.execute(l, job)
		default:
			m.retire(l, true)
			return
		}
	}
}

// retire removes an idle lane. Unless forced it keeps lanes that received
// work while the idle timer fired.
func (m *Manager) retire(l *lane, force bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force && len(l.queue) > 0 {
		return false
	}
	if m.lanes[l.key] == l {
		delete(m.lanes, l.key)
		metrics.LanesActive.Dec()
	}
	if n := len(l.queue); n > 0 {
		m.logger.Warn("dropping queued jobs on shutdown", "lane", l.key, "jobs", n)
	}
	return true
}

func (m *Manager) execute(l *lane, job Job) {
	select {
	case m.sem <- struct{}{}:
	case <-m.ctx.Done():
		return
	}
	defer func() { <-m.sem }()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lane job panicked", "lane", l.key, "panic", fmt.Sprint(r))
		}
	}()

	job(m.ctx)
}
