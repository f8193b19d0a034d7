// Package limiter provides a bounded-concurrency limiter: at most K tasks
// run at once, excess tasks queue in FIFO order, and K can be retuned live.
//
// One Limiter exists per external capability (language, image, vision) so
// each provider's in-flight budget is tuned independently of the others.
package limiter

import (
	"context"
	"sync"

	berrors "github.com/beamforge/beamforge/internal/errors"
)

// Metrics is a point-in-time snapshot of limiter state.
type Metrics struct {
	Active int
	Queued int
	Limit  int
}

// Task is the unit of work scheduled through a Limiter. It returns a value
// and/or an error; the Limiter never inspects either, it only sequences
// admission.
type Task func(ctx context.Context) (any, error)

// waiter is a queued request for a slot, released in FIFO order.
type waiter struct {
	release chan struct{}
}

// Limiter admits at most `limit` concurrent callers of Execute; additional
// callers block in a FIFO queue until a slot frees up or setLimit(k) grows
// the limit enough to admit them directly.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	active int
	queue  []*waiter
}

// New creates a Limiter with the given initial limit, which must be a
// positive integer.
func New(limit int) (*Limiter, error) {
	if limit <= 0 {
		return nil, berrors.New(berrors.InvalidArgument, "limit must be a positive integer, got %d", limit)
	}
	return &Limiter{limit: limit}, nil
}

// Execute schedules task, blocking until a slot is available or ctx is
// cancelled, then runs task and returns its outcome unmodified. The order in
// which concurrently-submitted calls to Execute return reflects only their
// own task's completion, not admission order.
func (l *Limiter) Execute(ctx context.Context, task Task) (any, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()

	return task(ctx)
}

func (l *Limiter) acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.active < l.limit {
		l.active++
		l.mu.Unlock()
		return nil
	}

	w := &waiter{release: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	select {
	case <-w.release:
		return nil
	case <-ctx.Done():
		l.abandon(w)
		return berrors.New(berrors.Cancelled, "limiter: %v", ctx.Err())
	}
}

// abandon removes w from the queue if it is still waiting (ctx was
// cancelled before a slot reached it).
func (l *Limiter) abandon(w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
	// w was already released and handed a slot concurrently with
	// cancellation; give that slot straight back.
	l.releaseLocked()
}

// release frees the caller's slot and admits the next queued waiter, if any
// and if capacity allows.
func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked()
}

func (l *Limiter) releaseLocked() {
	l.active--
	if len(l.queue) > 0 && l.active < l.limit {
		w := l.queue[0]
		l.queue = l.queue[1:]
		l.active++
		close(w.release)
	}
}

// SetLimit updates the limiter's concurrency cap. Currently running tasks
// continue uninterrupted. If the new limit exceeds the old one and the
// queue is non-empty, min(newLimit-active, len(queue)) queued tasks are
// released immediately.
func (l *Limiter) SetLimit(k int) error {
	if k <= 0 {
		return berrors.New(berrors.InvalidArgument, "limit must be a positive integer, got %d", k)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = k
	room := l.limit - l.active
	for room > 0 && len(l.queue) > 0 {
		w := l.queue[0]
		l.queue = l.queue[1:]
		l.active++
		close(w.release)
		room--
	}
	return nil
}

// Metrics returns a snapshot of current limiter state.
func (l *Limiter) Metrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Metrics{Active: l.active, Queued: len(l.queue), Limit: l.limit}
}

// Registry keys Limiters by capability name so new capabilities plug in
// without changes to the orchestrator.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults map[string]int
}

// NewRegistry builds a Registry whose per-capability limits come from
// defaults; a capability not present in defaults gets a limit of 1.
func NewRegistry(defaults map[string]int) *Registry {
	d := make(map[string]int, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &Registry{limiters: make(map[string]*Limiter), defaults: d}
}

// Get returns the Limiter for capability, creating it on first access using
// the limit configured for it in defaults (or 1, local-provider-style
// serialization, if none is configured).
func (r *Registry) Get(capability string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[capability]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[capability]; ok {
		return l
	}
	limit := r.defaults[capability]
	if limit <= 0 {
		limit = 1
	}
	l, _ = New(limit)
	r.limiters[capability] = l
	return l
}

// Tune updates the limit for a capability's limiter (creating it first if
// necessary).
func (r *Registry) Tune(capability string, k int) error {
	return r.Get(capability).SetLimit(k)
}
