// Package subscription keeps a local snapshot in step with a live store
// subscription.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"firetrack/domain"
)

// State is the lifecycle position of a Controller.
type State int

const (
	Idle State = iota
	Subscribing
	Active
	Errored
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Errored:
		return "errored"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Update is passed to the observer on every state or snapshot change.
type Update[T any] struct {
	State    State
	Snapshot T
	Err      error
}

// SubscribeFunc opens one live subscription.
type SubscribeFunc[T any] func(ctx context.Context, onSnapshot func(T), onError func(error)) (domain.Subscription, error)

// ProjectSource is the live part of the store gateway.
type ProjectSource interface {
	SubscribeProject(ctx context.Context, id string, onSnapshot func(domain.Project), onError func(error)) (domain.Subscription, error)
	SubscribeProjectsByOwner(ctx context.Context, ownerID string, onSnapshot func([]domain.Project), onError func(error)) (domain.Subscription, error)
}

// Controller owns one subscription and the latest snapshot it delivered.
// Snapshots replace each other wholesale; there is no merging.
type Controller[T any] struct {
	target    string
	subscribe SubscribeFunc[T]
	logger    *log.Entry

	mu          sync.Mutex
	state       State
	snapshot    T
	hasSnapshot bool
	err         error
	sub         domain.Subscription
	observer    func(Update[T])

	// notifyMu is held while the observer runs so Close can wait for it.
	notifyMu  sync.Mutex
	notifying atomic.Bool

	loaded     chan struct{}
	loadedOnce sync.Once
}

// New builds an idle controller. target names the subscription in errors and logs.
func New[T any](target string, subscribe SubscribeFunc[T], logger *log.Logger) *Controller[T] {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller[T]{
		target:    target,
		subscribe: subscribe,
		logger:    logger.WithField("subscription", target),
		loaded:    make(chan struct{}),
	}
}

// NewProjectController follows a single project document.
func NewProjectController(src ProjectSource, id string, logger *log.Logger) *Controller[domain.Project] {
	return New("project:"+id, func(ctx context.Context, onSnapshot func(domain.Project), onError func(error)) (domain.Subscription, error) {
		return src.SubscribeProject(ctx, id, onSnapshot, onError)
	}, logger)
}

// NewOwnerController follows the project list of an owner, in store order.
func NewOwnerController(src ProjectSource, ownerID string, logger *log.Logger) *Controller[[]domain.Project] {
	return New("owner:"+ownerID, func(ctx context.Context, onSnapshot func([]domain.Project), onError func(error)) (domain.Subscription, error) {
		return src.SubscribeProjectsByOwner(ctx, ownerID, onSnapshot, onError)
	}, logger)
}

// Start opens the subscription. It may be called once, from Idle. observer
// may be nil and is never called with the controller lock held.
func (c *Controller[T]) Start(ctx context.Context, observer func(Update[T])) error {
	c.mu.Lock()
	if c.state != Idle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("subscription %s: start in state %s", c.target, st)
	}
	c.state = Subscribing
	c.observer = observer
	c.mu.Unlock()

	sub, err := c.subscribe(ctx, c.handleSnapshot, c.handleError)
	if err != nil {
		var se *domain.SubscriptionError
		if !errors.As(err, &se) {
			err = &domain.SubscriptionError{Target: c.target, Err: err}
		}
		c.handleError(err)
		return err
	}

	c.mu.Lock()
	if c.state == Closed || c.state == Errored {
		c.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()
	return nil
}

func (c *Controller[T]) handleSnapshot(snap T) {
	c.mu.Lock()
	if c.state != Subscribing && c.state != Active {
		c.mu.Unlock()
		return
	}
	first := c.state == Subscribing
	c.state = Active
	c.snapshot = snap
	c.hasSnapshot = true
	c.mu.Unlock()

	if first {
		c.logger.Debug("subscription active")
		c.markLoaded()
	}
	c.notify(Update[T]{State: Active, Snapshot: snap})
}

func (c *Controller[T]) handleError(err error) {
	c.mu.Lock()
	if c.state == Closed || c.state == Errored {
		c.mu.Unlock()
		return
	}
	c.state = Errored
	c.err = err
	sub := c.sub
	c.sub = nil
	snap := c.snapshot
	c.mu.Unlock()

	c.logger.WithError(err).Warn("subscription failed")
	if sub != nil {
		sub.Unsubscribe()
	}
	c.markLoaded()
	c.notify(Update[T]{State: Errored, Snapshot: snap, Err: err})
}

func (c *Controller[T]) notify(u Update[T]) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if c.State() == Closed || c.observer == nil {
		return
	}
	c.notifying.Store(true)
	defer c.notifying.Store(false)
	c.observer(u)
}

func (c *Controller[T]) markLoaded() {
	c.loadedOnce.Do(func() { close(c.loaded) })
}

// Close releases the subscription. No observer call starts after Close
// returns; calling it from the observer is allowed. Close is idempotent.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.markLoaded()
	if !c.notifying.Load() {
		c.notifyMu.Lock()
		//nolint:staticcheck // waits for an observer call already past its state check
		c.notifyMu.Unlock()
	}
}

// Snapshot returns the latest delivered snapshot and whether one arrived.
// It stays readable after an error.
func (c *Controller[T]) Snapshot() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot, c.hasSnapshot
}

func (c *Controller[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the controller to Errored.
func (c *Controller[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until loading ends: the first snapshot, an error, or Close.
func (c *Controller[T]) Wait(ctx context.Context) error {
	select {
	case <-c.loaded:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
