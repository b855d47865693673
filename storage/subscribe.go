package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"firetrack/domain"
	"firetrack/internal/consts"
)

var errCallbacksRequired = errors.New("subscribe requires snapshot and error callbacks")

// subscription delivers the messages of one pub/sub channel on a single
// goroutine. mu is held for the whole of every callback so Unsubscribe can
// wait for an in-flight delivery.
type subscription struct {
	pubsub *redis.PubSub
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	closed     atomic.Bool
	inCallback atomic.Bool
	once       sync.Once
}

// Unsubscribe stops the subscription. Once it returns no callback starts.
// While a callback is running it returns without waiting for it, which keeps
// calls made from inside a callback from deadlocking.
func (s *subscription) Unsubscribe() {
	s.shutdown()
	if s.inCallback.Load() {
		return
	}
	s.mu.Lock()
	//nolint:staticcheck // empty critical section waits for an in-flight callback
	s.mu.Unlock()
}

func (s *subscription) shutdown() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.pubsub.Close()
	})
}

// deliver runs fn unless the subscription is closed. It reports whether fn ran.
func (s *subscription) deliver(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	fn()
	return true
}

// fail delivers a terminal error and shuts the subscription down.
func (s *subscription) fail(onError func(error), err error) {
	s.deliver(func() { onError(err) })
	s.shutdown()
}

// open subscribes to channel and waits for the server confirmation, so every
// commit published after open returns is delivered.
func (s *Store) open(ctx context.Context, channel string) (*subscription, error) {
	ps := s.rc.Subscribe(ctx, channel)
	msg, err := ps.Receive(ctx)
	if err != nil {
		_ = ps.Close()
		return nil, err
	}
	if _, ok := msg.(*redis.Subscription); !ok {
		_ = ps.Close()
		return nil, fmt.Errorf("unexpected subscribe reply %T", msg)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &subscription{pubsub: ps, ctx: loopCtx, cancel: cancel, done: make(chan struct{})}, nil
}

func subscriptionErr(target string, err error) error {
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return nf
	}
	return &domain.SubscriptionError{Target: target, Err: err}
}

// SubscribeProject delivers the current document and then every committed
// change of project id. A missing or deleted project ends the subscription
// with a NotFoundError; a broken channel with a SubscriptionError.
func (s *Store) SubscribeProject(ctx context.Context, id string, onSnapshot func(domain.Project), onError func(error)) (domain.Subscription, error) {
	if onSnapshot == nil || onError == nil {
		return nil, errCallbacksRequired
	}
	sub, err := s.open(ctx, consts.ProjectChannel(id))
	if err != nil {
		return nil, &domain.SubscriptionError{Target: id, Err: err}
	}
	go s.watchProject(sub, id, onSnapshot, onError)
	return sub, nil
}

func (s *Store) watchProject(sub *subscription, id string, onSnapshot func(domain.Project), onError func(error)) {
	defer close(sub.done)
	logger := s.logger.WithField("project", id)

	p, err := s.GetProject(sub.ctx, id)
	if err != nil {
		if sub.closed.Load() {
			return
		}
		sub.fail(onError, subscriptionErr(id, err))
		return
	}
	last := p.Version
	if !sub.deliver(func() { onSnapshot(p) }) {
		return
	}
	for {
		msg, err := sub.pubsub.Receive(sub.ctx)
		if err != nil {
			if sub.closed.Load() {
				return
			}
			sub.fail(onError, &domain.SubscriptionError{Target: id, Err: err})
			return
		}
		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}
		var env envelope
		if err := sonic.UnmarshalString(m.Payload, &env); err != nil {
			logger.WithError(err).Warn("discarding unreadable change")
			continue
		}
		if env.Kind == domain.ChangeDeleted {
			sub.fail(onError, &domain.NotFoundError{ID: id})
			return
		}
		if env.Project == nil || env.Version <= last {
			continue
		}
		last = env.Version
		snap := *env.Project
		if snap.Tasks == nil {
			snap.Tasks = []domain.Task{}
		}
		if !sub.deliver(func() { onSnapshot(snap) }) {
			return
		}
	}
}

// SubscribeProjectsByOwner delivers the owner's project list, newest first,
// and a fresh list after every change to any of those projects.
func (s *Store) SubscribeProjectsByOwner(ctx context.Context, ownerID string, onSnapshot func([]domain.Project), onError func(error)) (domain.Subscription, error) {
	if onSnapshot == nil || onError == nil {
		return nil, errCallbacksRequired
	}
	sub, err := s.open(ctx, consts.OwnerChannel(ownerID))
	if err != nil {
		return nil, &domain.SubscriptionError{Target: ownerID, Err: err}
	}
	go s.watchOwner(sub, ownerID, onSnapshot, onError)
	return sub, nil
}

func (s *Store) watchOwner(sub *subscription, ownerID string, onSnapshot func([]domain.Project), onError func(error)) {
	defer close(sub.done)
	logger := s.logger.WithFields(log.Fields{"owner": ownerID})

	for {
		list, err := s.ListProjectsByOwner(sub.ctx, ownerID)
		if err != nil {
			if sub.closed.Load() {
				return
			}
			sub.fail(onError, &domain.SubscriptionError{Target: ownerID, Err: err})
			return
		}
		if !sub.deliver(func() { onSnapshot(list) }) {
			return
		}
		if err := waitForMessage(sub); err != nil {
			if sub.closed.Load() {
				return
			}
			logger.WithError(err).Warn("owner subscription lost")
			sub.fail(onError, &domain.SubscriptionError{Target: ownerID, Err: err})
			return
		}
	}
}

// waitForMessage blocks until the next published message, skipping control
// replies such as pongs.
func waitForMessage(sub *subscription) error {
	for {
		msg, err := sub.pubsub.Receive(sub.ctx)
		if err != nil {
			return err
		}
		if _, ok := msg.(*redis.Message); ok {
			return nil
		}
	}
}
