// Package session tracks the signed-in identity and notifies watchers when
// it changes.
package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNotSignedIn is returned by SignOut when there is no identity.
var ErrNotSignedIn = errors.New("not signed in")

// Identity is the signed-in user. Token is the bearer credential, if any.
type Identity struct {
	UserID      string `json:"userId" yaml:"userId"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Token       string `json:"-" yaml:"token,omitempty"`
}

// SignOutFunc is the side effect run before the identity is cleared.
type SignOutFunc func(ctx context.Context, id Identity) error

// Session holds the current identity. It is passed explicitly to whatever
// needs it; there is no process-wide instance.
type Session struct {
	signOut SignOutFunc

	mu       sync.Mutex
	current  *Identity
	watchers map[chan struct{}]struct{}
}

// New creates a signed-out session. signOut may be nil.
func New(signOut SignOutFunc) *Session {
	return &Session{signOut: signOut, watchers: make(map[chan struct{}]struct{})}
}

// Current returns the identity, or false when signed out.
func (s *Session) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Identity{}, false
	}
	return *s.current, true
}

// SignIn replaces the current identity and notifies watchers.
func (s *Session) SignIn(id Identity) {
	s.mu.Lock()
	s.current = &id
	s.notifyLocked()
	s.mu.Unlock()
}

// SignOut runs the sign-out side effect and, when it succeeds, clears the
// identity and notifies watchers. On failure the identity is kept.
func (s *Session) SignOut(ctx context.Context) error {
	id, ok := s.Current()
	if !ok {
		return ErrNotSignedIn
	}
	if s.signOut != nil {
		if err := s.signOut(ctx, id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.current = nil
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

// Watch returns a channel that receives a value after every identity change
// and a func that stops the watch. Notifications coalesce; read Current for
// the new value.
func (s *Session) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.watchers, ch)
		s.mu.Unlock()
	}
}

func (s *Session) notifyLocked() {
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
