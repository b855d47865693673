package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"firetrack/session"
)

const principalKey = "principal"

// RequireUser authenticates the request and rejects revoked tokens. The
// resolved Principal is stored on the echo context.
func RequireUser(auth Authenticator, revoker Revoker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := auth.Authenticate(authorizationHeader(c))
			if err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
			if revoker != nil {
				revoked, err := revoker.Revoked(c.Request().Context(), p.Token)
				if err != nil {
					c.Logger().Error(err)
					return c.String(http.StatusInternalServerError, "failed to check token")
				}
				if revoked {
					return c.String(http.StatusUnauthorized, "token revoked")
				}
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

func principal(c echo.Context) Principal {
	p, _ := c.Get(principalKey).(Principal)
	return p
}

// sessionHub keeps one session.Session per bearer token while requests using
// it are in flight, so a sign-out ends the open streams of that token.
type sessionHub struct {
	revoker Revoker
	logger  *log.Logger

	mu       sync.Mutex
	sessions map[string]*hubEntry
}

type hubEntry struct {
	sess *session.Session
	refs int
}

func newSessionHub(revoker Revoker, logger *log.Logger) *sessionHub {
	return &sessionHub{revoker: revoker, logger: logger, sessions: make(map[string]*hubEntry)}
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// acquire returns the signed-in session for p and a release func.
func (h *sessionHub) acquire(p Principal) (*session.Session, func()) {
	key := tokenDigest(p.Token)

	h.mu.Lock()
	entry, ok := h.sessions[key]
	if !ok {
		expires := p.ExpiresAt
		sess := session.New(func(ctx context.Context, id session.Identity) error {
			if h.revoker == nil {
				return nil
			}
			return h.revoker.Revoke(ctx, id.Token, expires)
		})
		sess.SignIn(session.Identity{UserID: p.UserID, Token: p.Token})
		entry = &hubEntry{sess: sess}
		h.sessions[key] = entry
	}
	entry.refs++
	h.mu.Unlock()

	var once sync.Once
	return entry.sess, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			entry.refs--
			if entry.refs == 0 && h.sessions[key] == entry {
				delete(h.sessions, key)
			}
		})
	}
}

// signOut revokes p's token and broadcasts the sign-out to its streams.
func (h *sessionHub) signOut(ctx context.Context, p Principal) error {
	sess, release := h.acquire(p)
	defer release()
	if err := sess.SignOut(ctx); err != nil {
		return err
	}
	h.logger.WithField("userId", p.UserID).Info("signed out")
	return nil
}

func (h *sessionHub) active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
