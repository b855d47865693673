package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const defaultJWKSCacheTTL = 15 * time.Minute

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// Auth validates bearer JWTs. Production tokens are RS256 and verified against
// a JWKS; local and test deployments use a shared HS256 secret.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string

	hmacSecret  []byte
	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// AuthOption configures Auth.
type AuthOption func(*Auth)

// WithHS256Secret switches verification to HS256 with secret.
func WithHS256Secret(secret []byte) AuthOption {
	return func(a *Auth) { a.hmacSecret = secret }
}

// WithKeyCacheTTL sets how long resolved JWKS keys are reused. Zero disables
// the cache.
func WithKeyCacheTTL(ttl time.Duration) AuthOption {
	return func(a *Auth) { a.keyCacheTTL = ttl }
}

// NewAuth creates a new Auth instance.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string, opts ...AuthOption) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer, keyCacheTTL: defaultJWKSCacheTTL}
	for _, opt := range opts {
		opt(a)
	}
	if a.hmacSecret != nil {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// Authenticate resolves the principal of an Authorization header value.
func (a *Auth) Authenticate(h string) (Principal, error) {
	if h == "" {
		return Principal{}, errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return Principal{}, err
	}
	return a.verify(token)
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	p, err := a.Authenticate(h)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

func (a *Auth) verify(token []byte) (Principal, error) {
	if len(token) == 0 {
		return Principal{}, errBadAuthorization
	}

	tokenStr := string(token)
	parsedToken, err := a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if a.hmacSecret != nil {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.hmacSecret, nil
		}
		return a.keyForToken(t)
	})
	if err != nil {
		return Principal{}, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return Principal{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return Principal{}, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return Principal{}, errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return Principal{}, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return Principal{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Principal{}, errors.New("missing sub")
	}

	p := Principal{UserID: sub, Token: tokenStr}
	if exp, ok := claims["exp"].(float64); ok {
		p.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return p, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
