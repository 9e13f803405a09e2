package service

import (
	"sync"
	"time"

	"slackline/internal/errors"
	"slackline/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AuthResolver owns the per-process session cache. A session maps an opaque
// local session token to the AuthContext established at login (backend token
// plus optional workspace token). Entries expire after the configured TTL;
// each successful resolve slides the expiry forward.
type AuthResolver struct {
	mu       sync.RWMutex
	sessions map[string]models.AuthContext
	ttl      time.Duration
	logger   *logrus.Logger
	now      func() time.Time
}

func NewAuthResolver(ttl time.Duration, logger *logrus.Logger) *AuthResolver {
	return &AuthResolver{
		sessions: make(map[string]models.AuthContext),
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Establish stores a freshly authenticated context and returns the session
// token that identifies it.
func (r *AuthResolver) Establish(auth models.AuthContext) string {
	token := uuid.NewString()
	auth.ExpiresAt = r.now().Add(r.ttl)

	r.mu.Lock()
	r.sessions[token] = auth
	r.mu.Unlock()

	r.logger.WithField("user", auth.UserEmail).Debug("Session established")
	return token
}

// Resolve returns the AuthContext for a session token, failing closed with
// AUTH_MISSING when the token is empty, unknown, or expired.
func (r *AuthResolver) Resolve(sessionToken string) (models.AuthContext, error) {
	if sessionToken == "" {
		return models.AuthContext{}, errors.New(errors.ErrCodeAuthMissing, "no session token supplied")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	auth, ok := r.sessions[sessionToken]
	if !ok {
		return models.AuthContext{}, errors.New(errors.ErrCodeAuthMissing, "unknown session")
	}

	now := r.now()
	if auth.Expired(now) {
		delete(r.sessions, sessionToken)
		return models.AuthContext{}, errors.New(errors.ErrCodeAuthMissing, "session expired")
	}

	// Sliding expiry: every authenticated request refreshes the session.
	auth.ExpiresAt = now.Add(r.ttl)
	r.sessions[sessionToken] = auth

	return auth, nil
}

// Discard drops a session on sign-out.
func (r *AuthResolver) Discard(sessionToken string) {
	r.mu.Lock()
	delete(r.sessions, sessionToken)
	r.mu.Unlock()
}
