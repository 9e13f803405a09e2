package models

import (
	"time"

	"slackline/internal/errors"
)

// AuthContext carries the three-tier authorization chain for a request:
// the local session identity, the backend-issued access token, and the
// optional workspace token. Accessors fail closed; callers never read the
// token fields around them.
type AuthContext struct {
	UserEmail      string
	UserName       string
	BackendToken   string
	WorkspaceToken string
	ExpiresAt      time.Time
}

// RequireBackendToken returns the backend access token or an AUTH_MISSING
// error. Every scheduling operation requires this token.
func (a AuthContext) RequireBackendToken() (string, error) {
	if a.BackendToken == "" {
		return "", errors.New(errors.ErrCodeAuthMissing, "no backend access token in session")
	}
	return a.BackendToken, nil
}

// RequireWorkspaceToken returns the workspace token or a
// WORKSPACE_NOT_LINKED error. Delivery and send-now require this token.
func (a AuthContext) RequireWorkspaceToken() (string, error) {
	if a.WorkspaceToken == "" {
		return "", errors.New(errors.ErrCodeWorkspaceNotLinked, "workspace is not linked for this account")
	}
	return a.WorkspaceToken, nil
}

// Expired reports whether the context has passed its expiry.
func (a AuthContext) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}
