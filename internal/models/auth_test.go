package models

import (
	"testing"
	"time"

	"slackline/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireBackendToken(t *testing.T) {
	auth := AuthContext{BackendToken: "backend-token"}
	token, err := auth.RequireBackendToken()
	require.NoError(t, err)
	assert.Equal(t, "backend-token", token)

	_, err = AuthContext{}.RequireBackendToken()
	assert.True(t, errors.IsCode(err, errors.ErrCodeAuthMissing))
}

func TestRequireWorkspaceToken(t *testing.T) {
	auth := AuthContext{BackendToken: "backend-token", WorkspaceToken: "xoxp-token"}
	token, err := auth.RequireWorkspaceToken()
	require.NoError(t, err)
	assert.Equal(t, "xoxp-token", token)

	// Having a backend token is not enough
	_, err = AuthContext{BackendToken: "backend-token"}.RequireWorkspaceToken()
	assert.True(t, errors.IsCode(err, errors.ErrCodeWorkspaceNotLinked))
}

func TestAuthContextExpired(t *testing.T) {
	now := time.Now()

	assert.False(t, AuthContext{}.Expired(now), "zero expiry never expires")
	assert.False(t, AuthContext{ExpiresAt: now.Add(time.Minute)}.Expired(now))
	assert.True(t, AuthContext{ExpiresAt: now.Add(-time.Minute)}.Expired(now))
}
