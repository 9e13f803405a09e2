package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "alex@example.com", payload["email"])

		json.NewEncoder(w).Encode(LoginResult{
			Name:           "Alex",
			AccessToken:    "backend-token",
			WorkspaceToken: "xoxp-token",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	result, err := client.Login(context.Background(), "alex@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "Alex", result.Name)
	assert.Equal(t, "backend-token", result.AccessToken)
	assert.Equal(t, "xoxp-token", result.WorkspaceToken)
}

func TestLoginWithoutLinkedWorkspace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LoginResult{Name: "Sam", AccessToken: "backend-token"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	result, err := client.Login(context.Background(), "sam@example.com", "hunter2")
	require.NoError(t, err)
	assert.Empty(t, result.WorkspaceToken)
}

func TestLoginRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "bad credentials"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	_, err := client.Login(context.Background(), "alex@example.com", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestLoginMissingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LoginResult{Name: "Alex"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	_, err := client.Login(context.Background(), "alex@example.com", "hunter2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing access token")
}

func TestRegister(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/register", r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Alex", payload["name"])

		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	err := client.Register(context.Background(), "Alex", "alex@example.com", "hunter2")
	assert.NoError(t, err)
}

func TestRegisterConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	err := client.Register(context.Background(), "Alex", "alex@example.com", "hunter2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}
