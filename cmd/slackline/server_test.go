package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"slackline/internal/database"
	"slackline/internal/models"
	"slackline/internal/retry"
	"slackline/internal/service"
	"slackline/pkg/identity"
	"slackline/pkg/slack"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIdentity struct {
	loginErr    error
	registerErr error
	result      identity.LoginResult
}

func (s *stubIdentity) Login(ctx context.Context, email, password string) (*identity.LoginResult, error) {
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	result := s.result
	return &result, nil
}

func (s *stubIdentity) Register(ctx context.Context, name, email, password string) error {
	return s.registerErr
}

type stubSlack struct {
	channels []slack.Channel
	postErr  error
	postedTo []string
}

func (s *stubSlack) ListChannels(ctx context.Context, token string) ([]slack.Channel, error) {
	return s.channels, nil
}

func (s *stubSlack) PostMessage(ctx context.Context, token, channelID, text, username string) (string, error) {
	if s.postErr != nil {
		return "", s.postErr
	}
	s.postedTo = append(s.postedTo, channelID)
	return "1726000000.000900", nil
}

type stubAssist struct {
	text string
	err  error
}

func (s *stubAssist) Improve(ctx context.Context, prompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

type serverFixture struct {
	ts       *httptest.Server
	slack    *stubSlack
	assist   *stubAssist
	resolver *service.AuthResolver
	hub      *service.EventHub
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := database.New(filepath.Join(t.TempDir(), "slackline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	slackStub := &stubSlack{channels: []slack.Channel{
		{ID: "C123", Name: "general"},
		{ID: "C456", Name: "random"},
	}}
	assistStub := &stubAssist{text: "Polished copy."}

	cfg := &models.Config{
		Scheduler: models.SchedulerConfig{
			MaxAttempts:        3,
			DeliveryTimeoutSec: 1,
			ClaimBatchSize:     16,
			IdleParkSec:        60,
		},
	}

	hub := service.NewEventHub()
	backoff := retry.NewBackoff(retry.DefaultBackoffConfig())
	dispatcher := service.NewDispatcher(db, slackStub, hub, backoff, cfg.Scheduler, logger)

	validator := service.NewScheduleValidator(service.NewChannelDirectory(slackStub))
	schedules := service.NewScheduleService(db, validator, slackStub, hub, dispatcher, cfg.Scheduler, logger)

	resolver := service.NewAuthResolver(30*time.Minute, logger)
	identityStub := &stubIdentity{result: identity.LoginResult{
		Name:           "Alex",
		AccessToken:    "backend-token",
		WorkspaceToken: "xoxp-token",
	}}

	server := NewServer(cfg, schedules, resolver, identityStub, assistStub, hub, logger)
	ts := httptest.NewServer(server.router)
	t.Cleanup(ts.Close)

	return &serverFixture{ts: ts, slack: slackStub, assist: assistStub, resolver: resolver, hub: hub}
}

func (f *serverFixture) login(t *testing.T) string {
	t.Helper()

	resp := f.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "alex@example.com",
		"password": "hunter2",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func (f *serverFixture) request(t *testing.T, method, path, token string, payload interface{}) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.ts.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"].Code
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/health", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginAndLogout(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t)

	resp := f.request(t, http.MethodGet, "/channels", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodPost, "/auth/logout", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/channels", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "AUTH_MISSING", decodeError(t, resp))
}

func TestRequestsWithoutSessionAreRejected(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/channels", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "AUTH_MISSING", decodeError(t, resp))
}

func TestRegisterEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/auth/register", "", map[string]string{
		"name":     "Alex",
		"email":    "alex@example.com",
		"password": "hunter2",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.request(t, http.MethodPost, "/auth/register", "", map[string]string{"name": "Alex"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListChannelsEndpoint(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t)

	resp := f.request(t, http.MethodGet, "/channels", token, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Channels []models.Channel `json:"channels"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Channels, 2)
	assert.Equal(t, "general", body.Channels[0].Name)
}

func TestScheduleLifecycleOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t)

	// Create
	resp := f.request(t, http.MethodPost, "/schedule", token, scheduleRequest{
		ChannelID: "C123",
		Body:      "standup in ten",
		Sender:    "user",
		PostAt:    time.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.ScheduledMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, models.StatusPending, created.Status)
	require.NotEmpty(t, created.ID)

	// List
	resp = f.request(t, http.MethodGet, "/channels/C123/messages", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listing struct {
		Messages []models.ScheduledMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	require.Len(t, listing.Messages, 1)
	assert.Equal(t, created.ID, listing.Messages[0].ID)

	// Cancel
	resp = f.request(t, http.MethodDelete, "/schedule/"+created.ID, token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Cancel again resolves to the terminal-state conflict
	resp = f.request(t, http.MethodDelete, "/schedule/"+created.ID, token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_FINAL", decodeError(t, resp))
}

func TestScheduleValidationOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t)

	tests := []struct {
		name     string
		req      scheduleRequest
		wantCode string
	}{
		{
			name:     "empty body",
			req:      scheduleRequest{ChannelID: "C123", Body: " ", PostAt: time.Now().Add(time.Hour)},
			wantCode: "EMPTY_MESSAGE",
		},
		{
			name:     "unknown channel",
			req:      scheduleRequest{ChannelID: "C999", Body: "hello", PostAt: time.Now().Add(time.Hour)},
			wantCode: "INVALID_CHANNEL",
		},
		{
			name:     "under minimum lead",
			req:      scheduleRequest{ChannelID: "C123", Body: "hello", PostAt: time.Now().Add(30 * time.Second)},
			wantCode: "LEAD_TIME_TOO_SHORT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.request(t, http.MethodPost, "/schedule", token, tt.req)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.wantCode, decodeError(t, resp))
		})
	}
}

func TestCancelUnknownMessage(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t)

	resp := f.request(t, http.MethodDelete, "/schedule/does-not-exist", token, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeError(t, resp))
}

func TestSendNowOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t)

	resp := f.request(t, http.MethodPost, "/messages", token, scheduleRequest{
		ChannelID: "C123",
		Body:      "ship it",
		Sender:    "bot",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sent models.ScheduledMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))
	assert.Equal(t, models.StatusSent, sent.Status)
	require.NotNil(t, sent.ExternalID)
	assert.Equal(t, "1726000000.000900", *sent.ExternalID)
	assert.Equal(t, []string{"C123"}, f.slack.postedTo)
}

func TestSendNowDeliveryFailure(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t)

	f.slack.postErr = fmt.Errorf("channel is archived")

	resp := f.request(t, http.MethodPost, "/messages", token, scheduleRequest{
		ChannelID: "C123",
		Body:      "ship it",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "DELIVERY_FAILURE", decodeError(t, resp))

	// No record is left behind
	listResp := f.request(t, http.MethodGet, "/channels/C123/messages", token, nil)
	defer listResp.Body.Close()
	var listing struct {
		Messages []models.ScheduledMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listing))
	assert.Empty(t, listing.Messages)
}

func TestImproveEndpointFallsBack(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t)

	resp := f.request(t, http.MethodPost, "/assist/improve", token, map[string]string{"prompt": "pls fix"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var improved improveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&improved))
	resp.Body.Close()
	assert.True(t, improved.Improved)
	assert.Equal(t, "Polished copy.", improved.Text)

	// Assistant failure degrades to the original text
	f.assist.err = fmt.Errorf("model overloaded")
	resp = f.request(t, http.MethodPost, "/assist/improve", token, map[string]string{"prompt": "pls fix"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&improved))
	assert.False(t, improved.Improved)
	assert.Equal(t, "pls fix", improved.Text)
}

func TestEventsWebsocketStream(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, f.ts.URL+"/events", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the handler a moment to register its subscription
	time.Sleep(50 * time.Millisecond)

	resp := f.request(t, http.MethodPost, "/schedule", token, scheduleRequest{
		ChannelID: "C123",
		Body:      "standup in ten",
		PostAt:    time.Now().Add(time.Hour),
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var event service.Event
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, "C123", event.ChannelID)
	assert.Equal(t, models.StatusPending, event.Status)
}
