package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slackline/internal/constants"
	"slackline/internal/errors"
	"slackline/internal/models"
	"slackline/internal/service"
	"slackline/internal/tracing"
	"slackline/pkg/assist"
	"slackline/pkg/identity"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type contextKey string

const authContextKey contextKey = "auth_context"

type Server struct {
	router    *mux.Router
	logger    *logrus.Logger
	cfg       *models.Config
	schedules *service.ScheduleService
	resolver  *service.AuthResolver
	identity  identity.Client
	assist    assist.Client
	hub       *service.EventHub
	server    *http.Server
}

func NewServer(cfg *models.Config, schedules *service.ScheduleService, resolver *service.AuthResolver, identityClient identity.Client, assistClient assist.Client, hub *service.EventHub, logger *logrus.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		cfg:       cfg,
		schedules: schedules,
		resolver:  resolver,
		identity:  identityClient,
		assist:    assistClient,
		hub:       hub,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.tracingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)

	auth := s.router.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", s.handleLogin()).Methods(http.MethodPost)
	auth.HandleFunc("/register", s.handleRegister()).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.handleLogout()).Methods(http.MethodPost)

	api := s.router.NewRoute().Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/channels", s.handleListChannels()).Methods(http.MethodGet)
	api.HandleFunc("/channels/{channelId}/messages", s.handleListMessages()).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleSendNow()).Methods(http.MethodPost)
	api.HandleFunc("/schedule", s.handleCreateSchedule()).Methods(http.MethodPost)
	api.HandleFunc("/schedule/{messageId}", s.handleCancel()).Methods(http.MethodDelete)
	api.HandleFunc("/assist/improve", s.handleImprove()).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// tracingMiddleware stamps every request with an id and a span, and logs the
// completion with its duration.
func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.WithRequestTracing(r.Context())
		ctx, span := tracing.StartSpan(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))

		s.logger.WithFields(logrus.Fields{
			"request_id": tracing.GetRequestID(ctx),
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   tracing.Duration(ctx).String(),
		}).Debug("Request completed")
	})
}

// authMiddleware resolves the bearer session token into an AuthContext.
// Requests without a valid session never reach a handler.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, err := s.resolver.Resolve(bearerToken(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey, auth)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

func authFromContext(ctx context.Context) models.AuthContext {
	auth, _ := ctx.Value(authContextKey).(models.AuthContext)
	return auth
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token           string `json:"token"`
	Name            string `json:"name"`
	WorkspaceLinked bool   `json:"workspaceLinked"`
}

func (s *Server) handleLogin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Email == "" || req.Password == "" {
			s.writeError(w, r, errors.NewValidationError(errors.ErrCodeInvalidInput, "credentials", "email and password are required"))
			return
		}

		result, err := s.identity.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			s.writeError(w, r, errors.NewAPIError("identity", "/auth/login", 0, err))
			return
		}

		token := s.resolver.Establish(models.AuthContext{
			UserEmail:      req.Email,
			UserName:       result.Name,
			BackendToken:   result.AccessToken,
			WorkspaceToken: result.WorkspaceToken,
		})

		s.writeJSON(w, http.StatusOK, loginResponse{
			Token:           token,
			Name:            result.Name,
			WorkspaceLinked: result.WorkspaceToken != "",
		})
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Name == "" || req.Email == "" || req.Password == "" {
			s.writeError(w, r, errors.NewValidationError(errors.ErrCodeInvalidInput, "registration", "name, email and password are required"))
			return
		}

		if err := s.identity.Register(r.Context(), req.Name, req.Email, req.Password); err != nil {
			s.writeError(w, r, errors.NewAPIError("identity", "/auth/register", 0, err))
			return
		}

		s.writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
	}
}

func (s *Server) handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resolver.Discard(bearerToken(r))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := s.schedules.Channels(r.Context(), authFromContext(r.Context()))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"channels": channels})
	}
}

func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID := mux.Vars(r)["channelId"]
		messages, err := s.schedules.ListByChannel(r.Context(), authFromContext(r.Context()), channelID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
	}
}

type scheduleRequest struct {
	ChannelID string    `json:"channelId"`
	Body      string    `json:"body"`
	Sender    string    `json:"sender"`
	PostAt    time.Time `json:"postAt"`
}

func (s *Server) handleCreateSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scheduleRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		msg, err := s.schedules.CreateSchedule(r.Context(), authFromContext(r.Context()), service.ScheduleRequest{
			ChannelID: req.ChannelID,
			Body:      req.Body,
			Sender:    models.SenderType(req.Sender),
			PostAt:    req.PostAt,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleSendNow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scheduleRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		msg, err := s.schedules.SendNow(r.Context(), authFromContext(r.Context()), service.ScheduleRequest{
			ChannelID: req.ChannelID,
			Body:      req.Body,
			Sender:    models.SenderType(req.Sender),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["messageId"]
		if err := s.schedules.Cancel(r.Context(), authFromContext(r.Context()), messageID); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type improveRequest struct {
	Prompt string `json:"prompt"`
}

type improveResponse struct {
	Text     string `json:"text"`
	Improved bool   `json:"improved"`
}

// handleImprove proxies the text-improvement assistant. Assistant failures
// fall back to the caller's own text rather than failing the request.
func (s *Server) handleImprove() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req improveRequest
		if err := s.decodeBody(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			s.writeError(w, r, errors.NewValidationError(errors.ErrCodeEmptyMessage, "prompt", "prompt must not be empty"))
			return
		}

		improved, err := s.assist.Improve(r.Context(), req.Prompt)
		if err != nil {
			s.logger.WithError(err).Warn("Assistant unavailable, returning original text")
			s.writeJSON(w, http.StatusOK, improveResponse{Text: req.Prompt, Improved: false})
			return
		}

		s.writeJSON(w, http.StatusOK, improveResponse{Text: improved, Improved: true})
	}
}

// handleEvents upgrades to a websocket and streams status events until the
// client disconnects.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to accept websocket connection")
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		events, cancel := s.hub.Subscribe()
		defer cancel()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := wsjson.Write(ctx, conn, event); err != nil {
					s.logger.WithError(err).Debug("Websocket write failed, dropping subscriber")
					return
				}
			}
		}
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body")
	}
	return nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatus(code)

	tracing.RecordError(r.Context(), err)

	entry := s.logger.WithFields(logrus.Fields{
		"request_id": tracing.GetRequestID(r.Context()),
		"code":       code,
		"path":       r.URL.Path,
	})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("Request failed")
	} else {
		entry.WithError(err).Debug("Request rejected")
	}

	s.writeJSON(w, status, map[string]errorBody{"error": {
		Code:    string(code),
		Message: errors.GetMessage(err),
	}})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
