package service

import (
	"context"
	"sync"
	"time"

	"slackline/internal/constants"
	"slackline/internal/errors"
	"slackline/internal/models"
	"slackline/pkg/slack"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the scheduling core depends on. The
// guarded transition operations are the only way status ever changes.
type Store interface {
	CreateMessage(ctx context.Context, msg *models.ScheduledMessage) error
	GetMessage(ctx context.Context, id string) (*models.ScheduledMessage, error)
	ListMessagesByChannel(ctx context.Context, channelID string) ([]*models.ScheduledMessage, error)
	Transition(ctx context.Context, id string, from, to models.Status) error
	TransitionSent(ctx context.Context, id, externalID string) error
	ReleaseForRetry(ctx context.Context, id, deliveryErr string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id, deliveryErr string) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledMessage, error)
	NextWakeTime(ctx context.Context) (*time.Time, error)
}

// Waker pokes the dispatcher when the set of pending messages changes.
type Waker interface {
	Wake()
}

// ScheduleRequest is a create-schedule or send-now submission.
type ScheduleRequest struct {
	ChannelID string
	Body      string
	Sender    models.SenderType
	PostAt    time.Time
}

// ScheduleService implements the operations the API surface exposes:
// create-schedule, list-by-channel, cancel, and send-now.
type ScheduleService struct {
	store           Store
	validator       *ScheduleValidator
	slack           slack.Client
	hub             *EventHub
	waker           Waker
	deliveryTimeout time.Duration
	logger          *logrus.Logger
	now             func() time.Time
}

func NewScheduleService(store Store, validator *ScheduleValidator, slackClient slack.Client, hub *EventHub, waker Waker, cfg models.SchedulerConfig, logger *logrus.Logger) *ScheduleService {
	return &ScheduleService{
		store:           store,
		validator:       validator,
		slack:           slackClient,
		hub:             hub,
		waker:           waker,
		deliveryTimeout: time.Duration(cfg.DeliveryTimeoutSec) * time.Second,
		logger:          logger,
		now:             time.Now,
	}
}

// CreateSchedule validates and persists a pending message. The requester's
// workspace token is captured on the record so the dispatcher can deliver it
// later without re-resolving the session.
func (s *ScheduleService) CreateSchedule(ctx context.Context, auth models.AuthContext, req ScheduleRequest) (*models.ScheduledMessage, error) {
	if _, err := auth.RequireBackendToken(); err != nil {
		return nil, err
	}
	workspaceToken, err := auth.RequireWorkspaceToken()
	if err != nil {
		return nil, err
	}

	sender := req.Sender
	if sender == "" {
		sender = models.SenderUser
	}
	if !models.ValidSenderType(sender) {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, "sender", "sender must be user or bot")
	}

	now := s.now()
	if err := s.validator.Validate(ctx, auth, req.Body, req.ChannelID, req.PostAt, now); err != nil {
		return nil, err
	}

	msg := &models.ScheduledMessage{
		ID:        uuid.NewString(),
		ChannelID: req.ChannelID,
		Body:      req.Body,
		Sender:    sender,
		CreatedBy: auth.UserEmail,
		Status:    models.StatusPending,
		PostAt:    req.PostAt.UTC(),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	msg.SetWorkspaceToken(workspaceToken)

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"id":      msg.ID,
		"channel": msg.ChannelID,
		"postAt":  msg.PostAt,
	}).Info("Message scheduled")

	s.hub.Publish(Event{MessageID: msg.ID, ChannelID: msg.ChannelID, Status: msg.Status, At: now})
	s.waker.Wake()

	return msg, nil
}

// ListByChannel returns the channel's full message history, creation time
// ascending.
func (s *ScheduleService) ListByChannel(ctx context.Context, auth models.AuthContext, channelID string) ([]*models.ScheduledMessage, error) {
	if _, err := auth.RequireBackendToken(); err != nil {
		return nil, err
	}
	if channelID == "" {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidChannel, "channelId", "channel id must not be empty")
	}
	return s.store.ListMessagesByChannel(ctx, channelID)
}

// Cancel requests the pending -> canceled transition. A cancellation racing
// the dispatcher is decided purely by who wins the store's compare-and-swap;
// the loser observes ALREADY_FINAL.
func (s *ScheduleService) Cancel(ctx context.Context, auth models.AuthContext, id string) error {
	if _, err := auth.RequireBackendToken(); err != nil {
		return err
	}

	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg.CreatedBy != auth.UserEmail {
		return errors.New(errors.ErrCodeForbidden, "message belongs to another account").WithContext("id", id)
	}

	if err := s.store.Transition(ctx, id, models.StatusPending, models.StatusCanceled); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{"id": id, "channel": msg.ChannelID}).Info("Message canceled")
	s.hub.Publish(Event{MessageID: id, ChannelID: msg.ChannelID, Status: models.StatusCanceled, At: s.now()})

	return nil
}

// SendNow posts immediately, bypassing the scheduler entirely: the record is
// inserted already sent, and nothing is persisted when the workspace is not
// linked or the post fails.
func (s *ScheduleService) SendNow(ctx context.Context, auth models.AuthContext, req ScheduleRequest) (*models.ScheduledMessage, error) {
	if _, err := auth.RequireBackendToken(); err != nil {
		return nil, err
	}
	workspaceToken, err := auth.RequireWorkspaceToken()
	if err != nil {
		return nil, err
	}

	sender := req.Sender
	if sender == "" {
		sender = models.SenderUser
	}
	if !models.ValidSenderType(sender) {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, "sender", "sender must be user or bot")
	}

	if err := s.validator.ValidateImmediate(ctx, auth, req.Body, req.ChannelID); err != nil {
		return nil, err
	}

	postCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()

	externalID, err := s.slack.PostMessage(postCtx, workspaceToken, req.ChannelID, req.Body, postUsername(sender, auth.UserName))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDeliveryFailure, "immediate send failed")
	}

	now := s.now()
	msg := &models.ScheduledMessage{
		ID:         uuid.NewString(),
		ChannelID:  req.ChannelID,
		Body:       req.Body,
		Sender:     sender,
		CreatedBy:  auth.UserEmail,
		Status:     models.StatusSent,
		PostAt:     now.UTC(),
		ExternalID: &externalID,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		// The post succeeded; surface the record failure but tell the caller
		// which external id was assigned.
		s.logger.WithError(err).WithField("externalId", externalID).Error("Failed to record sent message")
		return nil, err
	}

	s.hub.Publish(Event{MessageID: msg.ID, ChannelID: msg.ChannelID, Status: msg.Status, ExternalID: externalID, At: now})

	return msg, nil
}

// Channels lists the workspace channels visible to the requester.
func (s *ScheduleService) Channels(ctx context.Context, auth models.AuthContext) ([]models.Channel, error) {
	if _, err := auth.RequireBackendToken(); err != nil {
		return nil, err
	}
	workspaceToken, err := auth.RequireWorkspaceToken()
	if err != nil {
		return nil, err
	}

	listed, err := s.slack.ListChannels(ctx, workspaceToken)
	if err != nil {
		return nil, errors.NewAPIError("workspace", "conversations.list", 0, err)
	}

	channels := make([]models.Channel, 0, len(listed))
	for _, ch := range listed {
		channels = append(channels, models.Channel{ID: ch.ID, Name: ch.Name})
	}
	return channels, nil
}

func postUsername(sender models.SenderType, userName string) string {
	if sender == models.SenderUser {
		return userName
	}
	return ""
}

// channelCache implements ChannelDirectory over the workspace API with a
// short per-token cache, so validation does not hit the API on every
// schedule request.
type channelCache struct {
	slack slack.Client
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	byTok map[string]cachedChannels
}

type cachedChannels struct {
	ids       map[string]bool
	fetchedAt time.Time
}

func NewChannelDirectory(slackClient slack.Client) ChannelDirectory {
	return &channelCache{
		slack: slackClient,
		ttl:   time.Duration(constants.DefaultChannelCacheSec) * time.Second,
		now:   time.Now,
		byTok: make(map[string]cachedChannels),
	}
}

func (c *channelCache) IsKnown(ctx context.Context, auth models.AuthContext, channelID string) (bool, error) {
	token, err := auth.RequireWorkspaceToken()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	cached, ok := c.byTok[token]
	c.mu.Unlock()

	if ok && c.now().Sub(cached.fetchedAt) < c.ttl {
		return cached.ids[channelID], nil
	}

	listed, err := c.slack.ListChannels(ctx, token)
	if err != nil {
		// A stale cache beats failing the request outright.
		if ok {
			return cached.ids[channelID], nil
		}
		return false, errors.NewAPIError("workspace", "conversations.list", 0, err)
	}

	ids := make(map[string]bool, len(listed))
	for _, ch := range listed {
		ids[ch.ID] = true
	}

	c.mu.Lock()
	c.byTok[token] = cachedChannels{ids: ids, fetchedAt: c.now()}
	c.mu.Unlock()

	return ids[channelID], nil
}
