package service

import (
	"context"
	"sync"
	"time"

	"slackline/internal/errors"
	"slackline/internal/models"
	"slackline/internal/retry"
	"slackline/pkg/slack"

	"github.com/sirupsen/logrus"
)

// Dispatcher owns the pending -> attempting -> sent/failed lifecycle. It
// sleeps until the nearest due message, claims due work in batches, and
// parks failed deliveries for a backoff retry. Exactly one dispatcher runs
// per process; concurrent cancellations are resolved by the store's guarded
// transitions, never by in-process locks.
type Dispatcher struct {
	store           Store
	slack           slack.Client
	hub             *EventHub
	backoff         *retry.Backoff
	logger          *logrus.Logger
	maxAttempts     int
	deliveryTimeout time.Duration
	claimBatchSize  int
	idlePark        time.Duration
	now             func() time.Time

	wake     chan struct{}
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewDispatcher(store Store, slackClient slack.Client, hub *EventHub, backoff *retry.Backoff, cfg models.SchedulerConfig, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		store:           store,
		slack:           slackClient,
		hub:             hub,
		backoff:         backoff,
		logger:          logger,
		maxAttempts:     cfg.MaxAttempts,
		deliveryTimeout: time.Duration(cfg.DeliveryTimeoutSec) * time.Second,
		claimBatchSize:  cfg.ClaimBatchSize,
		idlePark:        time.Duration(cfg.IdleParkSec) * time.Second,
		now:             time.Now,
		wake:            make(chan struct{}, 1),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Wake nudges the dispatch loop to re-read the due set. Safe to call from
// any goroutine; a wake that arrives while one is already queued is a no-op.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop until ctx is canceled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-d.wake:
		case <-timer.C:
		}

		d.dispatchDue(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.nextSleep(ctx))
	}
}

// Stop terminates the loop and blocks until it has exited.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

// nextSleep returns how long to park before the next due check: until the
// earliest pending message, capped by the idle park so schema drift or a
// missed wake cannot stall the loop indefinitely.
func (d *Dispatcher) nextSleep(ctx context.Context) time.Duration {
	next, err := d.store.NextWakeTime(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("Failed to compute next wake time")
		return d.idlePark
	}
	if next == nil {
		return d.idlePark
	}

	until := next.Sub(d.now())
	if until <= 0 {
		// Already due; spin the loop again immediately.
		return time.Millisecond
	}
	if until > d.idlePark {
		return d.idlePark
	}
	return until
}

// dispatchDue claims and delivers every message due at this instant. A
// message is claimed by winning the pending -> attempting transition; a
// cancellation that landed first simply makes the claim lose, which is not
// an error.
func (d *Dispatcher) dispatchDue(ctx context.Context) {
	for {
		due, err := d.store.ListDue(ctx, d.now(), d.claimBatchSize)
		if err != nil {
			d.logger.WithError(err).Error("Failed to list due messages")
			return
		}
		if len(due) == 0 {
			return
		}

		for _, msg := range due {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			default:
			}

			if err := d.store.Transition(ctx, msg.ID, models.StatusPending, models.StatusAttempting); err != nil {
				if errors.IsCode(err, errors.ErrCodeAlreadyFinal) || errors.IsCode(err, errors.ErrCodeNotFound) {
					// Lost the claim, most likely to a cancellation.
					continue
				}
				d.logger.WithError(err).WithField("id", msg.ID).Error("Failed to claim message")
				continue
			}

			d.deliver(ctx, msg)
		}

		if len(due) < d.claimBatchSize {
			return
		}
	}
}

// deliver posts one claimed message and settles its outcome. The attempt
// number being settled is AttemptCount+1; the budget's final attempt marks
// the message failed instead of parking another retry.
func (d *Dispatcher) deliver(ctx context.Context, msg *models.ScheduledMessage) {
	log := d.logger.WithFields(logrus.Fields{
		"id":      msg.ID,
		"channel": msg.ChannelID,
		"attempt": msg.AttemptCount + 1,
	})

	token := msg.WorkspaceToken()
	if token == "" {
		// No credential to deliver with and none will appear later.
		log.Error("Message has no workspace token")
		if err := d.store.MarkFailed(ctx, msg.ID, "workspace token missing"); err != nil {
			log.WithError(err).Error("Failed to mark message failed")
			return
		}
		d.hub.Publish(Event{MessageID: msg.ID, ChannelID: msg.ChannelID, Status: models.StatusFailed, At: d.now()})
		return
	}

	postCtx, cancel := context.WithTimeout(ctx, d.deliveryTimeout)
	externalID, err := d.slack.PostMessage(postCtx, token, msg.ChannelID, msg.Body, postUsername(msg.Sender, msg.CreatedBy))
	cancel()

	if err == nil {
		if err := d.store.TransitionSent(ctx, msg.ID, externalID); err != nil {
			log.WithError(err).Error("Delivered but failed to record sent status")
			return
		}
		log.WithField("externalId", externalID).Info("Message delivered")
		d.hub.Publish(Event{MessageID: msg.ID, ChannelID: msg.ChannelID, Status: models.StatusSent, ExternalID: externalID, At: d.now()})
		return
	}

	attempt := msg.AttemptCount + 1
	log.WithError(err).Warn("Delivery attempt failed")

	if attempt >= d.maxAttempts {
		if markErr := d.store.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("Failed to mark message failed")
			return
		}
		log.Error("Retry budget exhausted, message failed")
		d.hub.Publish(Event{MessageID: msg.ID, ChannelID: msg.ChannelID, Status: models.StatusFailed, At: d.now()})
		return
	}

	nextAttemptAt := d.now().Add(d.backoff.GetNextDelay(attempt))
	if releaseErr := d.store.ReleaseForRetry(ctx, msg.ID, err.Error(), nextAttemptAt); releaseErr != nil {
		log.WithError(releaseErr).Error("Failed to release message for retry")
		return
	}
	log.WithField("nextAttemptAt", nextAttemptAt).Info("Message parked for retry")
}
