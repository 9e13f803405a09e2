package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slackline/internal/constants"
	"slackline/internal/errors"
	"slackline/internal/models"
)

// ChannelDirectory answers whether a channel id exists in the requester's
// workspace.
type ChannelDirectory interface {
	IsKnown(ctx context.Context, auth models.AuthContext, channelID string) (bool, error)
}

// ScheduleValidator enforces the preconditions on a schedule request.
// It rejects rather than clamps an under-lead-time target; clamping up to
// the minimum is left to callers that prefer it.
type ScheduleValidator struct {
	directory ChannelDirectory
	leadTime  time.Duration
}

func NewScheduleValidator(directory ChannelDirectory) *ScheduleValidator {
	return &ScheduleValidator{
		directory: directory,
		leadTime:  constants.MinScheduleLeadTime,
	}
}

// Validate applies the rules in order; the first failure wins.
func (v *ScheduleValidator) Validate(ctx context.Context, auth models.AuthContext, body, channelID string, postAt, now time.Time) error {
	if strings.TrimSpace(body) == "" {
		return errors.NewValidationError(errors.ErrCodeEmptyMessage, "body", "message body must not be empty")
	}

	if channelID == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidChannel, "channelId", "channel id must not be empty")
	}
	known, err := v.directory.IsKnown(ctx, auth, channelID)
	if err != nil {
		return err
	}
	if !known {
		return errors.NewValidationError(errors.ErrCodeInvalidChannel, "channelId",
			fmt.Sprintf("channel %s is not part of the workspace", channelID))
	}

	if postAt.Before(now.Add(v.leadTime)) {
		return errors.NewValidationError(errors.ErrCodeLeadTimeTooShort, "postAt",
			fmt.Sprintf("target time must be at least %s in the future", v.leadTime)).
			WithContext("minimum", now.Add(v.leadTime).UTC().Format(time.RFC3339))
	}

	return nil
}

// ValidateImmediate applies the content rules only; an immediate send has no
// lead-time requirement.
func (v *ScheduleValidator) ValidateImmediate(ctx context.Context, auth models.AuthContext, body, channelID string) error {
	if strings.TrimSpace(body) == "" {
		return errors.NewValidationError(errors.ErrCodeEmptyMessage, "body", "message body must not be empty")
	}

	if channelID == "" {
		return errors.NewValidationError(errors.ErrCodeInvalidChannel, "channelId", "channel id must not be empty")
	}
	known, err := v.directory.IsKnown(ctx, auth, channelID)
	if err != nil {
		return err
	}
	if !known {
		return errors.NewValidationError(errors.ErrCodeInvalidChannel, "channelId",
			fmt.Sprintf("channel %s is not part of the workspace", channelID))
	}

	return nil
}
