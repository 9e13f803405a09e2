package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusAttempting.IsTerminal())
	assert.True(t, StatusSent.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
}

func TestValidSenderType(t *testing.T) {
	assert.True(t, ValidSenderType(SenderUser))
	assert.True(t, ValidSenderType(SenderBot))
	assert.False(t, ValidSenderType("webhook"))
	assert.False(t, ValidSenderType(""))
}

func TestMessageDue(t *testing.T) {
	now := time.Now()

	msg := &ScheduledMessage{Status: StatusPending, PostAt: now.Add(-time.Minute)}
	assert.True(t, msg.Due(now))

	msg.PostAt = now.Add(time.Minute)
	assert.False(t, msg.Due(now))

	// A retry park pushes the due moment past the original target
	msg.PostAt = now.Add(-time.Minute)
	park := now.Add(30 * time.Second)
	msg.NextAttemptAt = &park
	assert.False(t, msg.Due(now))
	assert.True(t, msg.Due(park))

	// Non-pending messages are never due
	msg.NextAttemptAt = nil
	msg.Status = StatusSent
	assert.False(t, msg.Due(now))
}

func TestWorkspaceTokenNeverSerializes(t *testing.T) {
	msg := &ScheduledMessage{ID: "msg-1", ChannelID: "C123", Body: "hello"}
	msg.SetWorkspaceToken("xoxp-secret")

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "xoxp-secret")
	assert.Equal(t, "xoxp-secret", msg.WorkspaceToken())
}
