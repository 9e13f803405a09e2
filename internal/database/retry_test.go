package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableDBOperationEventualSuccess(t *testing.T) {
	calls := 0
	err := retryableDBOperation(context.Background(), func() error {
		calls++
		if calls < 2 {
			return fmt.Errorf("database is locked")
		}
		return nil
	}, "test op")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryableDBOperationStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := retryableDBOperation(context.Background(), func() error {
		calls++
		return fmt.Errorf("UNIQUE constraint failed: scheduled_messages.id")
	}, "test op")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "non-retryable")
}

func TestRetryableDBOperationHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryableDBOperation(ctx, func() error {
		return fmt.Errorf("database is locked")
	}, "test op")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryableDBError(t *testing.T) {
	assert.False(t, isRetryableDBError(nil))
	assert.True(t, isRetryableDBError(fmt.Errorf("database is locked")))
	assert.True(t, isRetryableDBError(fmt.Errorf("disk I/O error")))
	assert.False(t, isRetryableDBError(fmt.Errorf("UNIQUE constraint failed")))
	assert.False(t, isRetryableDBError(fmt.Errorf("no such table: scheduled_messages")))
	assert.False(t, isRetryableDBError(context.Canceled))
	assert.False(t, isRetryableDBError(fmt.Errorf("something else")))
}
