package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRetryDelaySchedule(t *testing.T) {
	want := []time.Duration{15 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second, 240 * time.Second}
	for i, d := range want {
		assert.Equal(t, d, retryDelay(i+1), "retry %d", i+1)
	}
	assert.Equal(t, 15*time.Second, retryDelay(0))
}

func TestJobStringField(t *testing.T) {
	job := &Job{Data: map[string]interface{}{"charge_id": "tx-1", "value": 1000.0, "empty": ""}}

	v, err := job.StringField("charge_id")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", v)

	for _, key := range []string{"value", "empty", "missing"} {
		_, err := job.StringField(key)
		assert.Error(t, err, key)
	}
}

func TestIsLastAttempt(t *testing.T) {
	assert.True(t, (&Job{Data: map[string]interface{}{"is_last_attempt": true}}).IsLastAttempt())
	assert.False(t, (&Job{Data: map[string]interface{}{"is_last_attempt": false}, RetryCount: 9}).IsLastAttempt())
	assert.True(t, (&Job{Data: map[string]interface{}{}, RetryCount: MaxRetries}).IsLastAttempt())
	assert.False(t, (&Job{}).IsLastAttempt())
}

// Runs against a real Redis when TEST_REDIS_URL is set.
func TestQueueRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	name := "pix_jobs_test_" + time.Now().Format("150405.000000")
	q, err := NewQueue(url, name, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	t.Cleanup(func() {
		q.Client().Del(ctx, q.queueName, q.processing, q.delayed, q.failed)
		q.Close()
	})

	require.NoError(t, q.Enqueue(ctx, JobTypeApplyNotification, map[string]interface{}{"charge_id": "tx-1"}))
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeApplyNotification, job.Type)

	now := time.Now()
	q.now = func() time.Time { return now }
	for i := 0; i <= MaxRetries; i++ {
		require.NoError(t, q.FailJob(ctx, job, errors.New("store unavailable")))
	}

	failed, err := q.FailedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].ID)

	require.NoError(t, q.RetryJob(ctx, job.ID))
	assert.ErrorIs(t, q.RetryJob(ctx, job.ID), ErrJobNotFound)
}
