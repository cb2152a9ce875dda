package internal_store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/codevamp-f2fintech/ai-server/pkg/commons"
)

func newTestStore(t *testing.T) CallStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	store, err := NewCallStore(db, logger)
	require.NoError(t, err)
	return store
}

func TestCallStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec := &CallRecord{
		ID:             "call-lifecycle-1",
		AgentID:        "agent-1",
		CustomerNumber: "+915551234567",
	}
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, got.Status)
	assert.False(t, got.StartedAt.IsZero())
	assert.Nil(t, got.EndedAt)

	require.NoError(t, store.UpdateStatus(ctx, rec.ID, StatusRinging))
	require.NoError(t, store.UpdateStatus(ctx, rec.ID, StatusInProgress))

	transcript := []TranscriptEntry{
		{Role: "assistant", Content: "Hello, how can I help?", Timestamp: time.Now()},
		{Role: "user", Content: "What is my balance?", Timestamp: time.Now()},
	}
	require.NoError(t, store.Complete(ctx, rec.ID, StatusCompleted, "customer-ended-call",
		transcript, "https://store.example/recordings/call-lifecycle-1.wav", 42500*time.Millisecond))

	got, err = store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "customer-ended-call", got.EndedReason)
	require.NotNil(t, got.EndedAt)
	assert.InDelta(t, 42.5, got.DurationSeconds, 0.001)
	assert.Equal(t, "https://store.example/recordings/call-lifecycle-1.wav", got.RecordingURL)

	decoded := got.Transcript()
	require.Len(t, decoded, 2)
	assert.Equal(t, "assistant", decoded[0].Role)
	assert.Equal(t, "What is my balance?", decoded[1].Content)
}

func TestCallStore_FailedWithoutTranscript(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Create(ctx, &CallRecord{ID: "call-failed-1"}))
	require.NoError(t, store.Complete(ctx, "call-failed-1", StatusFailed, "dial-error", nil, "", 0))

	got, err := store.Get(ctx, "call-failed-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Empty(t, got.Transcript())
	assert.Empty(t, got.RecordingURL)
}

func TestCallStore_UnknownCall(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.Error(t, store.UpdateStatus(ctx, "missing", StatusRinging))
	assert.Error(t, store.Complete(ctx, "missing", StatusCompleted, "", nil, "", 0))

	_, err := store.Get(ctx, "missing")
	assert.Error(t, err)
}
