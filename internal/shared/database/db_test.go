package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/ridegate/internal/shared/models"
)

// These tests need a disposable Postgres; set GATEWAY_TEST_DATABASE_URL to run them.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("GATEWAY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("GATEWAY_TEST_DATABASE_URL not set")
	}
	db, err := New(url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestCredentialLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(time.Hour)
	c := &models.Credential{
		ID:                 uuid.NewString(),
		ServiceName:        "partner-portal",
		KeyName:            "ci",
		HashedSecret:       "$2a$10$abcdefghijklmnopqrstuv",
		Permissions:        []string{"booking:read", "maps:read"},
		RateLimitPerMinute: 30,
		IsActive:           true,
		ExpiresAt:          &expires,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, db.CreateCredential(ctx, c))

	got, err := db.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Permissions, got.Permissions)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.LastUsedAt)

	require.NoError(t, db.TouchCredential(ctx, c.ID))
	require.NoError(t, db.DeactivateCredential(ctx, c.ID))

	got, err = db.GetCredential(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.NotNil(t, got.LastUsedAt)

	_, err = db.GetCredential(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeactivateCredential(ctx, uuid.NewString()), ErrNotFound)
}

func TestLogRequest(t *testing.T) {
	db := newTestDB(t)
	msg := "upstream 503"
	require.NoError(t, db.LogRequest(context.Background(), &models.RequestLog{
		RequestID:    uuid.NewString(),
		Provider:     "maps",
		Operation:    "directions",
		StatusCode:   503,
		Attempts:     4,
		LatencyMs:    120,
		ErrorMessage: &msg,
	}))
}
