package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atinyakov/GophRelay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileUserRepository_MissingFile(t *testing.T) {
	repo := NewFileUserRepository(filepath.Join(t.TempDir(), "relay.json"))
	snap, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Users)
	assert.Nil(t, snap.Challenge)
}

func TestFileUserRepository_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	ctx := context.Background()
	now := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)

	repo := NewFileUserRepository(path)
	_, err := repo.Load(ctx)
	require.NoError(t, err)

	u := models.UserRecord{ID: 7, DisplayName: "Ann", AuthState: models.AuthAuthenticated, CreatedAt: now, LastActiveAt: now}
	require.NoError(t, repo.SaveUser(ctx, u))
	require.NoError(t, repo.SaveChallenge(ctx, models.SecurityChallenge{Question: "What city?", Answer: "Paris"}))
	require.NoError(t, repo.SaveBackupChannel(ctx, -100))

	reopened := NewFileUserRepository(path)
	snap, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, u, snap.Users[0])
	require.NotNil(t, snap.Challenge)
	assert.Equal(t, "Paris", snap.Challenge.Answer)
	assert.Equal(t, int64(-100), snap.BackupChannel)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFileUserRepository_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileUserRepository(path).Load(context.Background())
	require.ErrorContains(t, err, "decode store")
}

func TestFileUserRepository_SaveFailureRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "relay.json")
	repo := NewFileUserRepository(path)
	ctx := context.Background()

	require.Error(t, repo.SaveUser(ctx, models.UserRecord{ID: 7}))
	require.Error(t, repo.SaveBackupChannel(ctx, -5))

	assert.Empty(t, repo.state.Users)
	assert.Zero(t, repo.state.BackupChannel)
}
