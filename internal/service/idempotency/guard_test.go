package idempotency

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func TestGuard_ReplayAfterDone(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)
	hash := HashRequest([]byte("owner-1"), []byte(`{"items":[]}`))

	_, replay, err := guard.Begin("key-1", hash)
	require.NoError(t, err)
	assert.False(t, replay)

	guard.Complete("key-1", Response{Status: http.StatusCreated, Body: []byte(`{"id":"001"}`)})

	resp, replay, err := guard.Begin("key-1", hash)
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.JSONEq(t, `{"id":"001"}`, string(resp.Body))
}

func TestGuard_SharedPastClockReplays(t *testing.T) {
	now := time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repo := memory.NewIdempotencyRepository(memory.WithIdempotencyClock(clock))
	guard := NewGuard(repo, time.Hour, clock)

	_, replay, err := guard.Begin("key-past", "hash")
	require.NoError(t, err)
	assert.False(t, replay)
	guard.Complete("key-past", Response{Status: http.StatusCreated, Body: []byte(`{"id":"001"}`)})

	resp, replay, err := guard.Begin("key-past", "hash")
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, http.StatusCreated, resp.Status)

	_, _, err = guard.Begin("key-past", "other-hash")
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	now = now.Add(time.Hour + time.Second)
	_, replay, err = guard.Begin("key-past", "other-hash")
	require.NoError(t, err)
	assert.False(t, replay)
}

func TestGuard_InProgressAndMismatch(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), time.Hour, nil)

	_, _, err := guard.Begin("key-2", "hash-a")
	require.NoError(t, err)

	_, _, err = guard.Begin("key-2", "hash-a")
	assert.ErrorIs(t, err, domain.ErrIdempotencyInProgress)

	_, _, err = guard.Begin("key-2", "hash-b")
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuard_FailedResponseIsReplayed(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo, time.Hour, nil)

	_, _, err := guard.Begin("key-3", "hash")
	require.NoError(t, err)
	guard.Complete("key-3", Response{Status: http.StatusInternalServerError, Body: []byte(`{"success":false}`)})

	record, err := repo.Get("key-3")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, record.Status)

	resp, replay, err := guard.Begin("key-3", "hash")
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
}

func TestGuard_EmptyKeyRejectedByRepository(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	_, _, err := guard.Begin("  ", "hash")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestHashRequest(t *testing.T) {
	assert.Equal(t, HashRequest([]byte("a"), []byte("b")), HashRequest([]byte("a"), []byte("b")))
	assert.NotEqual(t, HashRequest([]byte("ab"), []byte("")), HashRequest([]byte("a"), []byte("b")))
	assert.Len(t, HashRequest(), 64)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "k", NormalizeKey("  k "))
	assert.Empty(t, NormalizeKey("   "))
}
