package datastore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maxpop/internal/provision"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	s := NewWithClient(client, "", zap.NewNop())
	t.Cleanup(func() {
		s.Close()
		mr.Close()
	})
	return s, mr
}

func TestPushAndPop(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	first, err := provision.Generate(1, 8)
	require.NoError(t, err)
	second, err := provision.Generate(1, 8)
	require.NoError(t, err)

	require.NoError(t, s.Push(ctx, "q0", first))
	require.NoError(t, s.Push(ctx, "q0", second))

	n, err := s.Len(ctx, "q0")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.Pop(ctx, "q0", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{first.Payload}, got)

	got, err = s.Pop(ctx, "q0", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{second.Payload}, got)
}

func TestPopEmpty(t *testing.T) {
	s, _ := setupTestStore(t)

	got, err := s.Pop(context.Background(), "q0", 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPushWritesTransactionHash(t *testing.T) {
	s, mr := setupTestStore(t)
	ctx := context.Background()

	p, err := provision.Generate(2, 4)
	require.NoError(t, err)
	require.NoError(t, s.Push(ctx, "q0", p))

	ids, err := mr.List(s.QueueKey("q0"))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	assert.Equal(t, p.Payload, mr.HGet(s.TransactionKey(ids[0]), "payload"))
	assert.Equal(t, "q0,q1", mr.HGet(s.TransactionKey(ids[0]), "queues"))
	assert.Equal(t, DefaultPrefix+"queue:q0", s.QueueKey("q0"))
}

func TestFlush(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	p, err := provision.Generate(1, 4)
	require.NoError(t, err)
	require.NoError(t, s.Push(ctx, "q0", p))
	require.NoError(t, s.Flush(ctx))

	n, err := s.Len(ctx, "q0")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPushFailsWhenServerDown(t *testing.T) {
	s, mr := setupTestStore(t)
	mr.Close()

	p, err := provision.Generate(1, 4)
	require.NoError(t, err)
	assert.Error(t, s.Push(context.Background(), "q0", p))
}

func TestStoreReopensAfterClose(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	p, err := provision.Generate(1, 4)
	require.NoError(t, err)
	require.NoError(t, s.Push(ctx, "q0", p))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	n, err := s.Len(ctx, "q0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
