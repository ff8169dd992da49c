package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"neuroexpert-api/internal/domain"
)

type fakeRedis struct {
	data   map[string]string
	ttl    map[string]time.Duration
	getErr error
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	b, ok := value.([]byte)
	if !ok {
		return redis.NewStatusResult("", fmt.Errorf("unexpected value type %T", value))
	}
	f.data[key] = string(b)
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestNewRedisHistory_Nil(t *testing.T) {
	_, err := NewRedisHistory(nil)
	require.Error(t, err)
}

func TestRedisHistory_EmptySession(t *testing.T) {
	h, err := NewRedisHistory(newFakeRedis())
	require.NoError(t, err)
	turns, err := h.LoadHistory(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestRedisHistory_SaveAndLoad(t *testing.T) {
	rdb := newFakeRedis()
	h, err := NewRedisHistory(rdb)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, h.SaveTurn(ctx, domain.Turn{ID: "1", SessionID: "s1", UserMessage: "q1", AIResponse: "a1"}))
	require.NoError(t, h.SaveTurn(ctx, domain.Turn{ID: "2", SessionID: "s1", UserMessage: "q2", AIResponse: "a2"}))

	turns, err := h.LoadHistory(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "q1", turns[0].UserMessage)
	require.Equal(t, "a2", turns[1].AIResponse)
	require.False(t, turns[0].CreatedAt.IsZero())
	require.Equal(t, historyTTL, rdb.ttl["session:s1"])

	last, err := h.LoadHistory(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	require.Equal(t, "q2", last[0].UserMessage)
}

func TestRedisHistory_TrimsToMaxEntries(t *testing.T) {
	rdb := newFakeRedis()
	h, err := NewRedisHistory(rdb)
	require.NoError(t, err)
	for i := range historyMaxEntries + 5 {
		require.NoError(t, h.SaveTurn(context.Background(), domain.Turn{SessionID: "s1", UserMessage: fmt.Sprint(i)}))
	}

	var stored []domain.Turn
	require.NoError(t, json.Unmarshal([]byte(rdb.data["session:s1"]), &stored))
	require.Len(t, stored, historyMaxEntries)
	require.Equal(t, "5", stored[0].UserMessage)
}

func TestRedisHistory_Errors(t *testing.T) {
	rdb := newFakeRedis()
	rdb.getErr = errors.New("connection refused")
	h, err := NewRedisHistory(rdb)
	require.NoError(t, err)

	_, err = h.LoadHistory(context.Background(), "s1", 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "load session history")
	require.Error(t, h.SaveTurn(context.Background(), domain.Turn{SessionID: "s1"}))

	rdb = newFakeRedis()
	rdb.setErr = errors.New("READONLY")
	h, err = NewRedisHistory(rdb)
	require.NoError(t, err)
	err = h.SaveTurn(context.Background(), domain.Turn{SessionID: "s1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "save session history")

	require.Error(t, h.SaveTurn(context.Background(), domain.Turn{}))
}

func TestRedisHistory_CorruptPayload(t *testing.T) {
	rdb := newFakeRedis()
	rdb.data["session:s1"] = "{not json"
	h, err := NewRedisHistory(rdb)
	require.NoError(t, err)
	_, err = h.LoadHistory(context.Background(), "s1", 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestRedisHistory_SaveTurnReplacesCorruptPayload(t *testing.T) {
	rdb := newFakeRedis()
	rdb.data["session:s1"] = "{not json"
	h, err := NewRedisHistory(rdb)
	require.NoError(t, err)

	require.NoError(t, h.SaveTurn(context.Background(), domain.Turn{SessionID: "s1", UserMessage: "q", AIResponse: "a"}))
	require.NoError(t, h.SaveTurn(context.Background(), domain.Turn{SessionID: "s1", UserMessage: "q2", AIResponse: "a2"}))

	turns, err := h.LoadHistory(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "q", turns[0].UserMessage)
	require.Equal(t, "q2", turns[1].UserMessage)
	require.Equal(t, historyTTL, rdb.ttl["session:s1"])
}

