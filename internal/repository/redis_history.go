package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"neuroexpert-api/internal/domain"
)

const (
	historyPrefix     = "session:"
	historyTTL        = 24 * time.Hour
	historyMaxEntries = 20
)

type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisHistory keeps the most recent turns of each session as one JSON list
// under session:<id>, expiring a day after the last write.
type RedisHistory struct {
	rdb redisAPI
	now func() time.Time
}

func NewRedisHistory(rdb redisAPI) (*RedisHistory, error) {
	if rdb == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	return &RedisHistory{rdb: rdb, now: time.Now}, nil
}

// errCorruptHistory marks a stored list that no longer decodes.
type errCorruptHistory struct{ err error }

func (e errCorruptHistory) Error() string { return e.err.Error() }
func (e errCorruptHistory) Unwrap() error { return e.err }

func historyKey(sessionID string) string {
	return historyPrefix + sessionID
}

func (h *RedisHistory) LoadHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	turns, err := h.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (h *RedisHistory) load(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	data, err := h.rdb.Get(ctx, historyKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []domain.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: load session history: %w", err)
	}

	var turns []domain.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("repository: unmarshal session history: %w", errCorruptHistory{err})
	}
	return turns, nil
}

// SaveTurn appends turn to the session list. Concurrent writers to the same
// session may drop a turn; a session belongs to one browser tab. A list that
// no longer decodes is replaced by one holding only turn.
func (h *RedisHistory) SaveTurn(ctx context.Context, turn domain.Turn) error {
	if turn.SessionID == "" {
		return errors.New("repository: SaveTurn: session id is required")
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = h.now().UTC()
	}
	turns, err := h.load(ctx, turn.SessionID)
	var corrupt errCorruptHistory
	switch {
	case errors.As(err, &corrupt):
		slog.Warn("overwriting corrupt session history", "session_id", turn.SessionID, "err", err)
		turns = nil
	case err != nil:
		return err
	}
	turns = append(turns, turn)
	if len(turns) > historyMaxEntries {
		turns = turns[len(turns)-historyMaxEntries:]
	}

	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("repository: marshal session history: %w", err)
	}
	if err := h.rdb.Set(ctx, historyKey(turn.SessionID), data, historyTTL).Err(); err != nil {
		return fmt.Errorf("repository: save session history: %w", err)
	}
	return nil
}
