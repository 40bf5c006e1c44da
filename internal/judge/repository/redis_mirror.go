package repository

import (
	"context"
	"encoding/json"
	"time"

	"judgebox/internal/common/cache"
	"judgebox/pkg/errors"
)

const (
	liveKeyPrefix  = "judge:live:"
	historySuffix  = ":history"
	defaultLiveTTL = 24 * time.Hour
	// LiveChannel carries every snapshot as JSON for pub/sub watchers.
	LiveChannel = "judge:live"
)

// RedisLiveStatusMirror copies live status into a redis hash with a bounded history list.
type RedisLiveStatusMirror struct {
	cache        cache.Cache
	runID        string
	ttl          time.Duration
	historyLimit int64
}

// NewRedisLiveStatusMirror creates a mirror for one run.
func NewRedisLiveStatusMirror(cacheClient cache.Cache, runID string, ttl time.Duration, historyLimit int64) *RedisLiveStatusMirror {
	if ttl <= 0 {
		ttl = defaultLiveTTL
	}
	return &RedisLiveStatusMirror{cache: cacheClient, runID: runID, ttl: ttl, historyLimit: historyLimit}
}

// Key returns the hash key of the run.
func (m *RedisLiveStatusMirror) Key() string {
	return liveKeyPrefix + m.runID
}

// SaveLive stores the snapshot, appends it to history and publishes it.
func (m *RedisLiveStatusMirror) SaveLive(ctx context.Context, status LiveStatus) error {
	if m.runID == "" {
		return errors.ValidationError("run_id", "required")
	}
	if m.cache == nil {
		return errors.New(errors.CacheError).WithMessage("cache client is not initialized")
	}
	key := m.Key()
	ttl := cache.JitterTTL(m.ttl)
	if err := m.cache.HMSet(ctx, key, status.Fields()); err != nil {
		return errors.Wrapf(err, errors.CacheError, "store live status")
	}
	if err := m.cache.Expire(ctx, key, ttl); err != nil {
		return errors.Wrapf(err, errors.CacheError, "expire live status")
	}

	payload, err := json.Marshal(struct {
		RunID string `json:"runId"`
		LiveStatus
	}{RunID: m.runID, LiveStatus: status})
	if err != nil {
		return errors.Wrapf(err, errors.CacheError, "marshal live status")
	}
	if m.historyLimit > 0 {
		historyKey := key + historySuffix
		if err := m.cache.RPush(ctx, historyKey, string(payload)); err != nil {
			return errors.Wrapf(err, errors.CacheError, "append live status history")
		}
		if err := m.cache.LTrim(ctx, historyKey, -m.historyLimit, -1); err != nil {
			return errors.Wrapf(err, errors.CacheError, "trim live status history")
		}
		if err := m.cache.Expire(ctx, historyKey, ttl); err != nil {
			return errors.Wrapf(err, errors.CacheError, "expire live status history")
		}
	}
	if err := m.cache.Publish(ctx, LiveChannel, string(payload)); err != nil {
		return errors.Wrapf(err, errors.CacheError, "publish live status")
	}
	return nil
}

// History returns the retained snapshots, oldest first.
func (m *RedisLiveStatusMirror) History(ctx context.Context) ([]LiveStatus, error) {
	if m.cache == nil {
		return nil, errors.New(errors.CacheError).WithMessage("cache client is not initialized")
	}
	values, err := m.cache.LRange(ctx, m.Key()+historySuffix, 0, -1)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CacheError, "load live status history")
	}
	out := make([]LiveStatus, 0, len(values))
	for _, v := range values {
		var s LiveStatus
		if err := json.Unmarshal([]byte(v), &s); err != nil {
			return nil, errors.Wrapf(err, errors.CacheError, "decode live status history")
		}
		out = append(out, s)
	}
	return out, nil
}
