package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crimson-sun/edrdash/internal/model"
)

const (
	defaultPrefix = "edrdash:"
	defaultTTL    = 24 * time.Hour
)

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithTTL sets how long a stored report lives. Default: 24h.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithMaxRuns caps the recent-runs index. Default: DefaultMaxRuns.
func WithMaxRuns(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.maxRuns = n
		}
	}
}

// WithPrefix sets the key namespace. Default: "edrdash:".
func WithPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// Redis stores each report as a JSON value with a TTL, plus a capped list
// of recent run ids. Runs whose value expired are skipped when listing.
type Redis struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	maxRuns int
}

// NewRedis wraps an existing client. The store owns the client and closes
// it on Close.
func NewRedis(rdb *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{rdb: rdb, prefix: defaultPrefix, ttl: defaultTTL, maxRuns: DefaultMaxRuns}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) runKey(id string) string { return r.prefix + "run:" + id }
func (r *Redis) indexKey() string        { return r.prefix + "runs" }

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("history: redis health check failed: %w", err)
	}
	return nil
}

func (r *Redis) Save(ctx context.Context, rep *model.Report) error {
	data, err := json.Marshal(stripped(rep))
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetEx(ctx, r.runKey(rep.ID), data, r.ttl)
		pipe.LRem(ctx, r.indexKey(), 0, rep.ID)
		pipe.LPush(ctx, r.indexKey(), rep.ID)
		pipe.LTrim(ctx, r.indexKey(), 0, int64(r.maxRuns-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("history: save %s: %w", rep.ID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*model.Report, error) {
	data, err := r.rdb.Get(ctx, r.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %s: %w", id, err)
	}
	var rep model.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", id, err)
	}
	return &rep, nil
}

func (r *Redis) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > r.maxRuns {
		limit = r.maxRuns
	}
	ids, err := r.rdb.LRange(ctx, r.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.runKey(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}

	out := make([]Entry, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired
		}
		var rep model.Report
		if err := json.Unmarshal([]byte(s), &rep); err != nil {
			return nil, fmt.Errorf("history: decode %s: %w", ids[i], err)
		}
		out = append(out, EntryOf(&rep))
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
