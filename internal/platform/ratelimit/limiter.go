package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/quizforge-backend/internal/domain/users"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
)

// Decision is the limiter verdict. RetryAfter is only meaningful when
// Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// UploadLimiter enforces the per-user-per-hour upload quota keyed by
// subscription tier. Consulted before any upload side effect.
type UploadLimiter interface {
	AllowUpload(ctx context.Context, userID uuid.UUID, tier users.Tier) (Decision, error)
}

// GenerationLimiter enforces three ceilings at once: per-user, per-provider
// and a global one. The generation orchestrator turns a denial into a
// rescheduled job rather than a user-facing failure.
type GenerationLimiter interface {
	AllowGeneration(ctx context.Context, userID uuid.UUID, provider string) (Decision, error)
}

type Limits struct {
	UploadsPerHourFree int
	UploadsPerHourPro  int
	GenPerUserHour     int
	GenPerProviderMin  int
	GenGlobalMin       int
}

func DefaultLimits() Limits {
	return Limits{
		UploadsPerHourFree: 10,
		UploadsPerHourPro:  100,
		GenPerUserHour:     20,
		GenPerProviderMin:  60,
		GenGlobalMin:       300,
	}
}

type redisLimiter struct {
	log    *logger.Logger
	rdb    *goredis.Client
	limits Limits
}

// NewRedisLimiter serves both limiter interfaces from one fixed-window
// counter scheme (INCR + first-writer EXPIRE).
func NewRedisLimiter(log *logger.Logger, rdb *goredis.Client, limits Limits) (UploadLimiter, GenerationLimiter, error) {
	if rdb == nil {
		return nil, nil, fmt.Errorf("ratelimit: redis client required")
	}
	l := &redisLimiter{log: log.With("service", "RateLimiter"), rdb: rdb, limits: limits}
	return l, l, nil
}

// hit increments the window counter and returns whether the limit is still
// respected plus time until the window resets.
func (l *redisLimiter) hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: expire %s: %w", key, err)
		}
	}
	if int(count) <= limit {
		return Decision{Allowed: true}, nil
	}
	ttl, err := l.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}

func (l *redisLimiter) AllowUpload(ctx context.Context, userID uuid.UUID, tier users.Tier) (Decision, error) {
	limit := l.limits.UploadsPerHourFree
	if tier == users.TierPro {
		limit = l.limits.UploadsPerHourPro
	}
	bucket := time.Now().UTC().Format("2006010215")
	key := fmt.Sprintf("rl:upload:%s:%s", userID, bucket)
	return l.hit(ctx, key, limit, time.Hour)
}

func (l *redisLimiter) AllowGeneration(ctx context.Context, userID uuid.UUID, provider string) (Decision, error) {
	now := time.Now().UTC()
	hourBucket := now.Format("2006010215")
	minBucket := now.Format("200601021504")

	checks := []struct {
		key    string
		limit  int
		window time.Duration
	}{
		{fmt.Sprintf("rl:gen:user:%s:%s", userID, hourBucket), l.limits.GenPerUserHour, time.Hour},
		{fmt.Sprintf("rl:gen:provider:%s:%s", provider, minBucket), l.limits.GenPerProviderMin, time.Minute},
		{fmt.Sprintf("rl:gen:global:%s", minBucket), l.limits.GenGlobalMin, time.Minute},
	}
	for _, c := range checks {
		d, err := l.hit(ctx, c.key, c.limit, c.window)
		if err != nil {
			return Decision{}, err
		}
		if !d.Allowed {
			return d, nil
		}
	}
	return Decision{Allowed: true}, nil
}
