package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storefront/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Policy string

const (
	PolicyCheckout Policy = "checkout"
	PolicyLogin    Policy = "login"
)

const (
	keyBucket         = "ratelimit:%s:%s"
	maxLocalSubjects  = 10000
	defaultRedisLimit = 2 * time.Second
)

type rule struct {
	rate  float64
	burst int
}

// Limiter enforces per-subject token buckets. Buckets live in Redis when it
// is configured; otherwise, or when Redis errors, an in-process bucket
// stands in so a Redis outage never disables limiting entirely.
type Limiter struct {
	log    *zap.Logger
	bucket *TokenBucket
	local  *localBuckets
	rules  map[Policy]rule
}

type LimiterParams struct {
	fx.In

	Log    *zap.Logger
	Cfg    config.Config
	Client *redis.Client `optional:"true"`
}

func NewLimiter(p LimiterParams) *Limiter {
	limits := p.Cfg.RateLimit
	rules := map[Policy]rule{
		PolicyCheckout: normalizeRule(limits.CheckoutRate, limits.CheckoutBurst),
		PolicyLogin:    normalizeRule(limits.LoginRate, limits.LoginBurst),
	}
	return &Limiter{
		log:    p.Log.Named("ratelimit"),
		bucket: NewTokenBucket(p.Client),
		local:  newLocalBuckets(),
		rules:  rules,
	}
}

func (l *Limiter) Allow(ctx context.Context, policy Policy, subject string) (*Result, error) {
	r, ok := l.rules[policy]
	if !ok {
		return nil, fmt.Errorf("unknown rate limit policy %q", policy)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	key := fmt.Sprintf(keyBucket, policy, subject)

	if l.bucket != nil {
		redisCtx, cancel := context.WithTimeout(ctx, defaultRedisLimit)
		res, err := l.bucket.Allow(redisCtx, key, r.rate, r.burst)
		cancel()
		if err == nil {
			return res, nil
		}
		l.log.Warn("redis rate limit failed, using local bucket",
			zap.String("policy", string(policy)),
			zap.Error(err),
		)
	}
	return l.local.allow(key, r), nil
}

func normalizeRule(ratePerSecond float64, burst int) rule {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return rule{rate: ratePerSecond, burst: burst}
}

type localBuckets struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLocalBuckets() *localBuckets {
	return &localBuckets{limiters: make(map[string]*rate.Limiter)}
}

func (b *localBuckets) allow(key string, r rule) *Result {
	b.mu.Lock()
	lim, ok := b.limiters[key]
	if !ok {
		if len(b.limiters) >= maxLocalSubjects {
			b.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Limit(r.rate), r.burst)
		b.limiters[key] = lim
	}
	b.mu.Unlock()

	allowed := lim.Allow()
	remaining := lim.Tokens()
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:    allowed,
		Limit:      r.burst,
		Remaining:  int(remaining),
		RetryAfter: retryAfter(allowed, remaining, r.rate),
	}
}

// NewRedisClient returns nil when rate limiting is disabled.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	limits := cfg.RateLimit
	addr := strings.TrimSpace(limits.RedisAddr)
	if !limits.Enabled || addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limits.RedisPassword),
		DB:       limits.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				// limiting and locking degrade to local behaviour
				log.Warn("redis unreachable at startup", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}
