// Package ratelimit limits API requests per client and route with token
// buckets.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Info describes the bucket state after a request
type Info struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter keeps one bucket per client, route and method
type Limiter struct {
	cfg *Config
	now func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewLimiter creates a limiter. A nil config disables limiting.
func NewLimiter(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Limiter{cfg: cfg, now: time.Now, visitors: make(map[string]*visitor)}
}

// Allow consumes one token for the request if available
func (l *Limiter) Allow(clientID, path, method string) (bool, Info) {
	if !l.cfg.Enabled || l.cfg.Exempt[clientID] {
		return true, Info{Allowed: true}
	}
	ec := MatchEndpoint(path, method, l.cfg.Endpoints)
	if ec == nil {
		ec = &l.cfg.Default
	}
	if ec.Unlimited || ec.Rate == rate.Inf {
		return true, Info{Allowed: true}
	}

	// One bucket per matched entry, so every /runs/{id} shares the prefix
	// budget and all unmatched routes share the default.
	now := l.now()
	v := l.visitor(clientID+"|"+ec.Method+" "+ec.Path, ec, now)

	allowed := v.lim.AllowN(now, 1)
	tokens := v.lim.TokensAt(now)
	info := Info{
		Allowed:   allowed,
		Limit:     ec.Burst,
		Remaining: max(0, int(math.Floor(tokens))),
		ResetTime: now.Add(refillTime(float64(ec.Burst)-tokens, ec.Rate)),
	}
	if !allowed {
		info.RetryAfter = refillTime(1-tokens, ec.Rate)
	}
	return allowed, info
}

func (l *Limiter) visitor(key string, ec *EndpointConfig, now time.Time) *visitor {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(ec.Rate, ec.Burst)}
		l.visitors[key] = v
	}
	v.seen = now
	return v
}

// refillTime is how long the bucket takes to gain n tokens
func refillTime(n float64, r rate.Limit) time.Duration {
	if n <= 0 || r <= 0 {
		return 0
	}
	return time.Duration(n / float64(r) * float64(time.Second))
}

// Sweep drops buckets idle for longer than the configured TTL and returns
// how many were removed.
func (l *Limiter) Sweep() int {
	ttl := l.cfg.IdleTTL
	if ttl <= 0 {
		return 0
	}
	cutoff := l.now().Add(-ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, v := range l.visitors {
		if v.seen.Before(cutoff) {
			delete(l.visitors, k)
			n++
		}
	}
	return n
}

// Run sweeps idle buckets every interval until ctx is done
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if !l.cfg.Enabled || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}
