package rewardd

import (
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"rewardledger/observability"
)

const limiterIdleTTL = 10 * time.Minute

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles mutating requests per authenticated caller.
type RateLimiter struct {
	cfg      RateLimitConfig
	clock    clockwork.Clock
	mu       sync.Mutex
	visitors map[string]*rateEntry
}

// NewRateLimiter returns a limiter allowing cfg.RequestsPerMinute with bursts
// of cfg.Burst per caller.
func NewRateLimiter(cfg RateLimitConfig, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{cfg: cfg, clock: clock, visitors: make(map[string]*rateEntry)}
}

// Middleware must run after authentication; requests without a caller share
// one anonymous bucket.
func (r *RateLimiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id := "anonymous"
			if caller, err := CallerFromContext(req.Context()); err == nil {
				id = caller.Hex()
			}
			if !r.allow(id) {
				observability.HTTP().RecordThrottle(route, "caller")
				writeError(w, http.StatusTooManyRequests, "rate_limited", http.StatusText(http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) allow(id string) bool {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict(now)
	entry, ok := r.visitors[id]
	if !ok {
		perSecond := r.cfg.RequestsPerMinute / 60.0
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := r.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (r *RateLimiter) evict(now time.Time) {
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(r.visitors, id)
		}
	}
}
