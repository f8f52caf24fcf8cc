package rpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRatePerSec = 5.0 / 60.0
	defaultRateBurst  = 5
	visitorTTL        = 10 * time.Minute
	maxVisitors       = 4096
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client. Idle buckets expire and the
// table is capped so address churn cannot grow it without bound.
type clientLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[string]*visitor
}

func newClientLimiter(perSec float64, burst int) *clientLimiter {
	if perSec <= 0 {
		perSec = defaultRatePerSec
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	return &clientLimiter{
		limit:    rate.Limit(perSec),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

func (l *clientLimiter) allow(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(now)
	v, ok := l.visitors[source]
	if !ok {
		if len(l.visitors) >= maxVisitors {
			l.evictOldest()
		}
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[source] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *clientLimiter) evict(now time.Time) {
	for source, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, source)
		}
	}
}

func (l *clientLimiter) evictOldest() {
	var (
		oldest string
		seen   time.Time
	)
	for source, v := range l.visitors {
		if oldest == "" || v.lastSeen.Before(seen) {
			oldest, seen = source, v.lastSeen
		}
	}
	delete(l.visitors, oldest)
}

func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}
