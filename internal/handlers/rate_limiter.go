package handlers

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepThreshold is the bucket count above which idle buckets are dropped.
const sweepThreshold = 1024

type sessionLimiter interface {
	Allow(operator, shipmentID string) bool
}

// sessionOpenLimiter keeps one token bucket per operator and shipment pair. A bucket holds
// limit tokens and refills one token every window/limit.
type sessionOpenLimiter struct {
	limit int
	every rate.Limit
	idle  time.Duration
	clock func() time.Time

	mu      sync.Mutex
	buckets map[openKey]*openBucket
}

type openKey struct {
	operator string
	shipment string
}

type openBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSessionOpenLimiter(limit int, window time.Duration, clock func() time.Time) sessionLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &sessionOpenLimiter{
		limit:   limit,
		every:   rate.Every(window / time.Duration(limit)),
		idle:    window,
		clock:   clock,
		buckets: make(map[openKey]*openBucket),
	}
}

// Allow spends one token from the bucket of the operator and shipment. Opening a new draft
// uses an empty shipment id.
func (l *sessionOpenLimiter) Allow(operator, shipmentID string) bool {
	if l == nil {
		return true
	}
	key := openKey{operator: strings.ToLower(strings.TrimSpace(operator)), shipment: strings.TrimSpace(shipmentID)}
	if key.operator == "" {
		key.operator = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= sweepThreshold {
			l.sweep(now)
		}
		bucket = &openBucket{limiter: rate.NewLimiter(l.every, l.limit)}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for a full window; they would be refilled anyway.
func (l *sessionOpenLimiter) sweep(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= l.idle {
			delete(l.buckets, key)
		}
	}
}
