// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package authentication

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	httptypes "github.com/canonical/mission-control/internal/http/types"
	"github.com/canonical/mission-control/internal/logging"
	"github.com/canonical/mission-control/internal/types"
)

const bucketTTL = 5 * time.Minute

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per client IP guarding the credential endpoints
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	pruned  time.Time

	limit rate.Limit
	burst int

	now func() time.Time

	logger logging.LoggerInterface
}

func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if now.Sub(l.pruned) > bucketTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > bucketTTL {
				delete(l.buckets, k)
			}
		}
		l.pruned = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now

	return b.lim.AllowN(now, 1)
}

func (l *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httptypes.ClientIP(r)
		if ip == "" {
			ip = "unknown"
		}

		if !l.allow(ip) {
			l.logger.Warnf("rate limit exceeded for %s on %s", ip, r.URL.Path)
			httptypes.WriteError(w, types.ErrRateLimited, l.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func NewRateLimiter(perSecond float64, burst int, logger logging.LoggerInterface) *RateLimiter {
	l := new(RateLimiter)

	l.buckets = make(map[string]*bucket)
	l.limit = rate.Limit(perSecond)
	l.burst = burst
	l.now = time.Now
	l.pruned = l.now()

	l.logger = logger

	return l
}
