package services

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// AlarmLimiter holds one token bucket per caller. Buckets of idle callers
// expire from the cache.
type AlarmLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	limiters *cache.Cache
}

// NewAlarmLimiter allows perMinute alarms per caller with the given burst
func NewAlarmLimiter(perMinute, burst int, idleTTL time.Duration) *AlarmLimiter {
	if perMinute <= 0 {
		perMinute = 6
	}
	if burst <= 0 {
		burst = 3
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &AlarmLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		idleTTL:  idleTTL,
		limiters: cache.New(idleTTL, idleTTL*2),
	}
}

// Allow reports whether callerID may send another alarm now
func (l *AlarmLimiter) Allow(callerID string) bool {
	return l.limiter(callerID).Allow()
}

func (l *AlarmLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.limiters.Get(key); ok {
		lim := v.(*rate.Limiter)
		// touch to extend the idle expiry
		l.limiters.Set(key, lim, l.idleTTL)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Set(key, lim, l.idleTTL)
	return lim
}

// Tracked returns the number of callers with a live bucket
func (l *AlarmLimiter) Tracked() int {
	return l.limiters.ItemCount()
}
