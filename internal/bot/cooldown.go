package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const cooldownIdle = 10 * time.Minute

// cooldown rate limits music commands per user.
type cooldown struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*userLimiter
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCooldown(seconds float64, burst int) *cooldown {
	limit := rate.Inf
	if seconds > 0 {
		limit = rate.Every(time.Duration(seconds * float64(time.Second)))
	}
	if burst < 1 {
		burst = 1
	}
	return &cooldown{limit: limit, burst: burst, limiters: make(map[string]*userLimiter)}
}

// Allow reports whether userID may run a command at now, and how long to wait otherwise.
func (c *cooldown) Allow(userID string, now time.Time) (bool, time.Duration) {
	c.mu.Lock()
	entry := c.limiters[userID]
	if entry == nil {
		entry = &userLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.limiters[userID] = entry
	}
	entry.lastSeen = now
	c.mu.Unlock()

	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}
	reservation := entry.limiter.ReserveN(now, 1)
	wait := reservation.DelayFrom(now)
	reservation.CancelAt(now)
	return false, wait
}

func (c *cooldown) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for userID, entry := range c.limiters {
		if now.Sub(entry.lastSeen) > cooldownIdle {
			delete(c.limiters, userID)
			removed++
		}
	}
	return removed
}
