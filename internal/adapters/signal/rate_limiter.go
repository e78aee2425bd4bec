package signal

import (
	"sync"

	"github.com/dkeye/huddle/internal/domain"
	"golang.org/x/time/rate"
)

const limiterPruneAt = 4096

// RoomRateLimiter throttles room creation per identity with a token bucket.
type RoomRateLimiter struct {
	mu       sync.Mutex
	limiters map[domain.UserID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewRoomRateLimiter(limit rate.Limit, burst int) *RoomRateLimiter {
	return &RoomRateLimiter{
		limiters: make(map[domain.UserID]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (rl *RoomRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limiters[uid]
	if !ok {
		if len(rl.limiters) >= limiterPruneAt {
			rl.pruneLocked()
		}
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[uid] = lim
	}
	return lim.Allow()
}

// pruneLocked forgets identities whose bucket has refilled.
func (rl *RoomRateLimiter) pruneLocked() {
	for uid, lim := range rl.limiters {
		if lim.Tokens() >= float64(rl.burst) {
			delete(rl.limiters, uid)
		}
	}
}
