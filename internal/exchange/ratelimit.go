package exchange

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Exchange weight governance constants (spec §4.1 / §8 invariant 8).
const (
	WeightLimit          = 1200
	WeightPauseThreshold = 1100
)

// RateGovernor tracks the latest X-MBX-USED-WEIGHT-1M observed on any
// response and pauses callers before they would breach the per-minute cap.
// It is a single shared counter per client instance; if the client is ever
// used concurrently, every access must go through the mutex here.
type RateGovernor struct {
	mu          sync.Mutex
	usedWeight  int
	log         zerolog.Logger
	sleep       func(time.Duration)
	now         func() time.Time
}

// NewRateGovernor creates a governor. sleep/now are injectable for tests.
func NewRateGovernor(log zerolog.Logger) *RateGovernor {
	return &RateGovernor{
		log:   log.With().Str("component", "rate_governor").Logger(),
		sleep: time.Sleep,
		now:   time.Now,
	}
}

// Observe records the latest used-weight header value.
func (g *RateGovernor) Observe(weight int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usedWeight = weight
}

// CheckBeforeRequest blocks until it is safe to issue the next request. If
// the last observed weight exceeds the pause threshold, it sleeps until
// the next minute boundary plus a small margin and resets the counter —
// invariant 8: the block lasts between (60 - now%60) and (61 - now%60)
// seconds.
func (g *RateGovernor) CheckBeforeRequest() {
	g.mu.Lock()
	weight := g.usedWeight
	g.mu.Unlock()

	if weight <= WeightPauseThreshold {
		return
	}

	now := g.now()
	secondsIntoMinute := now.Second()
	wait := time.Duration(60-secondsIntoMinute)*time.Second + time.Second // +1s margin

	g.log.Warn().
		Int("used_weight", weight).
		Dur("wait", wait).
		Msg("rate limit weight threshold reached, pausing until next minute boundary")

	g.sleep(wait)

	g.mu.Lock()
	g.usedWeight = 0
	g.mu.Unlock()
}
