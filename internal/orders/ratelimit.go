package orders

import (
	"container/list"
	"sync"
	"time"
)

// rollingWindow is a time-ordered queue of admission timestamps; entries
// older than one second are evicted on every check. This is deliberately
// not a token bucket: a token bucket that accumulated capacity while idle
// would permit a burst above maxPerSecond in some trailing window, which
// the rolling window never allows. Grounded on
// original_source/src/orders/OrderManager.*'s checkRateLimit (a
// std::deque of timestamps, erase-from-front while stale, size check
// against MAX_REQUESTS_PER_SECOND), reimplemented with container/list
// since Go's stdlib has no deque.
type rollingWindow struct {
	mu        sync.Mutex
	stamps    *list.List
	maxPerSec int
	window    time.Duration
}

func newRollingWindow(maxPerSec int) *rollingWindow {
	return &rollingWindow{
		stamps:    list.New(),
		maxPerSec: maxPerSec,
		window:    time.Second,
	}
}

// Allow evicts stale entries then admits the caller if fewer than
// maxPerSec timestamps remain in the trailing window.
func (r *rollingWindow) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.evict(now)
	if r.stamps.Len() >= r.maxPerSec {
		return false
	}
	r.stamps.PushBack(now)
	return true
}

func (r *rollingWindow) evict(now time.Time) {
	cutoff := now.Add(-r.window)
	for e := r.stamps.Front(); e != nil; {
		next := e.Next()
		if e.Value.(time.Time).Before(cutoff) {
			r.stamps.Remove(e)
		} else {
			break
		}
		e = next
	}
}

// setLimit replaces maxPerSec under lock, used when risk limits change.
func (r *rollingWindow) setLimit(maxPerSec int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxPerSec = maxPerSec
}
