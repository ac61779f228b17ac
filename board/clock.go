package board

import (
	"sync/atomic"
	"time"
)

// Clock returns version stamps for locally issued writes.
type Clock func() int64

// NewClock returns a Clock yielding strictly increasing UnixNano stamps, even
// when called concurrently or when the wall clock stalls.
func NewClock() Clock {
	var last int64
	return func() int64 {
		for {
			now := time.Now().UnixNano()
			prev := atomic.LoadInt64(&last)
			if now <= prev {
				now = prev + 1
			}
			if atomic.CompareAndSwapInt64(&last, prev, now) {
				return now
			}
		}
	}
}
