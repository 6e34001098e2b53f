package natsclient

import (
	"sync"
	"time"
)

const initialBackoff = time.Second

// breaker trips after threshold failures in a row and stays open for a pause
// that doubles, up to limit, each time it trips again.
type breaker struct {
	mu        sync.Mutex
	threshold int32
	limit     time.Duration

	total  int32 // failures since the last success
	streak int32 // failures since the breaker last tripped
	pause  time.Duration
	open   bool
	last   time.Time
}

func newBreaker(threshold int32, limit time.Duration) *breaker {
	return &breaker{threshold: threshold, limit: limit, pause: initialBackoff}
}

// failure records a failure. When it trips a closed breaker it returns the
// pause after which the breaker should half-open; otherwise zero.
func (b *breaker) failure() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	b.streak++
	b.last = time.Now()
	if b.streak < b.threshold {
		return 0
	}

	b.streak = 0
	pause := b.pause
	b.pause = min(b.pause*2, b.limit)
	if b.open {
		return 0
	}
	b.open = true
	return pause
}

// halfOpen lets the next attempt through. It reports whether the breaker was open.
func (b *breaker) halfOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	was := b.open
	b.open = false
	return was
}

func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total, b.streak = 0, 0
	b.pause = initialBackoff
	b.open = false
	b.last = time.Time{}
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *breaker) failures() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *breaker) backoff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pause
}
