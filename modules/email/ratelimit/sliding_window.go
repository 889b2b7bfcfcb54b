package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

// SlidingWindow admits at most RequestsPerSecond*Window sends within any trailing window
type SlidingWindow struct {
	mu       sync.Mutex
	sends    []time.Time // ascending
	window   time.Duration
	capacity int
	now      func() time.Time
}

func NewSlidingWindow(cfg models.RateLimitConfig, opts ...Option) *SlidingWindow {
	o := buildOptions(opts)
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	capacity := int(math.Floor(cfg.RequestsPerSecond * window.Seconds()))
	if capacity < 1 {
		capacity = 1
	}
	return &SlidingWindow{
		window:   window,
		capacity: capacity,
		now:      o.now,
	}
}

// Capacity is the number of sends admitted per window
func (w *SlidingWindow) Capacity() int {
	return w.capacity
}

// prune drops timestamps that have aged out of the window ending at now.
// Caller holds mu.
func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.sends) && !w.sends[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.sends = append(w.sends[:0], w.sends[i:]...)
	}
}

func (w *SlidingWindow) CanSend() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.sends) < w.capacity
}

func (w *SlidingWindow) RecordSend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.prune(now)
	if len(w.sends) < w.capacity {
		w.sends = append(w.sends, now)
	}
}

func (w *SlidingWindow) NextAvailableTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.prune(now)
	if len(w.sends) < w.capacity {
		return now
	}
	return w.sends[0].Add(w.window)
}
