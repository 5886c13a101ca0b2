package store

import (
	"sync"
	"time"

	"github.com/codefionn/personachat/internal/logger"
)

// Debouncer coalesces bursts of save triggers into one delayed call. Swipes
// and streaming progress would otherwise hit the database on every delta.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func() error
}

// NewDebouncer creates a debouncer invoking fn after delay of quiet time.
func NewDebouncer(delay time.Duration, fn func() error) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

// Trigger schedules (or reschedules) the save.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		if err := d.fn(); err != nil {
			logger.Warn("debounced save failed: %v", err)
		}
	})
}

// Flush runs any pending save immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if err := d.fn(); err != nil {
		logger.Warn("flush save failed: %v", err)
	}
}
