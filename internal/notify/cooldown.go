package notify

import (
	"fmt"
	"sync"
	"time"
)

// cooldownTracker suppresses repeated notifications for the same
// container+event pair within CooldownWindow. A hit is recorded only when
// the caller tells Record that delivery actually succeeded somewhere.
type cooldownTracker struct {
	mu       sync.Mutex
	window   time.Duration
	lastSent map[string]time.Time
	nowFn    func() time.Time
}

func newCooldownTracker(window time.Duration) *cooldownTracker {
	return &cooldownTracker{
		window:   window,
		lastSent: make(map[string]time.Time),
		nowFn:    time.Now,
	}
}

func cooldownKey(containerID, eventType string) string {
	return fmt.Sprintf("%s:%s", containerID, eventType)
}

// Active reports whether containerID/eventType is still within its
// cooldown window.
func (c *cooldownTracker) Active(containerID, eventType string) bool {
	if c.window <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastSent[cooldownKey(containerID, eventType)]
	if !ok {
		return false
	}
	return c.nowFn().Sub(last) < c.window
}

// Record marks containerID/eventType as just sent, starting a fresh
// cooldown window.
func (c *cooldownTracker) Record(containerID, eventType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSent[cooldownKey(containerID, eventType)] = c.nowFn()
}

// Sweep drops entries whose cooldown has already elapsed, bounding map
// growth across a long-running process. Intended to run on a 15-minute
// ticker alongside the monitoring cycle.
func (c *cooldownTracker) Sweep() {
	if c.window <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	for key, last := range c.lastSent {
		if now.Sub(last) >= c.window {
			delete(c.lastSent, key)
		}
	}
}

// SetWindow updates the cooldown window, e.g. when ANOMALY_COOLDOWN_MINUTES
// changes via config reload. A non-positive window disables cooldown
// suppression entirely.
func (c *cooldownTracker) SetWindow(window time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = window
}
