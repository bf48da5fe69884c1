package timer

import (
	"sync"
	"time"
)

// Countdown is a restartable repeating tick owned by one turn engine.
// Start and Stop are idempotent and safe from any goroutine.
type Countdown struct {
	manager  *TimerManager
	interval time.Duration
	onTick   func()

	mutex   sync.Mutex
	timerID int64
	running bool
}

func NewCountdown(manager *TimerManager, interval time.Duration, onTick func()) *Countdown {
	return &Countdown{
		manager:  manager,
		interval: interval,
		onTick:   onTick,
	}
}

func (c *Countdown) Start() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.running {
		return
	}
	c.timerID = c.manager.AddTimer(c.interval, c.interval, c.onTick)
	c.running = true
}

func (c *Countdown) Stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.running {
		return
	}
	c.manager.RemoveTimer(c.timerID)
	c.running = false
}

func (c *Countdown) Running() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.running
}
