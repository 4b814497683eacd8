package authflow

import (
	"sync"
	"time"
)

// Ticker is the tick source a Countdown consumes. *time.Ticker satisfies it
// through NewSystemTicker.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type systemTicker struct {
	t *time.Ticker
}

func (s systemTicker) Chan() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()                  { s.t.Stop() }

// NewSystemTicker wraps time.NewTicker.
func NewSystemTicker(d time.Duration) Ticker {
	return systemTicker{t: time.NewTicker(d)}
}

// Countdown counts whole seconds down to zero, one per tick.
//
// Each Start begins a new run and supersedes the previous one. onTick receives
// the run number and the remaining seconds; callers compare the run number with
// the value Start returned to ignore ticks from superseded runs. Start and Cancel
// never block on the tick goroutine, so they may be called while holding a lock
// that onTick also acquires. Wait blocks until every tick goroutine has exited.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	run       uint64
	stop      chan struct{}
	closed    bool
	newTicker TickerFunc
	onTick    func(run uint64, remaining int)
	wg        sync.WaitGroup
}

// NewCountdown returns a stopped countdown. A nil newTicker uses NewSystemTicker.
func NewCountdown(newTicker TickerFunc, onTick func(run uint64, remaining int)) *Countdown {
	if newTicker == nil {
		newTicker = NewSystemTicker
	}
	return &Countdown{
		newTicker: newTicker,
		onTick:    onTick,
	}
}

// Start restarts the countdown at seconds and returns the new run number.
// Start after Close is a no-op that returns 0.
func (c *Countdown) Start(seconds int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0
	}
	c.stopLocked()
	c.run++
	if seconds <= 0 {
		c.remaining = 0
		return c.run
	}

	c.remaining = seconds
	stop := make(chan struct{})
	c.stop = stop
	ticker := c.newTicker(time.Second)

	c.wg.Add(1)
	go c.loop(c.run, ticker, stop)

	return c.run
}

// Cancel stops the current run and zeroes the remaining time.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.run++
	c.remaining = 0
}

// Close cancels the countdown permanently. Later Start calls do nothing.
func (c *Countdown) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopLocked()
	c.run++
	c.remaining = 0
	c.mu.Unlock()
}

// Wait blocks until all tick goroutines have returned. It must not be called
// from onTick.
func (c *Countdown) Wait() {
	c.wg.Wait()
}

// Remaining returns the seconds left in the current run; never negative.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Run returns the current run number.
func (c *Countdown) Run() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

func (c *Countdown) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *Countdown) loop(run uint64, ticker Ticker, stop <-chan struct{}) {
	defer c.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}

		c.mu.Lock()
		if c.run != run {
			c.mu.Unlock()
			return
		}
		if c.remaining > 0 {
			c.remaining--
		}
		remaining := c.remaining
		c.mu.Unlock()

		if c.onTick != nil {
			c.onTick(run, remaining)
		}
		if remaining == 0 {
			return
		}
	}
}
