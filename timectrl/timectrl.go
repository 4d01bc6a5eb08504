package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source the routing engine stamps events with.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

var (
	_ Clock = SystemClock{}
	_ Clock = (*TimeController)(nil)
)

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated steps by Tick as quickly as listeners return.
	Accelerated
)

// Listener is invoked once per tick with the new simulation time.
type Listener func(ctx context.Context, now time.Time)

// TimeController drives simulation time and notifies registered listeners.
// The grid server uses it to pace recovery sweeps; gridctl also hands it to
// the routing engine as the event clock so events carry simulated time.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []Listener
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn Listener) {
	if fn == nil {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Run advances time on the calling goroutine until ctx is cancelled.
func (tc *TimeController) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if tc.Mode == RealTime {
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		tc.step(ctx)
	}
}

// Steps advances the clock n ticks without waiting, as Accelerated mode does.
func (tc *TimeController) Steps(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tc.step(ctx)
	}
	return nil
}

func (tc *TimeController) step(ctx context.Context) {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	now := tc.currentTime
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, now)
	}
}
