package clock

import (
	"log/slog"
	"time"

	"github.com/mbd888/potionwatch/internal/metrics"
)

// Driver advances the clock on a wall-time cadence.
//
// One goroutine owns one timer. While playback is runnable the timer
// fires every tick and applies one advance; when the clock is paused,
// unbounded, or parked at the end of the range, the goroutine blocks on
// its wake channel instead. Wiring Wake into the clock's change callback
// makes the driver re-evaluate after every seek, pause, speed, or bounds
// change, so parking at the end is never terminal.
type Driver struct {
	clock  *Clock
	tick   time.Duration
	logger *slog.Logger

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDriverLogger sets the logger.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// NewDriver creates a driver that advances clk every tick of wall time.
func NewDriver(clk *Clock, tick time.Duration, opts ...DriverOption) *Driver {
	if tick <= 0 {
		tick = time.Second
	}
	d := &Driver{
		clock:  clk,
		tick:   tick,
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the driver goroutine.
func (d *Driver) Start() {
	d.logger.Info("playback driver started", "tick", d.tick)
	go d.run()
}

// Stop halts the driver and waits for its goroutine to exit.
func (d *Driver) Stop() {
	close(d.stop)
	<-d.done
}

// Wake nudges the driver to re-evaluate the clock state. Safe to call
// from any goroutine; extra wakes coalesce.
func (d *Driver) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Driver) run() {
	defer close(d.done)
	defer metrics.PlaybackRunning.Set(0)

	timer := time.NewTimer(d.tick)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		st := d.clock.Snapshot()
		runnable := st.HasRange && !st.Paused && !st.AtEnd

		if runnable && !armed {
			timer.Reset(d.tick)
			armed = true
			metrics.PlaybackRunning.Set(1)
		} else if !runnable && armed {
			if !timer.Stop() {
				<-timer.C
			}
			armed = false
		}
		if !armed {
			metrics.PlaybackRunning.Set(0)
		}

		if armed {
			select {
			case <-d.stop:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				return
			case <-d.wake:
				// State changed under us; re-evaluate. The timer keeps
				// its deadline so the tick cadence is undisturbed.
			case <-timer.C:
				armed = false
				if _, moved := d.clock.Advance(); moved {
					metrics.ClockTicksTotal.Inc()
				}
			}
		} else {
			select {
			case <-d.stop:
				return
			case <-d.wake:
			}
		}
	}
}
