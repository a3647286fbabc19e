// Package clock implements the virtual timeline clock.
//
// The clock holds a position inside the dataset's time range as a whole
// minute offset from the range start. Wall time enters exactly once, to
// seat the first range at its live edge; after that only seeks and the
// playback driver move the position. All viewers share the one clock,
// so every dashboard shows the same moment.
package clock

import (
	"errors"
	"sync"
	"time"

	"github.com/mbd888/potionwatch/internal/dataset"
)

// ErrInvalidSpeed is returned for speeds below one minute per tick.
var ErrInvalidSpeed = errors.New("speed must be a positive number of minutes per tick")

// ErrNoRange is returned when an operation needs bounds that have not
// loaded yet.
var ErrNoRange = errors.New("no time range loaded")

// timeNow is swapped out in tests.
var timeNow = time.Now

// State is a consistent snapshot of the clock for handlers and broadcasts.
type State struct {
	HasRange        bool   `json:"has_range"`
	Start           string `json:"start,omitempty"`
	End             string `json:"end,omitempty"`
	Now             string `json:"now,omitempty"`
	OffsetMinutes   int    `json:"offset_minutes"`
	TotalMinutes    int    `json:"total_minutes"`
	IntervalMinutes int    `json:"interval_minutes"`
	Speed           int    `json:"speed"`
	Paused          bool   `json:"paused"`
	AtEnd           bool   `json:"at_end"`
}

// Clock is the shared virtual clock.
type Clock struct {
	mu sync.Mutex

	start           time.Time
	end             time.Time
	totalMinutes    int
	intervalMinutes int
	hasRange        bool

	offsetMinutes int
	paused        bool
	speed         int

	// initialized marks that a position exists, either because bounds
	// were adopted once or because someone has seeked. A later metadata
	// refresh must never move an initialized clock.
	initialized bool

	onChange func()
}

// Option configures a Clock.
type Option func(*Clock)

// WithSpeed sets the initial playback speed in minutes per tick.
func WithSpeed(speed int) Option {
	return func(c *Clock) {
		if speed >= 1 {
			c.speed = speed
		}
	}
}

// WithPaused sets the initial pause state.
func WithPaused(paused bool) Option {
	return func(c *Clock) {
		c.paused = paused
	}
}

// New creates a clock with no range, paused at offset zero.
func New(opts ...Option) *Clock {
	c := &Clock{
		paused: true,
		speed:  1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers a callback fired after every state change, outside
// the clock's lock. The playback driver and the event hub hang off this.
func (c *Clock) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// ApplyRange adopts the dataset's time range. The first range seats the
// clock at wall-now within the bounds, so a live dataset opens at its
// leading edge and a finished one at its end. Later ranges only re-clamp
// the current position; a background refresh never yanks viewers
// elsewhere, and a position chosen before bounds arrived wins over the
// seed. Reapplying an identical range is a no-op.
func (c *Clock) ApplyRange(r dataset.Range) State {
	c.mu.Lock()

	same := c.hasRange &&
		c.start.Equal(r.Start) && c.end.Equal(r.End) &&
		c.totalMinutes == r.TotalMinutes && c.intervalMinutes == r.IntervalMinutes
	if same {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st
	}

	c.start = r.Start
	c.end = r.End
	c.totalMinutes = r.TotalMinutes
	c.intervalMinutes = r.IntervalMinutes
	c.hasRange = true

	if !c.initialized {
		c.offsetMinutes = clamp(int(timeNow().Sub(c.start)/time.Minute), c.totalMinutes)
		c.initialized = true
	} else {
		c.offsetMinutes = clamp(c.offsetMinutes, c.totalMinutes)
	}

	return c.finish()
}

// Seek moves the clock to an absolute minute offset, clamped into range.
// Seeking marks the clock initialized even before bounds arrive, so the
// user's chosen position survives the first metadata load.
func (c *Clock) Seek(offsetMinutes int) State {
	c.mu.Lock()
	if offsetMinutes < 0 {
		offsetMinutes = 0
	}
	if c.hasRange {
		offsetMinutes = clamp(offsetMinutes, c.totalMinutes)
	}
	c.offsetMinutes = offsetMinutes
	c.initialized = true
	return c.finish()
}

// SeekTime moves the clock to the minute offset of an absolute instant.
func (c *Clock) SeekTime(t time.Time) (State, error) {
	c.mu.Lock()
	if !c.hasRange {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, ErrNoRange
	}
	offset := int(t.Sub(c.start) / time.Minute)
	c.offsetMinutes = clamp(offset, c.totalMinutes)
	c.initialized = true
	return c.finish(), nil
}

// Step moves the clock by a relative number of minutes, negative allowed.
func (c *Clock) Step(deltaMinutes int) State {
	c.mu.Lock()
	offset := c.offsetMinutes + deltaMinutes
	if offset < 0 {
		offset = 0
	}
	if c.hasRange {
		offset = clamp(offset, c.totalMinutes)
	}
	c.offsetMinutes = offset
	c.initialized = true
	return c.finish()
}

// SetPaused pauses or resumes playback. Resuming at the end of the range
// is allowed; the driver simply stays parked there.
func (c *Clock) SetPaused(paused bool) State {
	c.mu.Lock()
	if c.paused == paused {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st
	}
	c.paused = paused
	return c.finish()
}

// SetSpeed sets the playback speed in minutes advanced per tick.
func (c *Clock) SetSpeed(speed int) (State, error) {
	c.mu.Lock()
	if speed < 1 {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, ErrInvalidSpeed
	}
	c.speed = speed
	return c.finish(), nil
}

// Advance moves the clock forward by one tick's worth of minutes. It
// reports whether the position moved. At the end of the range the clock
// stays put and keeps its play flag, so playback resumes on its own if a
// seek or a range extension reopens room ahead.
func (c *Clock) Advance() (State, bool) {
	c.mu.Lock()
	if !c.hasRange || c.paused || c.offsetMinutes >= c.totalMinutes {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st, false
	}
	c.offsetMinutes = clamp(c.offsetMinutes+c.speed, c.totalMinutes)
	return c.finish(), true
}

// Snapshot returns the current state.
func (c *Clock) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Now returns the absolute instant the clock points at.
func (c *Clock) Now() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasRange {
		return time.Time{}, false
	}
	return c.instantLocked(), true
}

// finish snapshots, releases the lock, and fires the change callback.
// Caller must hold c.mu.
func (c *Clock) finish() State {
	st := c.snapshotLocked()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return st
}

func (c *Clock) snapshotLocked() State {
	st := State{
		HasRange:        c.hasRange,
		OffsetMinutes:   c.offsetMinutes,
		TotalMinutes:    c.totalMinutes,
		IntervalMinutes: c.intervalMinutes,
		Speed:           c.speed,
		Paused:          c.paused,
	}
	if c.hasRange {
		st.Start = dataset.CanonicalTime(c.start)
		st.End = dataset.CanonicalTime(c.end)
		st.Now = dataset.CanonicalTime(c.instantLocked())
		st.AtEnd = c.offsetMinutes >= c.totalMinutes
	}
	return st
}

func (c *Clock) instantLocked() time.Time {
	return c.start.Add(time.Duration(c.offsetMinutes) * time.Minute)
}

func clamp(offset, total int) int {
	if offset < 0 {
		return 0
	}
	if offset > total {
		return total
	}
	return offset
}
