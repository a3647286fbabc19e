// Package circuitbreaker isolates failing upstream endpoints. Each key
// (an endpoint name such as "metadata" or "tickets") carries its own
// closed → open → half-open circuit, so a dead tickets endpoint never
// blocks level or cauldron fetches.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State of a single circuit.
type State int

const (
	StateClosed   State = iota // requests flow through
	StateOpen                  // tripped, requests rejected until the cooldown passes
	StateHalfOpen              // one probe in flight to test recovery
)

var stateNames = map[State]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half_open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "potionwatch",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// circuit is the per-key record. Keys only get a record once they fail,
// so a healthy upstream costs one map lookup per call.
type circuit struct {
	st        State
	strikes   int
	lastTrial time.Time
}

// Breaker trips a key open after `threshold` consecutive failures and
// keeps it open for `cooldown` before letting a single probe through.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	cooldown  time.Duration
	observer  func(key string, from, to State)
}

// New creates a breaker. Non-positive arguments fall back to 5 strikes
// and a 30s cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// OnTransition registers a callback fired (on its own goroutine) for
// every state change.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.observer = fn
	b.mu.Unlock()
}

// Allow reports whether a request to key may proceed. An open circuit
// whose cooldown has elapsed flips to half-open and admits one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok || c.st == StateClosed {
		return true
	}
	if c.st == StateHalfOpen {
		// A probe is already out; hold everyone else back until it reports.
		return false
	}
	if time.Since(c.lastTrial) >= b.cooldown {
		b.shift(key, c, StateHalfOpen)
		return true
	}
	return false
}

// RecordSuccess clears the strike count; a successful half-open probe
// closes the circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	if c.st == StateHalfOpen {
		b.shift(key, c, StateClosed)
	}
	c.strikes = 0
}

// RecordFailure adds a strike. Reaching the threshold, or failing the
// half-open probe, trips the circuit open.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}

	c.strikes++
	c.lastTrial = time.Now()

	switch {
	case c.st == StateHalfOpen:
		b.shift(key, c, StateOpen)
	case c.st == StateClosed && c.strikes >= b.threshold:
		b.shift(key, c, StateOpen)
	}
}

// State returns the circuit state for key; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.st
	}
	return StateClosed
}

// shift moves a circuit to a new state. Caller holds b.mu.
func (b *Breaker) shift(key string, c *circuit, to State) {
	from := c.st
	if from == to {
		return
	}
	c.st = to
	cbStateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	if b.observer != nil {
		go b.observer(key, from, to)
	}
}
