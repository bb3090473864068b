package loopguard

import (
	"errors"
	"fmt"
	"sync"
)

const (
	DefaultSoftLimit = 3
	DefaultHardLimit = 10
	DefaultThreshold = 0.98
)

type Verdict string

const (
	Allowed    Verdict = "allowed"
	Suppressed Verdict = "suppressed"
	HardStop   Verdict = "hard_stop"
)

type State int

const (
	StateNormal State = iota
	StateSoftLimited
	StateHardStopped
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateSoftLimited:
		return "soft_limited"
	case StateHardStopped:
		return "hard_stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	SoftLimit int
	HardLimit int
	Threshold float64
}

func DefaultConfig() Config {
	return Config{
		SoftLimit: DefaultSoftLimit,
		HardLimit: DefaultHardLimit,
		Threshold: DefaultThreshold,
	}
}

func (c Config) Validate() error {
	if c.SoftLimit < 1 {
		return errors.New("soft_limit must be at least 1")
	}
	if c.HardLimit < c.SoftLimit {
		return fmt.Errorf("hard_limit (%d) must not be below soft_limit (%d)", c.HardLimit, c.SoftLimit)
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1], got %v", c.Threshold)
	}
	return nil
}

// Decision is the outcome of one observed outbound attempt.
type Decision struct {
	Verdict    Verdict
	Streak     int
	Similarity float64
	State      State
	// Entered is set on the attempt that moved the guard into State.
	Entered bool
}

// Guard tracks one turn's outbound messages. A fresh Guard is created per
// turn session; the hard-stopped state is terminal.
type Guard struct {
	cfg Config

	mu      sync.Mutex
	last    string
	hasLast bool
	streak  int
	state   State
}

func New(cfg Config) *Guard {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	return &Guard{cfg: cfg}
}

// Observe records an outbound attempt and decides whether it may be sent.
// The streak is the length of the current run of attempts each similar to
// the one before it; the first attempt of a run counts as 1.
func (g *Guard) Observe(text string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateHardStopped {
		return Decision{Verdict: HardStop, Streak: g.streak, State: g.state}
	}

	var sim float64
	if g.hasLast {
		sim = Similarity(g.last, text)
	}
	if g.hasLast && sim >= g.cfg.Threshold {
		g.streak++
	} else {
		g.streak = 1
	}
	g.last = text
	g.hasLast = true

	prev := g.state
	switch {
	case g.streak >= g.cfg.HardLimit:
		g.state = StateHardStopped
	case g.streak >= g.cfg.SoftLimit:
		g.state = StateSoftLimited
	default:
		g.state = StateNormal
	}

	d := Decision{
		Streak:     g.streak,
		Similarity: sim,
		State:      g.state,
		Entered:    g.state != prev,
	}
	switch g.state {
	case StateHardStopped:
		d.Verdict = HardStop
	case StateSoftLimited:
		d.Verdict = Suppressed
	default:
		d.Verdict = Allowed
	}
	return d
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) Streak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streak
}
