// Package config holds the engine configuration: defaults, file loading and
// the effective guard limits derived from dev mode.
package config

import (
	"math"
	"runtime"
)

// Config is the engine configuration as written in a config file.
type Config struct {
	// DevMode switches on the numeric guards. Without it every guard below
	// except history and queue capacity is unbounded.
	DevMode bool `yaml:"dev_mode" toml:"dev_mode" json:"dev_mode"`

	MaxNrOfChanges      int `yaml:"max_nr_of_changes" toml:"max_nr_of_changes" json:"max_nr_of_changes"`
	MaxTotalNrOfChanges int `yaml:"max_total_nr_of_changes" toml:"max_total_nr_of_changes" json:"max_total_nr_of_changes"`
	MaxNrOfObserved     int `yaml:"max_nr_of_observed" toml:"max_nr_of_observed" json:"max_nr_of_observed"`
	MaxNrOfObservers    int `yaml:"max_nr_of_observers" toml:"max_nr_of_observers" json:"max_nr_of_observers"`

	// MaxNrOfHistory bounds the time-travel ring buffer.
	MaxNrOfHistory int `yaml:"max_nr_of_history" toml:"max_nr_of_history" json:"max_nr_of_history"`
	// MaxInInQueue bounds the universe input queue.
	MaxInInQueue int `yaml:"max_in_in_queue" toml:"max_in_in_queue" json:"max_in_in_queue"`

	RunSequential    bool `yaml:"run_sequential" toml:"run_sequential" json:"run_sequential"`
	CheckOrphanState bool `yaml:"check_orphan_state" toml:"check_orphan_state" json:"check_orphan_state"`

	// Workers is the number of pool goroutines for parallel branches.
	// Zero means GOMAXPROCS.
	Workers int `yaml:"workers" toml:"workers" json:"workers"`

	MaxDerivationDepth int `yaml:"max_derivation_depth" toml:"max_derivation_depth" json:"max_derivation_depth"`

	Trace Trace `yaml:"trace" toml:"trace" json:"trace"`
}

// Trace selects the debug records the engine logs.
type Trace struct {
	Universe  bool `yaml:"universe" toml:"universe" json:"universe"`
	Mutable   bool `yaml:"mutable" toml:"mutable" json:"mutable"`
	Actions   bool `yaml:"actions" toml:"actions" json:"actions"`
	RippleOut bool `yaml:"ripple_out" toml:"ripple_out" json:"ripple_out"`
	// Matching is accepted for compatibility; nothing logs under it.
	Matching bool `yaml:"matching" toml:"matching" json:"matching"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		MaxNrOfChanges:      200,
		MaxTotalNrOfChanges: 10000,
		MaxNrOfObserved:     1000,
		MaxNrOfObservers:    1000,
		MaxNrOfHistory:      64,
		MaxInInQueue:        100,
		MaxDerivationDepth:  256,
	}
}

// Limits are the effective values the engine enforces.
type Limits struct {
	MaxNrOfChanges      int
	MaxTotalNrOfChanges int
	MaxNrOfObserved     int
	MaxNrOfObservers    int
	MaxNrOfHistory      int
	MaxInInQueue        int
	Workers             int
	MaxDerivationDepth  int

	RunSequential    bool
	CheckOrphanState bool

	TraceUniverse  bool
	TraceMutable   bool
	TraceActions   bool
	TraceRippleOut bool
}

// Limits resolves dev mode and defaults into enforced limits.
func (c Config) Limits() Limits {
	l := Limits{
		MaxNrOfChanges:      c.MaxNrOfChanges,
		MaxTotalNrOfChanges: c.MaxTotalNrOfChanges,
		MaxNrOfObserved:     c.MaxNrOfObserved,
		MaxNrOfObservers:    c.MaxNrOfObservers,
		MaxNrOfHistory:      c.MaxNrOfHistory,
		MaxInInQueue:        c.MaxInInQueue,
		Workers:             c.Workers,
		MaxDerivationDepth:  c.MaxDerivationDepth,
		RunSequential:       c.RunSequential,
		CheckOrphanState:    c.CheckOrphanState,
		TraceUniverse:       c.Trace.Universe,
		TraceMutable:        c.Trace.Mutable,
		TraceActions:        c.Trace.Actions,
		TraceRippleOut:      c.Trace.RippleOut,
	}
	if !c.DevMode {
		l.MaxNrOfChanges = math.MaxInt
		l.MaxTotalNrOfChanges = math.MaxInt
		l.MaxNrOfObserved = math.MaxInt
		l.MaxNrOfObservers = math.MaxInt
	}
	if l.Workers <= 0 {
		l.Workers = runtime.GOMAXPROCS(0)
	}
	if l.MaxInInQueue <= 0 {
		l.MaxInInQueue = Default().MaxInInQueue
	}
	if l.MaxDerivationDepth <= 0 {
		l.MaxDerivationDepth = Default().MaxDerivationDepth
	}
	return l
}
