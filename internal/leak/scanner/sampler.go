package scanner

import "sync/atomic"

// SamplerConfig configures optional sampling of the active set on large
// scan sweeps. This is additive beyond spec §4.F's unconditional sweep:
// with sampling disabled (the default), every scan tick checks every
// tracked entry, exactly as spec §4.F step 2 describes. Adapted from the
// teacher's internal/race/detector.Sampler, which makes the same
// probabilistic trade for race-check overhead using an atomic trace
// counter instead of an RNG.
type SamplerConfig struct {
	// Enabled turns sampling on. When false, Sampler.ShouldScan always
	// returns true.
	Enabled bool

	// MinEntries is the active-set size at or above which sampling kicks
	// in. Below this size every entry is still scanned even with Enabled
	// true, since the sweep is already cheap.
	MinEntries int

	// Rate samples 1 in Rate entries once MinEntries is reached.
	Rate uint64
}

// Sampler decides, per active-set entry, whether this tick's sweep should
// check it. It carries no allocations and no locks: a single atomic
// counter, incremented with each decision, exactly like the teacher's
// tracePos counter.
type Sampler struct {
	config SamplerConfig
	pos    atomic.Uint64
}

// NewSampler builds a Sampler from config, normalizing a zero or one Rate
// to "check everything".
func NewSampler(config SamplerConfig) *Sampler {
	if config.Rate == 0 {
		config.Rate = 1
	}
	return &Sampler{config: config}
}

// ShouldScan reports whether the next entry of an activeset snapshot of
// the given total size should be checked this tick.
//
//go:nosplit
func (s *Sampler) ShouldScan(activeSetSize int) bool {
	if !s.config.Enabled || activeSetSize < s.config.MinEntries || s.config.Rate <= 1 {
		return true
	}
	pos := s.pos.Add(1)
	return pos%s.config.Rate == 0
}
