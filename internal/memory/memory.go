// Package memory implements the adaptive memory that guides candidate sampling
// toward historically strong parameter values.
package memory

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/cwbudde/bctune/internal/param"
)

const (
	// DefaultCapacity bounds the top-K archive.
	DefaultCapacity = 100
	// DefaultHistoryLimit bounds each parameter's (value, score) FIFO.
	DefaultHistoryLimit = 200

	noiseFraction = 0.1
)

// Sample is one observed (value, score) pair for a parameter.
type Sample struct {
	Value int     `json:"value"`
	Score float64 `json:"score"`
}

// Snapshot is a serializable, best-effort view of the memory.
type Snapshot struct {
	Archive []param.Solution `json:"archive"`
	History map[string]int   `json:"history_sizes"`
}

// Memory holds a score-ordered archive and per-parameter sample history.
// All methods are safe for concurrent use.
type Memory struct {
	mu           sync.Mutex
	capacity     int
	historyLimit int
	archive      []param.Solution
	history      map[string][]Sample
	rng          *rand.Rand
}

// New creates a memory. Non-positive bounds fall back to the defaults.
func New(capacity, historyLimit int, rng *rand.Rand) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Memory{
		capacity:     capacity,
		historyLimit: historyLimit,
		history:      make(map[string][]Sample),
		rng:          rng,
	}
}

// AddSolution records an evaluated configuration.
// The archive is re-sorted by score (ties keep insertion order) and truncated
// to capacity; each parameter's history drops its oldest sample past the limit.
func (m *Memory) AddSolution(cfg param.Configuration, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.archive = append(m.archive, param.Solution{Config: cfg, Score: score})
	sort.SliceStable(m.archive, func(i, j int) bool {
		return m.archive[i].Score > m.archive[j].Score
	})
	if len(m.archive) > m.capacity {
		m.archive = m.archive[:m.capacity]
	}

	for _, name := range cfg.Names() {
		h := append(m.history[name], Sample{Value: cfg.Value(name), Score: score})
		if len(h) > m.historyLimit {
			h = h[len(h)-m.historyLimit:]
		}
		m.history[name] = h
	}
}

// SampleValue draws a value for name within [lo, hi].
//
// With probability alpha, or when name has no history, the draw is uniform.
// Otherwise a historical sample is chosen with weight proportional to its
// min-max normalized score, perturbed by Gaussian noise of 0.1*(hi-lo) and clamped.
func (m *Memory) SampleValue(name string, lo, hi int, alpha float64) int {
	if hi <= lo {
		return lo
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.history[name]
	if len(h) == 0 || m.rng.Float64() < alpha {
		return lo + m.rng.Intn(hi-lo+1)
	}

	base := h[m.weightedIndex(h)].Value
	noise := int(math.Round(m.rng.NormFloat64() * noiseFraction * float64(hi-lo)))
	return clamp(base+noise, lo, hi)
}

// weightedIndex picks an index of h by normalized score. Caller holds mu.
func (m *Memory) weightedIndex(h []Sample) int {
	minScore, maxScore := h[0].Score, h[0].Score
	for _, s := range h[1:] {
		minScore = math.Min(minScore, s.Score)
		maxScore = math.Max(maxScore, s.Score)
	}

	spread := maxScore - minScore
	if spread == 0 {
		return m.rng.Intn(len(h))
	}

	total := 0.0
	for _, s := range h {
		total += (s.Score - minScore) / spread
	}

	r := m.rng.Float64() * total
	for i, s := range h {
		r -= (s.Score - minScore) / spread
		if r < 0 {
			return i
		}
	}
	// Floating point residue: fall back to the best-scoring sample.
	best := 0
	for i, s := range h {
		if s.Score > h[best].Score {
			best = i
		}
	}
	return best
}

// Len returns the archive size.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.archive)
}

// Best returns the highest-scoring archived solution.
func (m *Memory) Best() (param.Solution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.archive) == 0 {
		return param.Solution{}, false
	}
	return m.archive[0], true
}

// Archive returns a copy of the archive, best first.
func (m *Memory) Archive() []param.Solution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]param.Solution, len(m.archive))
	copy(out, m.archive)
	return out
}

// History returns a copy of name's samples, oldest first.
func (m *Memory) History(name string) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history[name]))
	copy(out, m.history[name])
	return out
}

// Snapshot returns a checkpointable view of the memory.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	archive := make([]param.Solution, len(m.archive))
	copy(archive, m.archive)
	sizes := make(map[string]int, len(m.history))
	for name, h := range m.history {
		sizes[name] = len(h)
	}
	return Snapshot{Archive: archive, History: sizes}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
