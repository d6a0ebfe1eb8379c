// Package progress records every evaluation of a search run, tracks the
// running best and persists it.
package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/bctune/internal/memory"
	"github.com/cwbudde/bctune/internal/param"
	"github.com/cwbudde/bctune/internal/store"
)

// Tracker is the single writer of a run's persisted state.
//
// Persistence is best effort: I/O errors are logged and never returned, so a
// full disk cannot stop a search.
type Tracker struct {
	mu          sync.Mutex
	store       store.Store
	history     store.History
	logger      *slog.Logger
	now         func() time.Time
	observers   []Observer
	iteration   int
	evaluations int
	best        param.Solution
	hasBest     bool
	entries     []store.HistoryEntry
	checkpoints int
	lastUpdate  time.Time
}

// New creates a tracker. history may be nil.
func New(st store.Store, history store.History, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:   st,
		history: history,
		logger:  logger,
		now:     time.Now,
	}
}

// AddObserver registers o for every subsequent event.
func (t *Tracker) AddObserver(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Start announces the run.
func (t *Tracker) Start(strategy string) {
	t.publish(Event{Kind: EventStart, Strategy: strategy})
}

// StartIteration sets the iteration recorded with subsequent evaluations.
func (t *Tracker) StartIteration(iteration int) {
	t.mu.Lock()
	t.iteration = iteration
	t.mu.Unlock()
}

// LogEvaluation appends an evaluation to the history and, if score strictly
// beats the tracked best, replaces the best and persists it immediately.
// Progress is persisted on every call. It reports whether the best improved.
func (t *Tracker) LogEvaluation(paramName string, value int, score float64, cfg param.Configuration) bool {
	t.mu.Lock()

	t.evaluations++
	now := t.now()
	entry := store.HistoryEntry{
		Evaluation: t.evaluations,
		Iteration:  t.iteration,
		Param:      paramName,
		Value:      value,
		Score:      score,
		Timestamp:  now,
	}
	t.entries = append(t.entries, entry)
	t.lastUpdate = now

	if t.history != nil {
		if err := t.history.Append(entry); err != nil {
			t.logger.Error("failed to append history", "error", err)
		} else if err := t.history.Flush(); err != nil {
			t.logger.Error("failed to flush history", "error", err)
		}
	}

	improved := !t.hasBest || score > t.best.Score
	if improved {
		t.best = param.Solution{Config: cfg, Score: score}
		t.hasBest = true
		if err := t.store.SaveBest(cfg); err != nil {
			t.logger.Error("failed to save best configuration", "error", err)
		}
		t.logger.Info("new best", "score", score, "param", paramName, "value", value, "evaluation", t.evaluations)
	}
	t.saveProgressLocked()

	events := []Event{t.eventLocked(EventEvaluation, paramName, value, score)}
	if improved {
		events = append(events, t.eventLocked(EventImproved, paramName, value, score))
	}
	t.mu.Unlock()

	for _, e := range events {
		t.publish(e)
	}
	return improved
}

// ParameterUpdated records a coordinate move.
func (t *Tracker) ParameterUpdated(name string, from, to int, score float64) {
	t.mu.Lock()
	e := t.eventLocked(EventParameterUpdated, name, to, score)
	t.mu.Unlock()
	e.From = from
	t.publish(e)
}

// IterationComplete announces the end of an outer iteration.
func (t *Tracker) IterationComplete(iteration int) {
	t.mu.Lock()
	e := t.eventLocked(EventIterationComplete, "", 0, 0)
	t.mu.Unlock()
	e.Iteration = iteration
	t.publish(e)
}

// SaveCheckpoint writes the next numbered checkpoint with the full history.
// mem may be nil.
func (t *Tracker) SaveCheckpoint(mem *memory.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkpoints++
	history := make([]store.HistoryEntry, len(t.entries))
	copy(history, t.entries)

	c := &store.Checkpoint{
		Number:      t.checkpoints,
		Iteration:   t.iteration,
		Evaluations: t.evaluations,
		BestScore:   t.bestScoreLocked(),
		BestConfig:  t.best.Config,
		History:     history,
		Memory:      mem,
		Timestamp:   t.now(),
	}
	if err := t.store.SaveCheckpoint(c); err != nil {
		t.logger.Error("failed to save checkpoint", "number", c.Number, "error", err)
		return
	}
	t.saveProgressLocked()
	t.logger.Info("checkpoint saved", "number", c.Number, "iteration", c.Iteration)
}

// Finish announces the end of the run. err is the driver's result, if any.
func (t *Tracker) Finish(err error) {
	t.mu.Lock()
	t.saveProgressLocked()
	e := t.eventLocked(EventEnd, "", 0, 0)
	t.mu.Unlock()
	if err != nil {
		e.Error = err.Error()
	}
	t.publish(e)
}

// Best returns the tracked best solution.
func (t *Tracker) Best() (param.Solution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.best, t.hasBest
}

// Snapshot returns the current progress record.
func (t *Tracker) Snapshot() store.Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progressLocked()
}

// History returns the most recent limit entries, or all of them if limit <= 0.
func (t *Tracker) History(limit int) []store.HistoryEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	start := 0
	if limit > 0 && len(t.entries) > limit {
		start = len(t.entries) - limit
	}
	out := make([]store.HistoryEntry, len(t.entries)-start)
	copy(out, t.entries[start:])
	return out
}

func (t *Tracker) progressLocked() store.Progress {
	return store.Progress{
		Iteration:   t.iteration,
		Evaluations: t.evaluations,
		BestScore:   t.bestScoreLocked(),
		BestConfig:  t.best.Config,
		LastUpdate:  t.lastUpdate,
	}
}

func (t *Tracker) saveProgressLocked() {
	p := t.progressLocked()
	if err := t.store.SaveProgress(&p); err != nil {
		t.logger.Error("failed to save progress", "error", err)
	}
}

func (t *Tracker) bestScoreLocked() *float64 {
	if !t.hasBest {
		return nil
	}
	s := t.best.Score
	return &s
}

func (t *Tracker) eventLocked(kind EventKind, name string, value int, score float64) Event {
	return Event{
		Kind:        kind,
		Time:        t.now(),
		Iteration:   t.iteration,
		Evaluations: t.evaluations,
		Param:       name,
		Value:       value,
		Score:       score,
		BestScore:   t.bestScoreLocked(),
	}
}

func (t *Tracker) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = t.now()
	}
	t.mu.Lock()
	observers := make([]Observer, len(t.observers))
	copy(observers, t.observers)
	t.mu.Unlock()

	for _, o := range observers {
		o.Notify(e)
	}
}
