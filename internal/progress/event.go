package progress

import "time"

// EventKind classifies tracker events.
type EventKind string

const (
	EventStart             EventKind = "start"
	EventEvaluation        EventKind = "evaluation"
	EventImproved          EventKind = "improved"
	EventParameterUpdated  EventKind = "parameter_updated"
	EventIterationComplete EventKind = "iteration_complete"
	EventEnd               EventKind = "end"
)

// Event is published to observers after the tracker state has changed.
type Event struct {
	Kind        EventKind `json:"kind"`
	Time        time.Time `json:"time"`
	Strategy    string    `json:"strategy,omitempty"`
	Iteration   int       `json:"iteration"`
	Evaluations int       `json:"evaluations"`
	Param       string    `json:"param,omitempty"`
	Value       int       `json:"value,omitempty"`
	From        int       `json:"from,omitempty"`
	Score       float64   `json:"score,omitempty"`
	BestScore   *float64  `json:"best_score,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Observer receives tracker events. Notify is called from the search
// goroutine and must not block.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }
