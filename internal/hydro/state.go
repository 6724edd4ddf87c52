package hydro

import "fmt"

// Phase is a state of one orchestrator run.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhasePlanning     Phase = "planning"
	PhaseDispatched   Phase = "dispatched"
	PhaseCollecting   Phase = "collecting"
	PhaseMerging      Phase = "merging"
	PhaseAnnotating   Phase = "annotating"
	PhaseTransforming Phase = "transforming"
	PhaseDone         Phase = "done"
	PhaseCanceled     Phase = "canceled"
	PhaseTimedOut     Phase = "timed_out"
	PhaseFailed       Phase = "failed"
)

var failurePhases = []Phase{PhaseCanceled, PhaseTimedOut, PhaseFailed}

// phaseNext lists the legal successors of each phase. Failure phases are only
// reachable once work has been dispatched, and Merging cannot be skipped.
var phaseNext = map[Phase][]Phase{
	PhaseIdle:         {PhasePlanning},
	PhasePlanning:     {PhaseDispatched},
	PhaseDispatched:   append([]Phase{PhaseCollecting}, failurePhases...),
	PhaseCollecting:   append([]Phase{PhaseMerging}, failurePhases...),
	PhaseMerging:      append([]Phase{PhaseAnnotating}, failurePhases...),
	PhaseAnnotating:   append([]Phase{PhaseTransforming}, failurePhases...),
	PhaseTransforming: append([]Phase{PhaseDone}, failurePhases...),
}

// CanTransition reports whether from -> to is a legal step.
func CanTransition(from, to Phase) bool {
	for _, p := range phaseNext[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return len(phaseNext[p]) == 0
}

// phaseTracker walks one run through the state machine and mirrors every
// step into an observer (the query registry).
type phaseTracker struct {
	current Phase
	observe func(Phase)
}

func newPhaseTracker(observe func(Phase)) *phaseTracker {
	return &phaseTracker{current: PhaseIdle, observe: observe}
}

func (t *phaseTracker) to(next Phase) error {
	if t.current.Terminal() {
		return fmt.Errorf("run already %s", t.current)
	}
	if !CanTransition(t.current, next) {
		return fmt.Errorf("illegal phase transition %s -> %s", t.current, next)
	}
	t.current = next
	if t.observe != nil {
		t.observe(next)
	}
	return nil
}
