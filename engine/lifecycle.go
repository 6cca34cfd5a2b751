package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"
)

// BatchState is a stage of a conversion call
type BatchState string

const (
	StateReceived   BatchState = "received"
	StateExpanded   BatchState = "expanded"
	StateScheduled  BatchState = "scheduled"
	StateRendering  BatchState = "rendering"
	StateAggregated BatchState = "aggregated"
	StateReturned   BatchState = "returned"
	StateErrored    BatchState = "errored"
)

const (
	eventExpand    statekit.EventType = "EXPAND"
	eventSchedule  statekit.EventType = "SCHEDULE"
	eventRender    statekit.EventType = "RENDER"
	eventAggregate statekit.EventType = "AGGREGATE"
	eventReturn    statekit.EventType = "RETURN"
	eventFail      statekit.EventType = "FAIL"
)

var eventTargets = map[statekit.EventType]BatchState{
	eventExpand:    StateExpanded,
	eventSchedule:  StateScheduled,
	eventRender:    StateRendering,
	eventAggregate: StateAggregated,
	eventReturn:    StateReturned,
	eventFail:      StateErrored,
}

// Transition is one recorded state change of a batch
type Transition struct {
	From BatchState `json:"from"`
	To   BatchState `json:"to"`
	At   time.Time  `json:"at"`
}

// batchTrace is the statechart context
type batchTrace struct {
	Current     BatchState
	Transitions []Transition
}

func recordTransition(ctx **batchTrace, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	trace := *ctx
	to, ok := eventTargets[event.Type]
	if !ok {
		return
	}
	trace.Transitions = append(trace.Transitions, Transition{From: trace.Current, To: to, At: time.Now()})
	trace.Current = to
}

func newLifecycleMachine() (*statekit.MachineConfig[*batchTrace], error) {
	return statekit.NewMachine[*batchTrace]("batch").
		WithInitial(statekit.StateID(StateReceived)).
		WithContext(&batchTrace{Current: StateReceived}).
		WithAction("recordTransition", recordTransition).
		State(statekit.StateID(StateReceived)).
		On(eventExpand).Target(statekit.StateID(StateExpanded)).Do("recordTransition").
		On(eventFail).Target(statekit.StateID(StateErrored)).Do("recordTransition").
		Done().
		State(statekit.StateID(StateExpanded)).
		On(eventSchedule).Target(statekit.StateID(StateScheduled)).Do("recordTransition").
		On(eventFail).Target(statekit.StateID(StateErrored)).Do("recordTransition").
		Done().
		State(statekit.StateID(StateScheduled)).
		On(eventRender).Target(statekit.StateID(StateRendering)).Do("recordTransition").
		On(eventFail).Target(statekit.StateID(StateErrored)).Do("recordTransition").
		Done().
		State(statekit.StateID(StateRendering)).
		On(eventAggregate).Target(statekit.StateID(StateAggregated)).Do("recordTransition").
		On(eventFail).Target(statekit.StateID(StateErrored)).Do("recordTransition").
		Done().
		State(statekit.StateID(StateAggregated)).
		On(eventReturn).Target(statekit.StateID(StateReturned)).Do("recordTransition").
		Done().
		State(statekit.StateID(StateReturned)).
		Final().
		Done().
		State(statekit.StateID(StateErrored)).
		Final().
		Done().
		Build()
}

var lifecycleMachine = sync.OnceValues(newLifecycleMachine)

// Lifecycle walks one batch through its states. It is not safe for concurrent use.
type Lifecycle struct {
	interp *statekit.Interpreter[*batchTrace]
	trace  *batchTrace
}

// NewLifecycle starts a lifecycle in the received state
func NewLifecycle() (*Lifecycle, error) {
	machine, err := lifecycleMachine()
	if err != nil {
		return nil, fmt.Errorf("unable to build batch lifecycle: %w", err)
	}
	trace := &batchTrace{Current: StateReceived}
	interp := statekit.NewInterpreter(machine)
	interp.UpdateContext(func(c **batchTrace) {
		*c = trace
	})
	interp.Start()
	return &Lifecycle{interp: interp, trace: trace}, nil
}

// State returns the current state
func (l *Lifecycle) State() BatchState {
	return BatchState(l.interp.State().Value)
}

// Done reports whether the batch reached returned or errored
func (l *Lifecycle) Done() bool {
	return l.interp.Done()
}

// Transitions returns the recorded state changes in order
func (l *Lifecycle) Transitions() []Transition {
	return append([]Transition(nil), l.trace.Transitions...)
}

func (l *Lifecycle) Expand() error    { return l.fire(eventExpand) }
func (l *Lifecycle) Schedule() error  { return l.fire(eventSchedule) }
func (l *Lifecycle) Render() error    { return l.fire(eventRender) }
func (l *Lifecycle) Aggregate() error { return l.fire(eventAggregate) }
func (l *Lifecycle) Return() error    { return l.fire(eventReturn) }
func (l *Lifecycle) Fail() error      { return l.fire(eventFail) }

func (l *Lifecycle) fire(event statekit.EventType) (err error) {
	from := l.State()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch lifecycle rejected %s in state %s: %v", event, from, r)
		}
	}()
	l.interp.Send(statekit.Event{Type: event})
	if to := l.State(); to == from || to != eventTargets[event] {
		return fmt.Errorf("batch lifecycle cannot handle %s in state %s", event, from)
	}
	return nil
}
