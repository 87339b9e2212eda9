package occurrent

// DecideFunc decides which events a command produces given the prior events of a stream.
// It must be pure: equal inputs yield equal outputs and no I/O happens.
type DecideFunc[E, C any] func(events []E, command C) ([]E, error)

// Decider is the fold-then-decide protocol over a stream's history.
// Initial yields the state of an empty stream, Evolve folds a single event into
// the state and Decide turns a command into new events or a domain error.
type Decider[S, C, E any] struct {
	Initial func() S
	Evolve  func(state S, event E) S
	Decide  func(state S, command C) ([]E, error)
}

// Fold applies evolve to every event from left to right.
func Fold[S, E any](initial S, events []E, evolve func(S, E) S) S {
	state := initial
	for _, e := range events {
		state = evolve(state, e)
	}
	return state
}

// State folds events into the decider's state.
func (d Decider[S, C, E]) State(events []E) S {
	return Fold(d.Initial(), events, d.Evolve)
}

// Run folds events and decides the command against the resulting state.
func (d Decider[S, C, E]) Run(events []E, command C) ([]E, error) {
	return d.Decide(d.State(events), command)
}

// Func adapts the decider to the bare DecideFunc shape.
func (d Decider[S, C, E]) Func() DecideFunc[E, C] {
	return d.Run
}
