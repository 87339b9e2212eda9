// Package occurrent provides an event-sourcing substrate for Go applications.
//
// It couples an append-only, per-stream event log guarded by optimistic
// concurrency with a pure decision protocol and a subscription model that turns
// the log into materialized read models.
//
// # Event Store
//
// Create an event store with the in-memory adapter for development:
//
//	store := occurrent.New(memory.NewAdapter(), occurrent.WithSource("com.fairtiq.guessGame"))
//	store.RegisterEvents(GameStarted{}, GuessedCorrectly{}, GuessedWrongly{})
//
//	version, err := store.Append(ctx, "game-1", occurrent.NoStream, GameStarted{GameID: "game-1", WordToGuess: "wolf"})
//
// Append succeeds only when the stream is at the expected version. A racing writer
// receives an error matching ErrConcurrencyConflict and nothing is written.
//
// # Decisions
//
// A Decider folds prior events into a private state and decides which events a
// command produces. Deciders are pure: they perform no I/O.
//
//	decider := occurrent.Decider[state, Start, any]{
//	    Initial: func() state { return state{} },
//	    Evolve:  evolve,
//	    Decide:  decide,
//	}
//	events, err := decider.Run(history, Start{GameID: "game-1", Word: "wolf"})
//
// A CommandService runs the read, decide and append cycle and retries it when a
// concurrent writer wins the race.
//
// # Subscriptions and Projections
//
// A SubscriptionModel delivers stored events to handlers in one of three modes:
// ModeLive, ModeCatchUp and ModeDurable. Durable subscriptions persist their global
// position after each handled event and resume from it after a restart.
//
//	model := occurrent.NewSubscriptionModel(store, occurrent.WithPositionStorage(positions))
//	projector := occurrent.NewProjector(progressProjection, views)
//	handle, err := model.Subscribe(ctx, "game-progress", occurrent.FilterAll(), projector,
//	    occurrent.WithMode(occurrent.ModeDurable))
//	err = handle.WaitUntilRunning(ctx)
//
// Delivery is at-least-once. A Projector keeps the last applied stream version next
// to every view and skips redelivered events, so redelivery has no visible effect.
package occurrent

// Version returns the library version.
func Version() string {
	return "0.4.0"
}
