// Package bdd provides Given-When-Then fixtures for deciders.
//
// A DeciderFixture runs a decider purely in memory. A StreamFixture runs the
// same decider through a CommandService so the store's concurrency rules and
// serialization are part of the scenario.
package bdd

import (
	"context"
	"errors"
	"strings"
	"testing"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/testing/assertions"
)

// TB is testing.TB, aliased so failures can be captured in tests.
type TB = testing.TB

// DeciderFixture is a pure scenario over a decider.
type DeciderFixture[S, C, E any] struct {
	t        TB
	decider  occurrent.Decider[S, C, E]
	given    []E
	decided  []E
	err      error
	executed bool
}

// Given starts a scenario from the history events.
func Given[S, C, E any](t TB, decider occurrent.Decider[S, C, E], events ...E) *DeciderFixture[S, C, E] {
	t.Helper()
	return &DeciderFixture[S, C, E]{t: t, decider: decider, given: events}
}

// When decides command against the given history.
func (f *DeciderFixture[S, C, E]) When(command C) *DeciderFixture[S, C, E] {
	f.t.Helper()
	f.decided, f.err = f.decider.Run(f.given, command)
	f.executed = true
	return f
}

func (f *DeciderFixture[S, C, E]) requireExecuted(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("bdd: %s called before When", step)
	}
}

// Then asserts the command succeeded with exactly the expected events.
func (f *DeciderFixture[S, C, E]) Then(expected ...E) *DeciderFixture[S, C, E] {
	f.t.Helper()
	f.requireExecuted("Then")

	if f.err != nil {
		f.t.Fatalf("expected success, got error: %v", f.err)
	}
	assertions.AssertEventsEqual(f.t, boxed(expected), boxed(f.decided))
	return f
}

// ThenNoEvents asserts the command succeeded without deciding anything.
func (f *DeciderFixture[S, C, E]) ThenNoEvents() {
	f.t.Helper()
	f.requireExecuted("ThenNoEvents")

	if f.err != nil {
		f.t.Fatalf("expected success, got error: %v", f.err)
	}
	if len(f.decided) > 0 {
		f.t.Errorf("expected no events, got %d: %v", len(f.decided), assertions.TypeNames(boxed(f.decided)))
	}
}

// ThenState asserts the state folded from the history plus the decided events.
func (f *DeciderFixture[S, C, E]) ThenState(check func(t TB, state S)) {
	f.t.Helper()
	f.requireExecuted("ThenState")

	history := append(append([]E(nil), f.given...), f.decided...)
	check(f.t, f.decider.State(history))
}

// ThenError asserts the command was rejected with an error matching target.
func (f *DeciderFixture[S, C, E]) ThenError(target error) {
	f.t.Helper()
	f.requireExecuted("ThenError")
	expectError(f.t, f.err, target)
	if len(f.decided) > 0 {
		f.t.Errorf("rejected command decided %d events", len(f.decided))
	}
}

// ThenErrorContains asserts the rejection message contains substr.
func (f *DeciderFixture[S, C, E]) ThenErrorContains(substr string) {
	f.t.Helper()
	f.requireExecuted("ThenErrorContains")

	if f.err == nil {
		f.t.Fatal("expected an error, got success")
	}
	if !strings.Contains(f.err.Error(), substr) {
		f.t.Errorf("expected error containing %q, got %q", substr, f.err.Error())
	}
}

// StreamFixture is a scenario executed through a CommandService.
type StreamFixture[S, C, E any] struct {
	t        TB
	ctx      context.Context
	svc      *occurrent.CommandService
	streamID string
	decider  occurrent.Decider[S, C, E]
	given    []E
	result   occurrent.CommandResult
	err      error
	executed bool
}

// GivenStream starts a scenario whose history is appended to streamID first.
// The event types must already be registered with the service's store.
func GivenStream[S, C, E any](t TB, svc *occurrent.CommandService, streamID string, decider occurrent.Decider[S, C, E], events ...E) *StreamFixture[S, C, E] {
	t.Helper()
	return &StreamFixture[S, C, E]{
		t:        t,
		ctx:      context.Background(),
		svc:      svc,
		streamID: streamID,
		decider:  decider,
		given:    events,
	}
}

// WithContext sets the context commands run with.
func (f *StreamFixture[S, C, E]) WithContext(ctx context.Context) *StreamFixture[S, C, E] {
	f.ctx = ctx
	return f
}

// When appends the history and handles command.
func (f *StreamFixture[S, C, E]) When(command C) *StreamFixture[S, C, E] {
	f.t.Helper()

	if len(f.given) > 0 {
		if _, err := f.svc.Store().Append(f.ctx, f.streamID, occurrent.AnyVersion, boxed(f.given)...); err != nil {
			f.t.Fatalf("failed to append given events to %s: %v", f.streamID, err)
		}
		f.given = nil
	}

	f.result, f.err = occurrent.Handle(f.ctx, f.svc, f.streamID, f.decider, command)
	f.executed = true
	return f
}

func (f *StreamFixture[S, C, E]) requireExecuted(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("bdd: %s called before When", step)
	}
}

// ThenAppended asserts the command appended exactly the expected events.
func (f *StreamFixture[S, C, E]) ThenAppended(expected ...E) *StreamFixture[S, C, E] {
	f.t.Helper()
	f.requireExecuted("ThenAppended")

	if f.err != nil {
		f.t.Fatalf("expected success, got error: %v", f.err)
	}
	assertions.AssertEventsEqual(f.t, boxed(expected), f.result.Events)
	return f
}

// ThenVersion asserts the stream version after the command.
func (f *StreamFixture[S, C, E]) ThenVersion(expected int64) *StreamFixture[S, C, E] {
	f.t.Helper()
	f.requireExecuted("ThenVersion")

	if f.result.Version != expected {
		f.t.Errorf("expected version %d, got %d", expected, f.result.Version)
	}
	return f
}

// ThenStream asserts the full stream content after the command.
func (f *StreamFixture[S, C, E]) ThenStream(expected ...E) *StreamFixture[S, C, E] {
	f.t.Helper()
	f.requireExecuted("ThenStream")

	events, err := f.svc.Store().Read(f.ctx, f.streamID, 0)
	if err != nil {
		f.t.Fatalf("failed to read %s: %v", f.streamID, err)
	}
	assertions.AssertStreamVersions(f.t, events, 1)
	assertions.AssertEventsEqual(f.t, boxed(expected), occurrent.Payloads(events))
	return f
}

// ThenFails asserts the command was rejected with an error matching target.
func (f *StreamFixture[S, C, E]) ThenFails(target error) {
	f.t.Helper()
	f.requireExecuted("ThenFails")
	expectError(f.t, f.err, target)
}

// Result returns the command result for further assertions.
func (f *StreamFixture[S, C, E]) Result() occurrent.CommandResult {
	return f.result
}

func expectError(t TB, err, target error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got success")
	}
	if !errors.Is(err, target) {
		t.Errorf("expected error %v, got %v", target, err)
	}
}

func boxed[E any](events []E) []interface{} {
	out := make([]interface{}, len(events))
	for i, e := range events {
		out[i] = e
	}
	return out
}
