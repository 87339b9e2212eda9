// Package assertions compares decided and stored events in tests.
package assertions

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
)

// TB is testing.TB, aliased so failures can be captured in tests.
type TB = testing.TB

// AssertEventTypes checks that events carry the given type names in order.
func AssertEventTypes(t TB, events []interface{}, types ...string) {
	t.Helper()

	if len(events) != len(types) {
		t.Fatalf("expected %d events, got %d: %v", len(types), len(events), TypeNames(events))
	}
	for i, want := range types {
		if got := occurrent.GetEventType(events[i]); got != want {
			t.Errorf("event %d: expected type %s, got %s", i, want, got)
		}
	}
}

// AssertStreamVersions checks that a stream read starts at from and has no gaps.
func AssertStreamVersions(t TB, events []occurrent.Event, from int64) {
	t.Helper()

	for i, e := range events {
		if want := from + int64(i); e.Version != want {
			t.Errorf("event %d of %s: expected version %d, got %d", i, e.StreamID, want, e.Version)
		}
	}
}

// AssertPositionsIncrease checks that global positions strictly increase.
func AssertPositionsIncrease(t TB, events []occurrent.Event) {
	t.Helper()

	for i := 1; i < len(events); i++ {
		if events[i].GlobalPosition <= events[i-1].GlobalPosition {
			t.Errorf("event %d: position %d does not follow %d",
				i, events[i].GlobalPosition, events[i-1].GlobalPosition)
		}
	}
}

// TypeNames lists the event type name of every event.
func TypeNames(events []interface{}) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = occurrent.GetEventType(e)
	}
	return names
}

// DiffType classifies a single event difference.
type DiffType int

const (
	DiffMismatch DiffType = iota
	DiffMissing
	DiffExtra
)

func (d DiffType) String() string {
	switch d {
	case DiffMismatch:
		return "mismatch"
	case DiffMissing:
		return "missing"
	case DiffExtra:
		return "extra"
	default:
		return "unknown"
	}
}

// EventDiff is one difference between an expected and an actual event list.
type EventDiff struct {
	Index    int
	Expected interface{}
	Actual   interface{}
	Type     DiffType
}

// DiffEvents compares expected and actual events position by position.
func DiffEvents(expected, actual []interface{}) []EventDiff {
	var diffs []EventDiff

	n := max(len(expected), len(actual))
	for i := 0; i < n; i++ {
		switch {
		case i >= len(expected):
			diffs = append(diffs, EventDiff{Index: i, Actual: actual[i], Type: DiffExtra})
		case i >= len(actual):
			diffs = append(diffs, EventDiff{Index: i, Expected: expected[i], Type: DiffMissing})
		case !reflect.DeepEqual(expected[i], actual[i]):
			diffs = append(diffs, EventDiff{Index: i, Expected: expected[i], Actual: actual[i], Type: DiffMismatch})
		}
	}
	return diffs
}

// FormatDiffs renders diffs for a failure message.
func FormatDiffs(diffs []EventDiff) string {
	if len(diffs) == 0 {
		return "no differences"
	}

	var b strings.Builder
	b.WriteString("event differences:\n")
	for _, d := range diffs {
		fmt.Fprintf(&b, "  event %d (%s):\n", d.Index, d.Type)
		if d.Type != DiffExtra {
			fmt.Fprintf(&b, "    - %T %+v\n", d.Expected, d.Expected)
		}
		if d.Type != DiffMissing {
			fmt.Fprintf(&b, "    + %T %+v\n", d.Actual, d.Actual)
		}
	}
	return b.String()
}

// AssertEventsEqual fails with a diff when the two event lists differ.
func AssertEventsEqual(t TB, expected, actual []interface{}) {
	t.Helper()

	if diffs := DiffEvents(expected, actual); len(diffs) > 0 {
		t.Error(FormatDiffs(diffs))
	}
}
