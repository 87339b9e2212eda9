package bdd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters/memory"
	"github.com/simara-svatopluk/event-sourcing-occurrent/testing/testutil"
)

type counted struct {
	By int `json:"by"`
}

type increment struct {
	By int
}

var errLimit = occurrent.NewDomainError("limit_reached", "counter limit reached")

// counter accepts increments up to a total of 10.
var counter = occurrent.Decider[int, increment, counted]{
	Initial: func() int { return 0 },
	Evolve:  func(total int, e counted) int { return total + e.By },
	Decide: func(total int, c increment) ([]counted, error) {
		if c.By == 0 {
			return nil, nil
		}
		if total+c.By > 10 {
			return nil, errLimit
		}
		return []counted{{By: c.By}}, nil
	},
}

func TestDeciderFixture(t *testing.T) {
	t.Run("then", func(t *testing.T) {
		Given(t, counter, counted{By: 2}).
			When(increment{By: 3}).
			Then(counted{By: 3}).
			ThenState(func(t TB, total int) {
				assert.Equal(t, 5, total)
			})
	})

	t.Run("no events", func(t *testing.T) {
		Given(t, counter).When(increment{}).ThenNoEvents()
	})

	t.Run("error", func(t *testing.T) {
		Given(t, counter, counted{By: 9}).When(increment{By: 2}).ThenError(errLimit)
		Given(t, counter, counted{By: 9}).When(increment{By: 2}).ThenError(occurrent.ErrDomainRuleViolation)
		Given(t, counter, counted{By: 9}).When(increment{By: 2}).ThenErrorContains("limit reached")
	})
}

func TestDeciderFixture_Failures(t *testing.T) {
	tests := []struct {
		name  string
		run   func(tb TB)
		fatal bool
	}{
		{"wrong events", func(tb TB) { Given(tb, counter).When(increment{By: 1}).Then(counted{By: 2}) }, false},
		{"unexpected error", func(tb TB) { Given(tb, counter, counted{By: 10}).When(increment{By: 1}).Then() }, true},
		{"unexpected success", func(tb TB) { Given(tb, counter).When(increment{By: 1}).ThenError(errLimit) }, true},
		{"wrong error", func(tb TB) {
			Given(tb, counter, counted{By: 10}).When(increment{By: 1}).ThenError(errors.New("other"))
		}, false},
		{"events where none expected", func(tb TB) { Given(tb, counter).When(increment{By: 1}).ThenNoEvents() }, false},
		{"then before when", func(tb TB) { Given(tb, counter).Then() }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := testutil.CaptureTB(func(tb *testutil.RecordingTB) { tt.run(tb) })
			assert.True(t, tb.Failed())
			assert.Equal(t, tt.fatal, tb.Fataled())
		})
	}
}

func newService(t *testing.T) *occurrent.CommandService {
	t.Helper()
	store := occurrent.New(memory.NewAdapter())
	store.RegisterEvents(counted{})
	return occurrent.NewCommandService(store)
}

func TestStreamFixture(t *testing.T) {
	t.Run("appends after history", func(t *testing.T) {
		f := GivenStream(t, newService(t), "counter-1", counter, counted{By: 4}, counted{By: 1}).
			When(increment{By: 2}).
			ThenAppended(counted{By: 2}).
			ThenVersion(3).
			ThenStream(counted{By: 4}, counted{By: 1}, counted{By: 2})

		assert.Equal(t, "counter-1", f.Result().StreamID)
		assert.Equal(t, 1, f.Result().Attempts)
	})

	t.Run("empty stream", func(t *testing.T) {
		GivenStream(t, newService(t), "counter-2", counter).
			When(increment{By: 1}).
			ThenAppended(counted{By: 1}).
			ThenVersion(1)
	})

	t.Run("rejection leaves the stream untouched", func(t *testing.T) {
		f := GivenStream(t, newService(t), "counter-3", counter, counted{By: 10}).
			When(increment{By: 1})
		f.ThenFails(errLimit)
		f.ThenStream(counted{By: 10})
	})

	t.Run("wrong stream content", func(t *testing.T) {
		tb := testutil.CaptureTB(func(tb *testutil.RecordingTB) {
			GivenStream(tb, newService(t), "counter-4", counter).
				When(increment{By: 1}).
				ThenStream(counted{By: 5})
		})
		require.True(t, tb.Failed())
		assert.Contains(t, tb.Messages()[0], "mismatch")
	})
}
