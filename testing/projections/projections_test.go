package projections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/testing/testutil"
)

type wordPicked struct {
	Word string `json:"word"`
}

type wordGuessed struct {
	Word string `json:"word"`
}

type tally struct {
	Stream  string   `json:"stream"`
	Word    string   `json:"word"`
	Guesses []string `json:"guesses"`
}

func tallyProjection() occurrent.Projection[tally] {
	return occurrent.Projection[tally]{
		Name:    "tally",
		Initial: func(streamID string) tally { return tally{Stream: streamID} },
		Apply: func(_ string, event occurrent.Event, view tally) tally {
			switch e := event.Data.(type) {
			case wordPicked:
				view.Word = e.Word
			case wordGuessed:
				view.Guesses = append(append([]string(nil), view.Guesses...), e.Word)
			}
			return view
		},
	}
}

func TestProjectionFixture(t *testing.T) {
	f := TestProjection(t, tallyProjection()).
		GivenEvents("game-1", wordPicked{Word: "dog"}, wordGuessed{Word: "cat"}).
		GivenEvents("game-2", wordPicked{Word: "owl"}).
		GivenEvents("game-1", wordGuessed{Word: "dog"})

	f.ThenView("game-1", tally{Stream: "game-1", Word: "dog", Guesses: []string{"cat", "dog"}}).
		ThenViewMatches("game-2", func(t TB, view tally) {
			assert.Equal(t, "owl", view.Word)
			assert.Empty(t, view.Guesses)
		}).
		ThenNoView("game-3").
		ThenViewCount(2).
		ThenAppliedVersion("game-1", 3).
		ThenAppliedVersion("game-2", 1)

	delivered := f.Delivered()
	require.Len(t, delivered, 4)
	assert.Equal(t, uint64(4), delivered[3].GlobalPosition)
	assert.Equal(t, wordGuessed{Word: "dog"}, delivered[3].Data)
}

func TestProjectionFixture_Redelivery(t *testing.T) {
	f := TestProjection(t, tallyProjection()).
		GivenEvents("game-1", wordPicked{Word: "dog"}, wordGuessed{Word: "cat"})

	first := f.Delivered()[1]
	f.Deliver(first).Deliver(first)

	f.ThenView("game-1", tally{Stream: "game-1", Word: "dog", Guesses: []string{"cat"}})
}

func TestProjectionFixture_Failures(t *testing.T) {
	tests := []struct {
		name  string
		run   func(tb TB)
		fatal bool
	}{
		{"view mismatch", func(tb TB) {
			TestProjection(tb, tallyProjection()).
				GivenEvents("game-1", wordPicked{Word: "dog"}).
				ThenView("game-1", tally{Stream: "game-1", Word: "cat"})
		}, false},
		{"missing view", func(tb TB) {
			TestProjection(tb, tallyProjection()).ThenView("game-1", tally{})
		}, true},
		{"unexpected view", func(tb TB) {
			TestProjection(tb, tallyProjection()).
				GivenEvents("game-1", wordPicked{Word: "dog"}).
				ThenNoView("game-1")
		}, false},
		{"wrong count", func(tb TB) {
			TestProjection(tb, tallyProjection()).ThenViewCount(1)
		}, false},
		{"wrong version", func(tb TB) {
			TestProjection(tb, tallyProjection()).
				GivenEvents("game-1", wordPicked{Word: "dog"}).
				ThenAppliedVersion("game-1", 2)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := testutil.CaptureTB(func(tb *testutil.RecordingTB) { tt.run(tb) })
			assert.True(t, tb.Failed())
			assert.Equal(t, tt.fatal, tb.Fataled())
		})
	}
}
