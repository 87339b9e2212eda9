package occurrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilters(t *testing.T) {
	started := StoredEvent{StreamID: "game-1", Type: "GameStarted", Metadata: Metadata{Source: "com.fairtiq.guessGame"}}
	added := StoredEvent{StreamID: "cart-9", Type: "itemAdded", Metadata: Metadata{Source: "shop"}}

	tests := []struct {
		name    string
		filter  Filter
		started bool
		added   bool
	}{
		{"all", FilterAll(), true, true},
		{"types", FilterEventTypes("GameStarted", "GuessedWrongly"), true, false},
		{"no types", FilterEventTypes(), false, false},
		{"source", FilterSource("com.fairtiq.guessGame"), true, false},
		{"category", FilterCategory("cart"), false, true},
		{"stream", FilterStream("game-1"), true, false},
		{"and", And(FilterSource("shop"), FilterCategory("cart")), false, true},
		{"and mismatch", And(FilterSource("shop"), FilterCategory("game")), false, false},
		{"empty and", And(), true, true},
		{"or", Or(FilterStream("game-1"), FilterEventTypes("itemAdded")), true, true},
		{"empty or", Or(), false, false},
		{"func", FilterFunc(func(e StoredEvent) bool { return len(e.Type) > 10 }), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.started, tt.filter.Matches(started))
			assert.Equal(t, tt.added, tt.filter.Matches(added))
		})
	}
}
