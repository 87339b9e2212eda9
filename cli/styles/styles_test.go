package styles

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestFormatMessages(t *testing.T) {
	tests := []struct {
		name   string
		format func(string) string
		icon   string
	}{
		{"success", FormatSuccess, IconSuccess},
		{"error", FormatError, IconError},
		{"warning", FormatWarning, IconWarning},
		{"info", FormatInfo, IconInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.format("some message")
			assert.Contains(t, result, tt.icon)
			assert.Contains(t, result, "some message")
		})
	}
}

func TestFormatStep(t *testing.T) {
	result := FormatStep(12, 40, "doing something")
	assert.Contains(t, result, "[12/40]")
	assert.Contains(t, result, "doing something")
}

func TestFormatKeyValue(t *testing.T) {
	result := FormatKeyValue("Backend", "sqlite")
	assert.Contains(t, result, "Backend:")
	assert.Contains(t, result, "sqlite")
}

func TestFormatState(t *testing.T) {
	for _, state := range []string{"JustStarted", "InProgress", "Won"} {
		assert.Contains(t, FormatState(state), state)
	}
}

func TestNewTable(t *testing.T) {
	out := NewTable("Game", "State").
		Row("game-1", "Won").
		Row("game-2", "InProgress").
		String()

	assert.Contains(t, out, "Game")
	assert.Contains(t, out, "game-1")
	assert.Contains(t, out, "InProgress")
}

func TestDisableColors(t *testing.T) {
	palette := []*lipgloss.Color{&Primary, &Secondary, &Success, &Warning, &Error, &Info, &Text, &TextMuted, &Border}
	saved := make([]lipgloss.Color, len(palette))
	for i, c := range palette {
		saved[i] = *c
	}
	t.Cleanup(func() {
		for i, c := range palette {
			*c = saved[i]
		}
		build()
	})

	DisableColors()

	assert.Equal(t, "", string(Primary))
	assert.Equal(t, "", string(Success))
	assert.Contains(t, FormatSuccess("done"), "done")
}
