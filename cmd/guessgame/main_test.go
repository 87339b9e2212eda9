package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/commands"
)

// TestVersionVariables tests the defaults used without ldflags.
func TestVersionVariables(t *testing.T) {
	assert.Equal(t, "dev", version)
	assert.Equal(t, "none", commit)
	assert.Equal(t, "unknown", buildDate)
}

func TestVersionAssignment(t *testing.T) {
	origVersion, origCommit, origBuildDate := commands.Version, commands.Commit, commands.BuildDate
	t.Cleanup(func() {
		commands.Version, commands.Commit, commands.BuildDate = origVersion, origCommit, origBuildDate
	})

	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	assert.Equal(t, "dev", commands.Version)
	assert.Equal(t, "none", commands.Commit)
	assert.Equal(t, "unknown", commands.BuildDate)
}
