// guessgame plays and projects an event-sourced word guessing game.
//
// Usage:
//
//	guessgame <command> [flags]
//
// Commands:
//
//	write    Play random games through the command service
//	project  Project game progress (live, catchup or durable)
//	demo     Play games and project them in one process
//	stream   Print the events of a game as CloudEvents JSON
//	relay    Forward game events to Kafka or SNS
//	version  Show version information
//
// Examples:
//
//	# Everything in memory
//	guessgame demo --games 10
//
//	# Write to sqlite, project in another process
//	guessgame write --backend sqlite --database-url games.db --games 5
//	guessgame project --backend sqlite --database-url games.db --mode durable
package main

import (
	"os"

	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
