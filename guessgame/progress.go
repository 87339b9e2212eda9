package guessgame

import (
	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
)

// ProgressName is the view store name of the progress projection.
const ProgressName = "game-progress"

// State is the stage a game is in.
type State string

const (
	JustStarted State = "JustStarted"
	InProgress  State = "InProgress"
	Won         State = "Won"
)

// GameProgress is the read model of one game.
type GameProgress struct {
	GameID       string `json:"gameId"`
	State        State  `json:"state"`
	GuessesCount int    `json:"guessesCount"`
	Winner       string `json:"winner,omitempty"`
}

// ProgressProjection folds game streams into GameProgress views.
func ProgressProjection() occurrent.Projection[GameProgress] {
	return occurrent.Projection[GameProgress]{
		Name: ProgressName,
		Initial: func(streamID string) GameProgress {
			return GameProgress{GameID: streamID, State: JustStarted}
		},
		Apply: applyProgress,
	}
}

func applyProgress(_ string, event occurrent.Event, view GameProgress) GameProgress {
	switch e := event.Data.(type) {
	case GameStarted:
		view.GameID = e.GameID
		view.State = JustStarted
	case GuessedWrongly:
		view.State = InProgress
		view.GuessesCount++
	case GuessedCorrectly:
		view.State = Won
		view.GuessesCount++
		view.Winner = e.Player
	}
	return view
}

// Filter matches the events of the game.
func Filter() occurrent.Filter {
	return occurrent.FilterEventTypes("GameStarted", "GuessedCorrectly", "GuessedWrongly")
}
