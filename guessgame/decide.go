package guessgame

import (
	"fmt"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
)

// Domain rules a command can violate.
var (
	ErrGameAlreadyStarted = occurrent.NewDomainError("game_already_started", "the game has already been started")
	ErrGameNotStarted     = occurrent.NewDomainError("game_not_started", "the game has not been started")
	ErrGameAlreadyWon     = occurrent.NewDomainError("game_already_won", "the word has already been guessed")
	ErrNotYourTurn        = occurrent.NewDomainError("not_your_turn", "the same player cannot guess twice in a row")
)

// Start opens a new game.
type Start struct {
	GameID string
	Word   string
}

// Guess submits a word on behalf of a player.
type Guess struct {
	GameID string
	Word   string
	Player string
}

// StartState is what a Start decision needs to know about a stream.
type StartState struct {
	Started bool
}

// GuessState is the fold a Guess decision runs against.
type GuessState struct {
	GameID     string
	Word       string
	Started    bool
	Winner     string
	LastPlayer string
}

// StartDecider rejects a second start of the same game.
var StartDecider = occurrent.Decider[StartState, Start, Event]{
	Initial: func() StartState { return StartState{} },
	Evolve: func(s StartState, e Event) StartState {
		if _, ok := e.(GameStarted); ok {
			s.Started = true
		}
		return s
	},
	Decide: func(s StartState, c Start) ([]Event, error) {
		if s.Started {
			return nil, fmt.Errorf("start %s: %w", c.GameID, ErrGameAlreadyStarted)
		}
		return []Event{GameStarted{GameID: c.GameID, WordToGuess: c.Word}}, nil
	},
}

// GuessDecider compares a guess with the secret word.
var GuessDecider = occurrent.Decider[GuessState, Guess, Event]{
	Initial: func() GuessState { return GuessState{} },
	Evolve:  evolveGuess,
	Decide:  decideGuess,
}

func evolveGuess(s GuessState, e Event) GuessState {
	switch e := e.(type) {
	case GameStarted:
		s.GameID = e.GameID
		s.Word = e.WordToGuess
		s.Started = true
	case GuessedWrongly:
		s.LastPlayer = e.Player
	case GuessedCorrectly:
		s.LastPlayer = e.Player
		s.Winner = e.Player
	}
	return s
}

func decideGuess(s GuessState, c Guess) ([]Event, error) {
	switch {
	case !s.Started:
		return nil, fmt.Errorf("guess in %s: %w", c.GameID, ErrGameNotStarted)
	case s.Winner != "":
		return nil, fmt.Errorf("guess in %s: %s won: %w", s.GameID, s.Winner, ErrGameAlreadyWon)
	case s.LastPlayer != "" && s.LastPlayer == c.Player:
		return nil, fmt.Errorf("guess in %s by %s: %w", s.GameID, c.Player, ErrNotYourTurn)
	}

	if c.Word == s.Word {
		return []Event{GuessedCorrectly{GameID: s.GameID, Guess: c.Word, Player: c.Player}}, nil
	}
	return []Event{GuessedWrongly{GameID: s.GameID, Guess: c.Word, Player: c.Player}}, nil
}

// DecideStart is StartDecider in its bare function form.
func DecideStart(events []Event, c Start) ([]Event, error) {
	return StartDecider.Run(events, c)
}

// DecideGuess is GuessDecider in its bare function form.
func DecideGuess(events []Event, c Guess) ([]Event, error) {
	return GuessDecider.Run(events, c)
}

var (
	_ occurrent.DecideFunc[Event, Start] = DecideStart
	_ occurrent.DecideFunc[Event, Guess] = DecideGuess
)
