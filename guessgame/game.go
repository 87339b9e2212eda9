package guessgame

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
)

// Words is the pool random games draw from.
var Words = []string{
	"horizon", "cascade", "ember", "whisper", "compass",
	"harbor", "journey", "meadow", "serenity", "anchor",
	"twilight", "echo", "velocity", "wander", "silhouette",
	"haven", "momentum", "radiant", "solace", "pulse",
}

// Players take part in every random game.
var Players = []string{"Roberto", "Viturin"}

// RandomGuesses is how many words a random game tries.
const RandomGuesses = 5

// ErrNotEnoughPlayers is returned when a game is played with fewer than two players.
var ErrNotEnoughPlayers = errors.New("guessgame: at least two players are required")

// Game plays one stream through a command service.
type Game struct {
	ID      string
	Players []string

	svc  *occurrent.CommandService
	last string
}

// Result summarizes a finished game.
type Result struct {
	GameID  string
	Word    string
	Guesses int
	Winner  string
	Version int64
}

// NewGame returns a game on stream id with players taking turns in the given order.
func NewGame(svc *occurrent.CommandService, id string, players ...string) (*Game, error) {
	if len(players) < 2 {
		return nil, ErrNotEnoughPlayers
	}
	return &Game{ID: id, Players: players, svc: svc}, nil
}

// Start opens the game.
func (g *Game) Start(ctx context.Context, word string) (occurrent.CommandResult, error) {
	return occurrent.Handle(ctx, g.svc, g.ID, StartDecider, Start{GameID: g.ID, Word: word})
}

// Next returns the player whose turn it is.
func (g *Game) Next() string {
	for i, p := range g.Players {
		if p == g.last {
			return g.Players[(i+1)%len(g.Players)]
		}
	}
	return g.Players[0]
}

// Guess submits word for the player whose turn it is and reports whether it was correct.
func (g *Game) Guess(ctx context.Context, word string) (bool, occurrent.CommandResult, error) {
	player := g.Next()
	result, err := occurrent.Handle(ctx, g.svc, g.ID, GuessDecider, Guess{GameID: g.ID, Word: word, Player: player})
	if err != nil {
		return false, result, err
	}
	g.last = player

	for _, e := range result.Events {
		if _, ok := e.(GuessedCorrectly); ok {
			return true, result, nil
		}
	}
	return false, result, nil
}

// PlayGame starts gameID with word and lets players guess in turn until one
// of them is right or the guesses run out.
func PlayGame(ctx context.Context, svc *occurrent.CommandService, gameID, word string, players, guesses []string) (Result, error) {
	game, err := NewGame(svc, gameID, players...)
	if err != nil {
		return Result{}, err
	}

	res := Result{GameID: gameID, Word: word}
	started, err := game.Start(ctx, word)
	if err != nil {
		return res, err
	}
	res.Version = started.Version

	for _, guess := range guesses {
		player := game.Next()
		correct, result, err := game.Guess(ctx, guess)
		if err != nil {
			return res, fmt.Errorf("guess %d: %w", res.Guesses+1, err)
		}
		res.Guesses++
		res.Version = result.Version
		if correct {
			res.Winner = player
			break
		}
	}
	return res, nil
}

// PlayRandomGame plays gameID with a few shuffled words from Words, one of
// which is the secret.
func PlayRandomGame(ctx context.Context, svc *occurrent.CommandService, gameID string, rnd *rand.Rand) (Result, error) {
	words := append([]string(nil), Words...)
	rnd.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	guesses := words[:RandomGuesses]
	secret := guesses[rnd.IntN(len(guesses))]

	return PlayGame(ctx, svc, gameID, secret, Players, guesses)
}
