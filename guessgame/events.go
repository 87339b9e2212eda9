// Package guessgame is a small word-guessing domain built on the occurrent
// decision engine. Players take turns guessing a secret word until one of
// them finds it.
package guessgame

// Event is implemented by every event of the game.
type Event interface {
	gameEvent()
}

// GameStarted opens a game with the word the players have to find.
type GameStarted struct {
	GameID      string `json:"gameId"`
	WordToGuess string `json:"wordToGuess"`
}

// GuessedCorrectly is recorded when a player finds the word. It ends the game.
type GuessedCorrectly struct {
	GameID string `json:"gameId"`
	Guess  string `json:"guess"`
	Player string `json:"player"`
}

// GuessedWrongly is recorded for every miss.
type GuessedWrongly struct {
	GameID string `json:"gameId"`
	Guess  string `json:"guess"`
	Player string `json:"player"`
}

func (GameStarted) gameEvent()      {}
func (GuessedCorrectly) gameEvent() {}
func (GuessedWrongly) gameEvent()   {}

// Registry maps event type names to Go types. *occurrent.EventStore satisfies it.
type Registry interface {
	RegisterEvents(examples ...interface{})
}

// Events returns one zero value of every game event.
func Events() []interface{} {
	return []interface{}{GameStarted{}, GuessedCorrectly{}, GuessedWrongly{}}
}

// RegisterEvents registers the game events under their struct names.
func RegisterEvents(r Registry) {
	r.RegisterEvents(Events()...)
}
