package commands

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/styles"
	"github.com/simara-svatopluk/event-sourcing-occurrent/guessgame"
)

// writeOptions control how random games are played.
type writeOptions struct {
	games int
	start int
	seed  uint64
	delay time.Duration
}

func (o *writeOptions) addFlags(cmd *cobra.Command, games int) {
	cmd.Flags().IntVarP(&o.games, "games", "n", games, "Number of games to play")
	cmd.Flags().IntVar(&o.start, "start", 1, "Number of the first game, games are named game-<n>")
	cmd.Flags().Uint64Var(&o.seed, "seed", 0, "Random seed (default: random)")
	cmd.Flags().DurationVar(&o.delay, "delay", 0, "Pause between games")
}

func (o *writeOptions) rand() *rand.Rand {
	seed := o.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed))
}

// NewWriteCommand creates the command that plays random games.
func NewWriteCommand(global *globalOptions) *cobra.Command {
	opts := &writeOptions{}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Play random games through the command service",
		Long: `Plays random games. Every guess is a command: the stream is read, the
guess is decided against the folded game state and the resulting event is
appended at the version that was read.`,
		Example: `  guessgame write --games 10
  guessgame write --backend sqlite --database-url games.db --start 11 --delay 500ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := global.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			_, err = writeGames(cmd.Context(), s.Commands, cmd.OutOrStdout(), opts)
			return err
		},
	}
	opts.addFlags(cmd, 1)
	return cmd
}

// writeGames plays opts.games random games and reports each one to w.
func writeGames(ctx context.Context, svc *occurrent.CommandService, w io.Writer, opts *writeOptions) ([]guessgame.Result, error) {
	rnd := opts.rand()
	results := make([]guessgame.Result, 0, opts.games)

	for i := 0; i < opts.games; i++ {
		if i > 0 && opts.delay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(opts.delay):
			}
		}

		gameID := fmt.Sprintf("game-%d", opts.start+i)
		result, err := guessgame.PlayRandomGame(ctx, svc, gameID, rnd)
		if err != nil {
			return results, fmt.Errorf("play %s: %w", gameID, err)
		}
		results = append(results, result)
		fmt.Fprintln(w, styles.FormatStep(i+1, opts.games, describeResult(result)))
	}
	return results, nil
}

func describeResult(r guessgame.Result) string {
	if r.Winner == "" {
		return fmt.Sprintf("%s: nobody found %q in %d guesses", r.GameID, r.Word, r.Guesses)
	}
	return fmt.Sprintf("%s: %s found %q after %d guesses", r.GameID, r.Winner, r.Word, r.Guesses)
}
