package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/styles"
	"github.com/simara-svatopluk/event-sourcing-occurrent/guessgame"
)

// NewDemoCommand creates the command that writes and projects games in one process.
func NewDemoCommand(global *globalOptions) *cobra.Command {
	opts := &writeOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Play games and project them in one process",
		Long: `Starts a durable progress projector, plays random games while it runs,
waits until the projector caught up and prints the projected progress.
Works on every backend, including memory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := global.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			projector := occurrent.NewProjector(guessgame.ProgressProjection(), s.Views,
				occurrent.WithProjectorLogger(s.Logger))
			h, err := s.Model.Subscribe(ctx, guessgame.ProgressName, guessgame.Filter(),
				s.Handler(guessgame.ProgressName, projector), occurrent.WithMode(occurrent.ModeDurable))
			if err != nil {
				return err
			}
			if err := h.WaitUntilRunning(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, styles.FormatInfo("Projector running, playing games"))

			if _, err := writeGames(ctx, s.Commands, out, opts); err != nil {
				return err
			}
			if err := h.CatchUp(ctx); err != nil {
				return err
			}

			fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf("Projected up to position %d", h.Position())))
			return printProgressTable(ctx, projector, out)
		},
	}
	opts.addFlags(cmd, 5)
	return cmd
}
