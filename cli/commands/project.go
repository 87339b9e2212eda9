package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/spf13/cobra"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/styles"
	"github.com/simara-svatopluk/event-sourcing-occurrent/guessgame"
)

// progressProjector is the projector of game progress views.
type progressProjector = occurrent.Projector[guessgame.GameProgress]

// NewProjectCommand creates the command that follows game progress.
func NewProjectCommand(global *globalOptions) *cobra.Command {
	var (
		mode    string
		id      string
		exit    bool
		rebuild bool
	)

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project game progress from the event stream",
		Long: `Subscribes a progress projector to all game events and prints a line for
every projected event until interrupted.

  live     only events appended from now on
  catchup  the whole history, then live events
  durable  resumes after the position stored for --id and stores it as it goes`,
		Example: `  guessgame project --mode durable --id game-progress
  guessgame project --mode catchup --exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := occurrent.ParseMode(mode)
			if err != nil {
				return err
			}

			s, err := global.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			projector := occurrent.NewProjector(guessgame.ProgressProjection(), s.Views,
				occurrent.WithProjectorLogger(s.Logger))
			handler := s.Handler(id, occurrent.WrapHandler(projector, printProgress(projector, out)))

			var h *occurrent.SubscriptionHandle
			if rebuild {
				h, err = s.Model.Rebuild(ctx, id, guessgame.Filter(), resettable{handler, projector})
			} else {
				h, err = s.Model.Subscribe(ctx, id, guessgame.Filter(), handler, occurrent.WithMode(m))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("Projecting %s (%s)", id, h.Mode())))

			if exit {
				if err := h.CatchUp(ctx); err != nil {
					return err
				}
				return printProgressTable(ctx, projector, out)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-h.Done():
				return h.Err()
			}
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "durable", "Subscription mode: live, catchup or durable")
	cmd.Flags().StringVar(&id, "id", guessgame.ProgressName, "Subscription id")
	cmd.Flags().BoolVar(&exit, "exit", false, "Exit once every stored event is projected")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Clear the views and replay the whole history durably, ignoring --mode")
	return cmd
}

// resettable runs a wrapped handler but resets the projector underneath it.
type resettable struct {
	occurrent.Handler
	projector *progressProjector
}

func (r resettable) Reset(ctx context.Context) error {
	return r.projector.Reset(ctx)
}

// printProgress prints the view of a stream after each event is projected.
func printProgress(p *progressProjector, w io.Writer) occurrent.HandlerMiddleware {
	var mu sync.Mutex
	return func(next occurrent.Handler) occurrent.Handler {
		return occurrent.HandlerFunc(func(ctx context.Context, event occurrent.Event) error {
			if err := next.Handle(ctx, event); err != nil {
				return err
			}
			view, found, err := p.Get(ctx, event.StreamID)
			if err != nil || !found {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(w, "%s %s %s guesses=%d %s\n",
				styles.Muted.Render(fmt.Sprintf("#%d", event.GlobalPosition)),
				view.GameID,
				styles.FormatState(string(view.State)),
				view.GuessesCount,
				view.Winner,
			)
			return nil
		})
	}
}

// printProgressTable prints every projected game ordered by id.
func printProgressTable(ctx context.Context, p *progressProjector, w io.Writer) error {
	views, err := p.All(ctx)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(views))
	for id := range views {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t := styles.NewTable("Game", "State", "Guesses", "Winner")
	for _, id := range ids {
		v := views[id]
		t.Row(v.GameID, styles.FormatState(string(v.State)), strconv.Itoa(v.GuessesCount), v.Winner)
	}
	fmt.Fprintln(w, t.String())
	return nil
}
