package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
)

// NewStreamCommand creates the command that prints a stream as CloudEvents.
func NewStreamCommand(global *globalOptions) *cobra.Command {
	var (
		from    int64
		compact bool
	)

	cmd := &cobra.Command{
		Use:   "stream <game-id>",
		Short: "Print the events of a game as CloudEvents JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := global.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			streamID := args[0]
			events, err := s.Store.ReadRaw(cmd.Context(), streamID, from)
			if err != nil {
				return err
			}
			if len(events) == 0 && from == 0 {
				return fmt.Errorf("%s: %w", streamID, occurrent.ErrStreamNotFound)
			}

			codec := occurrent.NewCloudEventCodec(s.Config.Event.Source)
			out := cmd.OutOrStdout()
			for _, event := range events {
				var data []byte
				if compact {
					data, err = codec.Encode(event)
				} else {
					data, err = json.MarshalIndent(codec.Envelope(event), "", "  ")
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&from, "from", 0, "Print events after this stream version")
	cmd.Flags().BoolVar(&compact, "compact", false, "One envelope per line")
	return cmd
}
