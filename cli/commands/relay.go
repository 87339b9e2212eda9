package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/spf13/cobra"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/config"
	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/styles"
	"github.com/simara-svatopluk/event-sourcing-occurrent/guessgame"
	"github.com/simara-svatopluk/event-sourcing-occurrent/relay"
	relaykafka "github.com/simara-svatopluk/event-sourcing-occurrent/relay/kafka"
	relaysns "github.com/simara-svatopluk/event-sourcing-occurrent/relay/sns"
)

// Relay destinations.
const (
	RelayKafka = "kafka"
	RelaySNS   = "sns"
)

// publisher is a relay handler that owns a broker connection.
type publisher interface {
	occurrent.Handler
	io.Closer
}

type snsPublisher struct {
	*relaysns.Publisher
}

func (snsPublisher) Close() error { return nil }

// relayProblems reports the configuration a destination is missing.
func relayProblems(cfg *config.Config, to string) []string {
	switch to {
	case RelayKafka:
		return cfg.ValidateKafka()
	case RelaySNS:
		return cfg.ValidateSNS()
	default:
		return []string{fmt.Sprintf("--to must be %s or %s (got %q)", RelayKafka, RelaySNS, to)}
	}
}

// newPublisher connects the relay handler for destination to.
func newPublisher(ctx context.Context, s *session, to string) (publisher, error) {
	encoder := relay.NewEncoder(s.Store)

	switch to {
	case RelayKafka:
		return relaykafka.New(encoder,
			relaykafka.WithBrokers(s.Config.Kafka.Brokers...),
			relaykafka.WithTopic(s.Config.Kafka.Topic),
			relaykafka.WithLogger(s.Logger),
		), nil
	case RelaySNS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS configuration: %w", err)
		}
		return snsPublisher{relaysns.New(sns.NewFromConfig(awsCfg), encoder, s.Config.SNS.TopicARN,
			relaysns.WithLogger(s.Logger))}, nil
	default:
		return nil, fmt.Errorf("unknown relay destination %q", to)
	}
}

// NewRelayCommand creates the command that forwards game events to a broker.
func NewRelayCommand(global *globalOptions) *cobra.Command {
	var (
		to string
		id string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward game events to Kafka or SNS",
		Long: `Runs a durable subscription that publishes every game event as a
CloudEvents envelope. The position is stored after each acknowledged
publish, so a restarted relay resumes where it stopped and every event is
published at least once.`,
		Example: `  GUESSGAME_KAFKA_BROKERS=localhost:9092 guessgame relay --to kafka
  GUESSGAME_SNS_TOPIC_ARN=arn:aws:sns:eu-central-1:123456789012:games.fifo guessgame relay --to sns`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if problems := relayProblems(cfg, to); len(problems) > 0 {
				return fmt.Errorf("cannot relay to %s: %s", to, strings.Join(problems, "; "))
			}

			s, err := global.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			pub, err := newPublisher(ctx, s, to)
			if err != nil {
				return err
			}
			defer pub.Close()

			if id == "" {
				id = "relay-" + to
			}
			h, err := s.Model.Subscribe(ctx, id, guessgame.Filter(), s.Handler(id, pub),
				occurrent.WithMode(occurrent.ModeDurable))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.FormatInfo(fmt.Sprintf("Relaying game events to %s as %s", to, id)))

			select {
			case <-ctx.Done():
				return nil
			case <-h.Done():
				return h.Err()
			}
		},
	}

	cmd.Flags().StringVar(&to, "to", RelayKafka, "Destination: kafka or sns")
	cmd.Flags().StringVar(&id, "id", "", "Subscription id (default: relay-<destination>)")
	return cmd
}
