package commands

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/cli/config"
	"github.com/simara-svatopluk/event-sourcing-occurrent/guessgame"
	"github.com/simara-svatopluk/event-sourcing-occurrent/middleware/metrics"
)

// writeConfig saves cfg into a temp directory and returns its path.
func writeConfig(t *testing.T, modify func(*config.Config)) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Subscription.PollInterval = 5 * time.Millisecond
	if modify != nil {
		modify(cfg)
	}
	path := filepath.Join(t.TempDir(), config.ConfigFileName)
	require.NoError(t, cfg.SaveFile(path))
	return path
}

// sqliteConfig returns a config file pointing at a fresh sqlite database.
func sqliteConfig(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "games.db")
	return writeConfig(t, func(c *config.Config) {
		c.Backend = config.BackendSQLite
		c.Database.URL = db
	})
}

// executeCommand runs the CLI with args and returns what it printed to stdout.
func executeCommand(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--no-color", "--config", configPath}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"write", "project", "demo", "stream", "relay", "version"}, names)

	for _, flag := range []string{"config", "backend", "database-url", "no-color", "metrics-addr", "trace", "log-level"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, writeConfig(t, nil), "version")
	require.NoError(t, err)

	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, Version)
	assert.Contains(t, out, occurrent.Version())
}

func TestDemoCommand_Memory(t *testing.T) {
	out, err := executeCommand(t, writeConfig(t, nil), "demo", "--games", "3", "--seed", "7")
	require.NoError(t, err)

	assert.Contains(t, out, "Projector running")
	assert.Contains(t, out, "[3/3]")
	assert.Contains(t, out, "Projected up to position")
	for _, id := range []string{"game-1", "game-2", "game-3"} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "Won")
}

func TestWriteProjectStream_SQLite(t *testing.T) {
	cfg := sqliteConfig(t)

	out, err := executeCommand(t, cfg, "write", "--games", "2", "--seed", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "game-1:")
	assert.Contains(t, out, "game-2:")

	out, err = executeCommand(t, cfg, "project", "--mode", "durable", "--exit")
	require.NoError(t, err)
	assert.Contains(t, out, "Projecting game-progress (durable)")
	assert.Contains(t, out, "#1 game-1 JustStarted guesses=0")
	assert.Contains(t, out, "Won")

	// The stored position lets a second run skip everything already projected.
	out, err = executeCommand(t, cfg, "project", "--mode", "durable", "--exit")
	require.NoError(t, err)
	assert.NotContains(t, out, "#1 ")
	assert.Contains(t, out, "game-2")

	out, err = executeCommand(t, cfg, "stream", "game-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"specversion": "1.0"`)
	assert.Contains(t, out, `"type": "GameStarted"`)
	assert.Contains(t, out, `"source": "`+config.DefaultSource+`"`)
	assert.Contains(t, out, `"streamid": "game-1"`)

	out, err = executeCommand(t, cfg, "stream", "game-1", "--compact", "--from", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.NotEmpty(t, lines)
	assert.NotContains(t, out, "GameStarted")
}

func TestProjectCommand_Rebuild(t *testing.T) {
	cfg := sqliteConfig(t)

	_, err := executeCommand(t, cfg, "write", "--games", "1", "--seed", "3")
	require.NoError(t, err)
	_, err = executeCommand(t, cfg, "project", "--exit")
	require.NoError(t, err)

	out, err := executeCommand(t, cfg, "project", "--rebuild", "--exit")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 game-1 JustStarted guesses=0")
}

func TestProjectCommand_CatchUpRepeats(t *testing.T) {
	cfg := sqliteConfig(t)

	_, err := executeCommand(t, cfg, "write", "--games", "1", "--seed", "3")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out, err := executeCommand(t, cfg, "project", "--mode", "catchup", "--id", "replay", "--exit")
		require.NoError(t, err)
		assert.Contains(t, out, "Projecting replay (catchup)")
		assert.Contains(t, out, "#1 game-1")
	}
}

func TestWriteCommand_GameAlreadyStarted(t *testing.T) {
	cfg := sqliteConfig(t)

	_, err := executeCommand(t, cfg, "write", "--games", "1")
	require.NoError(t, err)

	_, err = executeCommand(t, cfg, "write", "--games", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, guessgame.ErrGameAlreadyStarted)

	_, err = executeCommand(t, cfg, "write", "--games", "1", "--start", "2")
	require.NoError(t, err)
}

func TestStreamCommand_NotFound(t *testing.T) {
	_, err := executeCommand(t, writeConfig(t, nil), "stream", "game-404")
	assert.ErrorIs(t, err, occurrent.ErrStreamNotFound)
}

func TestCommands_InvalidInput(t *testing.T) {
	cfg := writeConfig(t, nil)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown backend", []string{"--backend", "mysql", "write"}, "backend must be one of"},
		{"postgres without url", []string{"--backend", "postgres", "write"}, "database.url is required"},
		{"unknown mode", []string{"project", "--mode", "sometimes"}, "sometimes"},
		{"bad log level", []string{"--log-level", "loud", "write"}, "invalid log level"},
		{"kafka without brokers", []string{"relay", "--to", "kafka"}, "kafka.brokers is required"},
		{"sns without topic", []string{"relay", "--to", "sns"}, "sns.topic_arn is required"},
		{"unknown destination", []string{"relay", "--to", "smtp"}, "--to must be kafka or sns"},
		{"stream needs an id", []string{"stream"}, "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, cfg, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	opts := &globalOptions{
		configPath:  writeConfig(t, nil),
		backend:     config.BackendSQLite,
		databaseURL: "override.db",
		metricsAddr: "127.0.0.1:0",
		trace:       true,
	}

	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.BackendSQLite, cfg.Backend)
	assert.Equal(t, "override.db", cfg.Database.URL)
	assert.Equal(t, "127.0.0.1:0", cfg.Metrics.Addr)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestStartMetrics(t *testing.T) {
	m := metrics.New(metrics.WithMetricsServiceName(ServiceName))
	server, err := startMetrics("127.0.0.1:0", m, occurrent.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })

	m.RecordConflict()

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "occurrent_command_conflicts_total")
}

func TestDemoCommand_Instrumented(t *testing.T) {
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"--no-color", "--config", writeConfig(t, nil),
		"--metrics-addr", "127.0.0.1:0", "--trace", "demo", "--games", "1"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "game-1")
	assert.Contains(t, errOut.String(), "eventstore.append")
}
