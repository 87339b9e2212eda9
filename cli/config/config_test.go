package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, DefaultSource, cfg.Event.Source)
	assert.Equal(t, 3, cfg.Command.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Subscription.PollInterval)
	assert.Equal(t, 100, cfg.Subscription.BatchSize)
	assert.Empty(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*Config)
		wantErrors int
	}{
		{
			name:       "valid default config",
			modify:     func(c *Config) {},
			wantErrors: 0,
		},
		{
			name:       "valid sqlite",
			modify:     func(c *Config) { c.Backend = BackendSQLite; c.Database.URL = "games.db" },
			wantErrors: 0,
		},
		{
			name:       "valid postgres",
			modify:     func(c *Config) { c.Backend = BackendPostgres; c.Database.URL = "postgres://localhost/db" },
			wantErrors: 0,
		},
		{
			name:       "sqlite without path",
			modify:     func(c *Config) { c.Backend = BackendSQLite },
			wantErrors: 1,
		},
		{
			name:       "postgres without URL",
			modify:     func(c *Config) { c.Backend = BackendPostgres },
			wantErrors: 1,
		},
		{
			name:       "mongodb without URL and name",
			modify:     func(c *Config) { c.Backend = BackendMongoDB; c.Database.Name = "" },
			wantErrors: 2,
		},
		{
			name:       "missing backend",
			modify:     func(c *Config) { c.Backend = "" },
			wantErrors: 1,
		},
		{
			name:       "unknown backend",
			modify:     func(c *Config) { c.Backend = "mysql" },
			wantErrors: 1,
		},
		{
			name: "bad numbers",
			modify: func(c *Config) {
				c.Subscription.PollInterval = 0
				c.Subscription.BatchSize = -1
				c.Command.MaxAttempts = 0
			},
			wantErrors: 3,
		},
		{
			name:       "missing source",
			modify:     func(c *Config) { c.Event.Source = "" },
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			problems := cfg.Validate()
			assert.Equal(t, tt.wantErrors, len(problems), "problems: %v", problems)
		})
	}
}

func TestConfig_ValidateRelays(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"kafka.brokers is required"}, cfg.ValidateKafka())
	assert.Equal(t, []string{"sns.topic_arn is required"}, cfg.ValidateSNS())

	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.SNS.TopicARN = "arn:aws:sns:eu-central-1:123456789012:games.fifo"
	assert.Empty(t, cfg.ValidateKafka())
	assert.Empty(t, cfg.ValidateSNS())
}

func TestConfig_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Backend = BackendPostgres
	cfg.Database.URL = "postgres://localhost/test"
	cfg.Subscription.PollInterval = 250 * time.Millisecond
	cfg.Kafka.Brokers = []string{"a:9092", "b:9092"}

	require.NoError(t, cfg.Save(tmpDir))

	data, err := os.ReadFile(filepath.Join(tmpDir, ConfigFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# guessgame configuration")

	loaded, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("backend: sqlite\ndatabase:\n  url: games.db\n"), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "games.db", cfg.Database.URL)
	assert.Equal(t, DefaultSource, cfg.Event.Source)
	assert.Equal(t, 3, cfg.Command.MaxAttempts)
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("backend: [unclosed"), 0600))

	_, err := LoadFile(path)
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GUESSGAME_BACKEND", "postgres")
	t.Setenv("GUESSGAME_DATABASE_URL", "postgres://env/db")
	t.Setenv("GUESSGAME_SUBSCRIPTION_POLL_INTERVAL", "2s")
	t.Setenv("GUESSGAME_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GUESSGAME_TRACING_ENABLED", "true")

	cfg := DefaultConfig()
	cfg.Event.Source = "from-file"
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, 2*time.Second, cfg.Subscription.PollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Tracing.Enabled)

	// Unset variables keep what was there.
	assert.Equal(t, "from-file", cfg.Event.Source)
	assert.Equal(t, 100, cfg.Subscription.BatchSize)
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("GUESSGAME_COMMAND_MAX_ATTEMPTS", "many")

	err := DefaultConfig().ApplyEnv()
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	tmpDir := t.TempDir()
	assert.False(t, Exists(tmpDir))

	require.NoError(t, DefaultConfig().Save(tmpDir))
	assert.True(t, Exists(tmpDir))
}

func TestFindConfig(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Backend = BackendSQLite
	cfg.Database.URL = "root.db"
	require.NoError(t, cfg.Save(tmpDir))

	nested := filepath.Join(tmpDir, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	foundDir, foundCfg, err := FindConfig(nested)
	require.NoError(t, err)

	assert.Equal(t, tmpDir, foundDir)
	assert.Equal(t, "root.db", foundCfg.Database.URL)
}

func TestResolve(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte("backend: sqlite\n"), 0600))

		cfg, err := Resolve(path, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, BackendSQLite, cfg.Backend)
	})

	t.Run("explicit path must exist", func(t *testing.T) {
		_, err := Resolve(filepath.Join(t.TempDir(), "missing.yaml"), "")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("found in directory", func(t *testing.T) {
		dir := t.TempDir()
		cfg := DefaultConfig()
		cfg.Event.Source = "found"
		require.NoError(t, cfg.Save(dir))

		resolved, err := Resolve("", dir)
		require.NoError(t, err)
		assert.Equal(t, "found", resolved.Event.Source)
	})

	t.Run("defaults with env", func(t *testing.T) {
		t.Setenv("GUESSGAME_EVENT_SOURCE", "env-source")

		cfg, err := Resolve("", t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, BackendMemory, cfg.Backend)
		assert.Equal(t, "env-source", cfg.Event.Source)
	})
}
