package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validBase returns the smallest config that passes validation.
func validBase() *Config {
	return &Config{
		LogLevel:             1,
		LogFormat:            "json",
		SignerID:             0,
		MessagePrivateKeyHex: "01",
		Signers:              map[uint32]string{0: "02aa", 1: "03bb"},
		SignerKeyIDs:         map[uint32][]uint32{0: {1}, 1: {2}},
	}
}

func TestValidateConfig(t *testing.T) {
	testCases := []struct {
		name        string
		mutate      func(cfg *Config)
		expectError bool
		errorMsgs   []string
		validate    func(t *testing.T, cfg *Config)
	}{
		{
			name: "Valid config with console log format",
			mutate: func(cfg *Config) {
				cfg.LogFormat = "console"
			},
		},
		{
			name: "Invalid log level",
			mutate: func(cfg *Config) {
				cfg.LogLevel = 6
			},
			expectError: true,
			errorMsgs:   []string{"log level must be between 0 and 5"},
		},
		{
			name: "Invalid log format",
			mutate: func(cfg *Config) {
				cfg.LogFormat = "xml"
			},
			expectError: true,
			errorMsgs:   []string{"log format must be 'json' or 'console'"},
		},
		{
			name: "Signer id missing from registry",
			mutate: func(cfg *Config) {
				cfg.SignerID = 5
			},
			expectError: true,
			errorMsgs:   []string{"signer_id 5 is not listed in signers"},
		},
		{
			name: "Every problem is reported",
			mutate: func(cfg *Config) {
				cfg.LogFormat = "xml"
				cfg.MessagePrivateKeyHex = ""
				cfg.SignerKeyIDs = map[uint32][]uint32{0: {1}, 7: {3}}
				cfg.MaxStartAttempts = -1
				cfg.ThresholdPercent = 120
			},
			expectError: true,
			errorMsgs: []string{
				"log format must be 'json' or 'console'",
				"message_private_key_hex is required",
				"signer 1 has no key ids",
				"key ids assigned to unknown signer 7",
				"max start attempts must not be negative",
				"threshold percent must be between 1 and 100",
			},
		},
		{
			name: "Board peer without address",
			mutate: func(cfg *Config) {
				cfg.Board.Peers = []PeerConfig{{ID: "12D3KooW"}}
			},
			expectError: true,
			errorMsgs:   []string{"board peer 0 needs an id and at least one address"},
		},
		{
			name:   "Config with defaults applied",
			mutate: func(cfg *Config) {},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 70, cfg.ThresholdPercent)
				assert.Equal(t, 5*time.Second, cfg.EventTimeout())
				assert.Equal(t, 50*time.Millisecond, cfg.StartRetryBase())
				assert.Equal(t, 2*time.Second, cfg.StartRetryMax())
				assert.Equal(t, 10*time.Minute, cfg.VoteRecastAfter())
				assert.Equal(t, []string{"http://localhost:8645"}, cfg.LedgerURLs)
				assert.Equal(t, 10*time.Second, cfg.LedgerTimeout())
				assert.Equal(t, 30*time.Second, cfg.LedgerHealthCheck())
				assert.Equal(t, 1, cfg.LedgerServer.Quorum)
				assert.Equal(t, "/ip4/0.0.0.0/tcp/39000", cfg.Board.ListenAddr)
				assert.Equal(t, 15*time.Second, cfg.Board.IOTimeout())
				assert.Equal(t, 8080, cfg.QueryServerPort)
				assert.Equal(t, "psigner.db", cfg.DatabaseFile)
				assert.Equal(t, time.Hour, cfg.CleanupInterval())
				assert.Equal(t, 7*24*time.Hour, cfg.RoundRetention())
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBase()
			tc.mutate(cfg)
			err := validateConfig(cfg)

			if tc.expectError {
				require.Error(t, err)
				for _, msg := range tc.errorMsgs {
					assert.Contains(t, err.Error(), msg)
				}
			} else {
				assert.NoError(t, err)
				if tc.validate != nil {
					tc.validate(t, cfg)
				}
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("Save and load valid config", func(t *testing.T) {
		cfg := validBase()
		cfg.LedgerURLs = []string{"http://ledger-1:8645", "http://ledger-2:8645"}
		cfg.Board.Peers = []PeerConfig{{ID: "12D3KooW", Addrs: []string{"/ip4/10.0.0.2/tcp/39000"}}}
		cfg.MaxStartAttempts = 4

		require.NoError(t, Save(cfg, tempDir))

		_, err := os.Stat(FilePath(tempDir))
		assert.NoError(t, err)

		loaded, err := Load(tempDir)
		require.NoError(t, err)
		assert.Equal(t, *cfg, loaded)
	})

	t.Run("Save invalid config", func(t *testing.T) {
		cfg := validBase()
		cfg.LogLevel = -1

		err := Save(cfg, tempDir)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})

	t.Run("Load from non-existent file", func(t *testing.T) {
		_, err := Load(filepath.Join(tempDir, "non_existent"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("Load invalid JSON", func(t *testing.T) {
		configDir := filepath.Join(tempDir, "invalid", configSubdir)
		require.NoError(t, os.MkdirAll(configDir, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(configDir, configFileName), []byte("{invalid json}"), 0o600))

		_, err := Load(filepath.Join(tempDir, "invalid"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal config")
	})
}

func TestLoadDefaultConfig(t *testing.T) {
	cfg, err := LoadDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 70, cfg.ThresholdPercent)
	assert.Equal(t, 10, cfg.MaxStartAttempts)
	assert.Equal(t, "/psigner/board/1.0.0", cfg.Board.ProtocolID)
	assert.True(t, cfg.MetricsEnabled)

	// The defaults carry no identity, so they only validate once one is filled in.
	assert.Error(t, validateConfig(cfg))
	cfg.MessagePrivateKeyHex = "01"
	cfg.Signers = map[uint32]string{0: "02aa"}
	cfg.SignerKeyIDs = map[uint32][]uint32{0: {1}}
	assert.NoError(t, validateConfig(cfg))
}

func TestApplyOverrides(t *testing.T) {
	t.Setenv("PSIGNER_LOG_LEVEL", "0")
	t.Setenv("PSIGNER_SIGNER_ID", "3")
	t.Setenv("PSIGNER_LEDGER_URLS", "http://a:1, http://b:2")
	t.Setenv("PSIGNER_BOARD_LISTEN_ADDR", "/ip4/127.0.0.1/tcp/40000")
	t.Setenv("PSIGNER_METRICS_ENABLED", "false")

	cfg := validBase()
	cfg.LogLevel = 1
	cfg.MetricsEnabled = true
	cfg.QueryServerPort = 9000

	ApplyOverrides(cfg, NewViper())

	assert.Equal(t, 0, cfg.LogLevel)
	assert.Equal(t, uint32(3), cfg.SignerID)
	assert.Equal(t, []string{"http://a:1", "http://b:2"}, cfg.LedgerURLs)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/40000", cfg.Board.ListenAddr)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, 9000, cfg.QueryServerPort, "unset keys keep the file value")
}
