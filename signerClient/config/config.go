package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
)

const (
	configSubdir   = "config"
	configFileName = "psigner_config.json"
)

//go:embed default_config.json
var defaultConfigJSON []byte

// Validate applies defaults and reports every problem in cfg at once.
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}

func validateConfig(cfg *Config) error {
	var result *multierror.Error

	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		result = multierror.Append(result, fmt.Errorf("log level must be between 0 and 5"))
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		result = multierror.Append(result, fmt.Errorf("log format must be 'json' or 'console'"))
	}

	// Validate signer registry
	if len(cfg.Signers) == 0 {
		result = multierror.Append(result, fmt.Errorf("signers must list at least one public key"))
	} else if _, ok := cfg.Signers[cfg.SignerID]; !ok {
		result = multierror.Append(result, fmt.Errorf("signer_id %d is not listed in signers", cfg.SignerID))
	}
	for id := range cfg.Signers {
		if len(cfg.SignerKeyIDs[id]) == 0 {
			result = multierror.Append(result, fmt.Errorf("signer %d has no key ids", id))
		}
	}
	for id := range cfg.SignerKeyIDs {
		if _, ok := cfg.Signers[id]; !ok {
			result = multierror.Append(result, fmt.Errorf("key ids assigned to unknown signer %d", id))
		}
	}
	if cfg.MessagePrivateKeyHex == "" {
		result = multierror.Append(result, fmt.Errorf("message_private_key_hex is required"))
	}

	if cfg.ThresholdPercent == 0 {
		cfg.ThresholdPercent = 70
	}
	if cfg.ThresholdPercent < 0 || cfg.ThresholdPercent > 100 {
		result = multierror.Append(result, fmt.Errorf("threshold percent must be between 1 and 100"))
	}

	// Set defaults for run loop config
	if cfg.EventTimeoutMs == 0 {
		cfg.EventTimeoutMs = 5000
	}
	if cfg.StartRetryBaseMs == 0 {
		cfg.StartRetryBaseMs = 50
	}
	if cfg.StartRetryMaxMs == 0 {
		cfg.StartRetryMaxMs = 2000
	}
	if cfg.VoteRecastAfterSeconds == 0 {
		cfg.VoteRecastAfterSeconds = 600
	}
	if cfg.EventTimeoutMs < 0 || cfg.StartRetryBaseMs < 0 || cfg.StartRetryMaxMs < 0 {
		result = multierror.Append(result, fmt.Errorf("run loop durations must not be negative"))
	}
	if cfg.MaxStartAttempts < 0 {
		result = multierror.Append(result, fmt.Errorf("max start attempts must not be negative"))
	}

	// Set defaults for ledger config
	if len(cfg.LedgerURLs) == 0 {
		cfg.LedgerURLs = []string{"http://localhost:8645"}
	}
	if cfg.LedgerTimeoutSeconds == 0 {
		cfg.LedgerTimeoutSeconds = 10
	}
	if cfg.LedgerMaxRetries == 0 {
		cfg.LedgerMaxRetries = 3
	}
	if cfg.LedgerHealthCheckSeconds == 0 {
		cfg.LedgerHealthCheckSeconds = 30
	}
	if cfg.LedgerServer.ListenAddr == "" {
		cfg.LedgerServer.ListenAddr = "127.0.0.1:8645"
	}
	if cfg.LedgerServer.Quorum == 0 {
		cfg.LedgerServer.Quorum = 1
	}
	if cfg.LedgerServer.DatabaseFile == "" {
		cfg.LedgerServer.DatabaseFile = "ledger.db"
	}

	// Set defaults for board config
	if cfg.Board.ListenAddr == "" {
		cfg.Board.ListenAddr = "/ip4/0.0.0.0/tcp/39000"
	}
	if cfg.Board.DialTimeoutSeconds == 0 {
		cfg.Board.DialTimeoutSeconds = 10
	}
	if cfg.Board.IOTimeoutSeconds == 0 {
		cfg.Board.IOTimeoutSeconds = 15
	}
	for i, p := range cfg.Board.Peers {
		if p.ID == "" || len(p.Addrs) == 0 {
			result = multierror.Append(result, fmt.Errorf("board peer %d needs an id and at least one address", i))
		}
	}

	// Set defaults for query server
	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8080
	}
	if cfg.QueryServerPort < 0 || cfg.QueryServerPort > 65535 {
		result = multierror.Append(result, fmt.Errorf("query server port must be between 1 and 65535"))
	}

	// Set defaults for storage
	if cfg.DatabaseFile == "" {
		cfg.DatabaseFile = "psigner.db"
	}
	if cfg.CleanupIntervalSeconds == 0 {
		cfg.CleanupIntervalSeconds = 3600
	}
	if cfg.RoundRetentionSeconds == 0 {
		cfg.RoundRetentionSeconds = 604800
	}

	return result.ErrorOrNil()
}

// Save writes the given config to <NodeDir>/config/psigner_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads and returns the config from <BasePath>/config/psigner_config.json.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}

// FilePath returns where Save writes the config under basePath.
func FilePath(basePath string) string {
	return filepath.Join(basePath, configSubdir, configFileName)
}
