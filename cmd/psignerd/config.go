package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pushchain/push-signer-node/signerClient/config"
)

// flagKeys maps command flags onto config keys so a flag overrides the file
// and the PSIGNER_* environment.
var flagKeys = map[string]string{
	"log-level":        "log_level",
	"log-format":       "log_format",
	"event-timeout-ms": "event_timeout_ms",
	"query-port":       "query_server_port",
	"ledger-urls":      "ledger_urls",
	"listen":           "board.listen_addr",
	"ledger-listen":    "ledger_server.listen_addr",
}

// loadConfig reads <home>/config/psigner_config.json, applies environment and
// flag overrides, then validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(homeFlag)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config (run `psignerd init` first?): %w", err)
	}

	v := config.NewViper()
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return config.Config{}, fmt.Errorf("failed to bind flags: %w", bindErr)
	}
	config.ApplyOverrides(&cfg, v)

	if cfg.NodeHome == "" {
		cfg.NodeHome = homeFlag
	}
	if err := config.Validate(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
