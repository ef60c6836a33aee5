package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PSIGNER_LOG_LEVEL or PSIGNER_BOARD_LISTEN_ADDR.
const EnvPrefix = "PSIGNER"

// NewViper returns a viper instance that reads PSIGNER_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies every key set in v, from the environment or a bound
// flag, on top of the file config.
func ApplyOverrides(cfg *Config, v *viper.Viper) {
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	setInt("log_level", &cfg.LogLevel)
	setString("log_format", &cfg.LogFormat)
	setBool("log_sampler", &cfg.LogSampler)
	setString("node_home", &cfg.NodeHome)
	if v.IsSet("signer_id") {
		cfg.SignerID = v.GetUint32("signer_id")
	}
	setString("message_private_key_hex", &cfg.MessagePrivateKeyHex)
	setInt("threshold_percent", &cfg.ThresholdPercent)
	setInt("event_timeout_ms", &cfg.EventTimeoutMs)
	setInt("max_start_attempts", &cfg.MaxStartAttempts)
	if v.IsSet("ledger_urls") {
		cfg.LedgerURLs = splitList(v.GetString("ledger_urls"))
	}
	setString("ledger_server.listen_addr", &cfg.LedgerServer.ListenAddr)
	setInt("ledger_server.quorum", &cfg.LedgerServer.Quorum)
	setString("board.listen_addr", &cfg.Board.ListenAddr)
	setString("board.private_key_hex", &cfg.Board.PrivateKeyHex)
	setInt("query_server_port", &cfg.QueryServerPort)
	setBool("metrics_enabled", &cfg.MetricsEnabled)
	setString("keyshare_password", &cfg.KeysharePassword)
	setString("database_file", &cfg.DatabaseFile)
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
