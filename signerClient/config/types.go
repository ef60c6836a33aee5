package config

import "time"

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome string `json:"node_home"` // Node home directory (default: ~/.psigner)

	// Signer identity and registry
	SignerID             uint32              `json:"signer_id"`
	MessagePrivateKeyHex string              `json:"message_private_key_hex"` // secp256k1 key packets and votes are signed with
	Signers              map[uint32]string   `json:"signers"`                 // signer id -> hex compressed public key
	SignerKeyIDs         map[uint32][]uint32 `json:"signer_key_ids"`          // signer id -> one-based key ids
	ThresholdPercent     int                 `json:"threshold_percent"`       // share of key ids needed to sign (default: 70)

	// Run loop
	EventTimeoutMs         int `json:"event_timeout_ms"`          // board wait per pass (default: 5000)
	MaxStartAttempts       int `json:"max_start_attempts"`        // start attempts per pass before a command is reported stuck (0 = unbounded)
	StartRetryBaseMs       int `json:"start_retry_base_ms"`       // first backoff between start attempts (default: 50)
	StartRetryMaxMs        int `json:"start_retry_max_ms"`        // backoff cap (default: 2000)
	VoteRecastAfterSeconds int `json:"vote_recast_after_seconds"` // how long a recorded vote suppresses recasting (default: 600)

	// Ledger
	LedgerURLs               []string `json:"ledger_urls"`                 // ledger JSON-RPC endpoints (default: ["http://localhost:8645"])
	LedgerTimeoutSeconds     int      `json:"ledger_timeout_seconds"`      // per call timeout (default: 10)
	LedgerMaxRetries         int      `json:"ledger_max_retries"`          // attempts for transient failures (default: 3)
	LedgerHealthCheckSeconds int      `json:"ledger_health_check_seconds"` // endpoint probe interval (default: 30)

	// Devnet ledger served by `psignerd ledger`
	LedgerServer LedgerServerConfig `json:"ledger_server"`

	// Message board
	Board BoardConfig `json:"board"`

	// Query Server Config
	QueryServerPort int  `json:"query_server_port"` // Port for HTTP API (default: 8080)
	MetricsEnabled  bool `json:"metrics_enabled"`   // serve /metrics on the query server

	// Storage
	KeysharePassword       string `json:"keyshare_password"`        // Encryption password for key shares
	DatabaseFile           string `json:"database_file"`            // sqlite file under node_home (default: psigner.db)
	CleanupIntervalSeconds int    `json:"cleanup_interval_seconds"` // How often to prune finished rounds (default: 3600)
	RoundRetentionSeconds  int    `json:"round_retention_seconds"`  // How long to keep finished rounds (default: 604800)
}

// BoardConfig configures the libp2p message board.
type BoardConfig struct {
	PrivateKeyHex      string       `json:"private_key_hex"` // Ed25519 seed in hex for the libp2p identity
	ListenAddr         string       `json:"listen_addr"`     // libp2p listen address (default: /ip4/0.0.0.0/tcp/39000)
	ProtocolID         string       `json:"protocol_id"`
	DialTimeoutSeconds int          `json:"dial_timeout_seconds"`
	IOTimeoutSeconds   int          `json:"io_timeout_seconds"`
	Peers              []PeerConfig `json:"peers"`
}

// PeerConfig is a remote board.
type PeerConfig struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
}

// LedgerServerConfig configures the devnet ledger.
type LedgerServerConfig struct {
	ListenAddr   string `json:"listen_addr"`   // HTTP listen address (default: 127.0.0.1:8645)
	Quorum       int    `json:"quorum"`        // distinct votes needed to ratify a key (default: 1)
	DatabaseFile string `json:"database_file"` // sqlite file under node_home (default: ledger.db)
}

func ms(v int) time.Duration      { return time.Duration(v) * time.Millisecond }
func seconds(v int) time.Duration { return time.Duration(v) * time.Second }

func (c *Config) EventTimeout() time.Duration    { return ms(c.EventTimeoutMs) }
func (c *Config) StartRetryBase() time.Duration  { return ms(c.StartRetryBaseMs) }
func (c *Config) StartRetryMax() time.Duration   { return ms(c.StartRetryMaxMs) }
func (c *Config) VoteRecastAfter() time.Duration { return seconds(c.VoteRecastAfterSeconds) }
func (c *Config) LedgerTimeout() time.Duration   { return seconds(c.LedgerTimeoutSeconds) }
func (c *Config) LedgerHealthCheck() time.Duration {
	return seconds(c.LedgerHealthCheckSeconds)
}

func (c *Config) CleanupInterval() time.Duration { return seconds(c.CleanupIntervalSeconds) }
func (c *Config) RoundRetention() time.Duration  { return seconds(c.RoundRetentionSeconds) }

func (b *BoardConfig) DialTimeout() time.Duration { return seconds(b.DialTimeoutSeconds) }
func (b *BoardConfig) IOTimeout() time.Duration   { return seconds(b.IOTimeoutSeconds) }
