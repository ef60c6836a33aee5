package libp2p

import "time"

const (
	DefaultProtocolID  = "/psigner/board/1.0.0"
	DefaultDialTimeout = 10 * time.Second
	DefaultIOTimeout   = 15 * time.Second
	defaultListenAddr  = "/ip4/0.0.0.0/tcp/39000"
)

// Peer is a remote board reachable at the given multiaddrs.
type Peer struct {
	ID    string   `json:"id"`
	Addrs []string `json:"addrs"`
}

// Config configures a libp2p board.
type Config struct {
	ListenAddrs []string `json:"listen_addrs"`
	// PrivateKeyBase64 is a marshalled libp2p identity key; empty generates a fresh one.
	PrivateKeyBase64 string        `json:"private_key_base64"`
	ProtocolID       string        `json:"protocol_id"`
	DialTimeout      time.Duration `json:"dial_timeout"`
	IOTimeout        time.Duration `json:"io_timeout"`
	Peers            []Peer        `json:"peers"`
	// SendAttempts bounds delivery attempts per peer and write.
	SendAttempts int `json:"send_attempts"`
}

func (c *Config) setDefaults() {
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = []string{defaultListenAddr}
	}
	if c.ProtocolID == "" {
		c.ProtocolID = DefaultProtocolID
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = DefaultIOTimeout
	}
	if c.SendAttempts <= 0 {
		c.SendAttempts = 3
	}
}
