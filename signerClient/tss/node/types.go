package node

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushchain/push-signer-node/signerClient/db"
	"github.com/pushchain/push-signer-node/signerClient/ledger"
	"github.com/pushchain/push-signer-node/signerClient/metrics"
	"github.com/pushchain/push-signer-node/signerClient/tss/board"
	libp2pboard "github.com/pushchain/push-signer-node/signerClient/tss/board/libp2p"
)

const (
	DefaultCommandBuffer   = 64
	DefaultResultBuffer    = 16
	DefaultCleanupInterval = time.Hour
	DefaultRoundRetention  = 7 * 24 * time.Hour
	defaultDatabaseFile    = "psigner.db"
)

// Config holds configuration for initializing a signer node.
type Config struct {
	// SignerID is this node's participant id.
	SignerID uint32

	// MessageKeyHex is the secp256k1 private key the node signs packets and votes with.
	MessageKeyHex string

	// Signers maps every participant id to its hex encoded compressed public key.
	Signers map[uint32]string

	// SignerKeyIDs maps every participant id to the one-based key ids it owns.
	SignerKeyIDs map[uint32][]uint32

	// ThresholdPercent of all key ids needed to sign. Zero means 70.
	ThresholdPercent int

	// HomeDir holds key shares and the database.
	HomeDir string

	// Password encrypts key shares at rest.
	Password string

	// DatabaseFile is the sqlite file name under HomeDir.
	DatabaseFile string

	// LedgerURLs are the ledger's JSON-RPC endpoints.
	LedgerURLs    []string
	LedgerTimeout time.Duration
	LedgerRetries int

	// LedgerHealthCheck is the interval between endpoint probes. Zero disables them.
	LedgerHealthCheck time.Duration

	// P2P configures the libp2p board. Ignored when Deps.Board is set.
	P2P P2PConfig

	EventTimeout     time.Duration
	MaxStartAttempts int
	StartRetryBase   time.Duration
	StartRetryMax    time.Duration

	// VoteRecastAfter is how long a recorded vote suppresses recasting.
	VoteRecastAfter time.Duration

	CleanupInterval time.Duration
	RoundRetention  time.Duration

	// CommandBuffer bounds operator commands waiting for the next pass.
	CommandBuffer int

	Logger zerolog.Logger
}

// P2PConfig configures the libp2p board.
type P2PConfig struct {
	// PrivateKeyHex is the Ed25519 seed in hex that derives the libp2p identity.
	PrivateKeyHex string
	ListenAddr    string
	ProtocolID    string
	DialTimeout   time.Duration
	IOTimeout     time.Duration
	Peers         []libp2pboard.Peer
}

// Deps are collaborators built outside the node. Nil fields are built from Config.
type Deps struct {
	Board    board.Board
	Ledger   ledger.Client
	Database *db.DB
	Metrics  metrics.Recorder
	// Rand feeds the FROST engines. Nil means crypto/rand.
	Rand io.Reader
}
