// Package store contains GORM-backed SQLite models used by the signer node.
//
// Database structure (database file: psigner.db):
//
//	rounds             round history of this node, one row per queued command
//	vote_records       aggregate key votes this node has cast or observed
//	ledger_votes       devnet ledger: latest vote of each signer
//	ledger_keys        devnet ledger: ratified aggregate public key
package store

import (
	"time"

	"gorm.io/gorm"
)

// Round statuses.
const (
	RoundPending    = "PENDING"
	RoundInProgress = "IN_PROGRESS"
	RoundSuccess    = "SUCCESS"
	RoundFailed     = "FAILED"
)

// Round tracks one operator or locally triggered command from enqueue to result.
type Round struct {
	gorm.Model
	RoundID  string `gorm:"uniqueIndex;not null"` // uuid assigned at enqueue
	Kind     string `gorm:"index;not null"`       // "dkg", "sign" or "sign_taproot"
	Status   string `gorm:"index;not null"`
	Payload  []byte // JSON-encoded command
	Result   []byte // JSON-encoded operation result
	ErrorMsg string `gorm:"type:text"`
	Attempts int    // start attempts made by the executor
}

// VoteRecord remembers that this node's vote for an aggregate key is on the ledger.
type VoteRecord struct {
	gorm.Model
	AggregateKey string `gorm:"uniqueIndex;not null"` // hex encoded
	TxID         string // empty when the vote was observed rather than cast
	Observed     bool
}

// LedgerVote is a devnet ledger row: the latest key a signer voted for.
type LedgerVote struct {
	SignerID  uint32 `gorm:"primaryKey;autoIncrement:false"`
	Key       []byte `gorm:"not null"`
	TxID      string `gorm:"not null"`
	UpdatedAt time.Time
}

// LedgerKey is the devnet ledger's ratified aggregate public key. There is at most one row.
type LedgerKey struct {
	ID         uint   `gorm:"primaryKey"`
	Key        []byte `gorm:"not null"`
	Votes      int
	RatifiedAt time.Time
}
