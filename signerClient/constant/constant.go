package constant

import "os"

// <NodeDir>/                    (e.g., /home/signer/.psigner)
// └── config/
//	└── psigner_config.json
// └── keyshares/
// └── psigner.db
// └── ledger.db                 (devnet ledger only)

const (
	NodeDir = ".psigner"

	// QueryHost is where the CLI reaches a running node's HTTP API.
	QueryHost = "localhost"
)

var DefaultNodeHome = os.ExpandEnv("$HOME/") + NodeDir
