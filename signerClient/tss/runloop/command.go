package runloop

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pushchain/push-signer-node/signerClient/tss"
)

// Command is an operator or locally triggered request for a round.
type Command interface {
	Kind() tss.ProtocolType
	isCommand()
}

// DkgCommand asks for a new distributed key generation round.
type DkgCommand struct{}

// SignCommand asks for a signature over Message.
type SignCommand struct {
	Message    []byte
	IsTaproot  bool
	MerkleRoot *[32]byte
}

func (DkgCommand) Kind() tss.ProtocolType { return tss.ProtocolDkg }

func (c SignCommand) Kind() tss.ProtocolType {
	if c.IsTaproot {
		return tss.ProtocolSignTaproot
	}
	return tss.ProtocolSign
}

func (DkgCommand) isCommand()  {}
func (SignCommand) isCommand() {}

// CommandsEqual reports structural equality.
func CommandsEqual(a, b Command) bool {
	switch x := a.(type) {
	case DkgCommand:
		_, ok := b.(DkgCommand)
		return ok
	case SignCommand:
		y, ok := b.(SignCommand)
		if !ok || x.IsTaproot != y.IsTaproot || !bytes.Equal(x.Message, y.Message) {
			return false
		}
		if x.MerkleRoot == nil || y.MerkleRoot == nil {
			return x.MerkleRoot == nil && y.MerkleRoot == nil
		}
		return *x.MerkleRoot == *y.MerkleRoot
	default:
		return false
	}
}

type commandJSON struct {
	Kind       tss.ProtocolType `json:"kind"`
	Message    string           `json:"message,omitempty"`
	IsTaproot  bool             `json:"is_taproot,omitempty"`
	MerkleRoot string           `json:"merkle_root,omitempty"`
}

// MarshalCommand encodes a command for the round history.
func MarshalCommand(c Command) ([]byte, error) {
	switch cmd := c.(type) {
	case DkgCommand:
		return json.Marshal(commandJSON{Kind: tss.ProtocolDkg})
	case SignCommand:
		out := commandJSON{Kind: cmd.Kind(), Message: hex.EncodeToString(cmd.Message), IsTaproot: cmd.IsTaproot}
		if cmd.MerkleRoot != nil {
			out.MerkleRoot = hex.EncodeToString(cmd.MerkleRoot[:])
		}
		return json.Marshal(out)
	default:
		return nil, fmt.Errorf("unknown command %T", c)
	}
}

// UnmarshalCommand decodes a command written by MarshalCommand.
func UnmarshalCommand(data []byte) (Command, error) {
	var in commandJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	switch in.Kind {
	case tss.ProtocolDkg:
		return DkgCommand{}, nil
	case tss.ProtocolSign, tss.ProtocolSignTaproot:
		msg, err := hex.DecodeString(in.Message)
		if err != nil {
			return nil, fmt.Errorf("invalid message: %w", err)
		}
		cmd := SignCommand{Message: msg, IsTaproot: in.IsTaproot}
		if in.MerkleRoot != "" {
			root, err := ParseMerkleRoot(in.MerkleRoot)
			if err != nil {
				return nil, err
			}
			cmd.MerkleRoot = root
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown command kind %q", in.Kind)
	}
}

// ParseMerkleRoot decodes a hex encoded 32 byte merkle root.
func ParseMerkleRoot(s string) (*[32]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid merkle root: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("merkle root must be 32 bytes, got %d", len(raw))
	}
	var root [32]byte
	copy(root[:], raw)
	return &root, nil
}
