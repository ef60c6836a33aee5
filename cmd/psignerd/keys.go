package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/spf13/cobra"

	"github.com/pushchain/push-signer-node/signerClient/tss/node"
)

// Identity is a node's message key and board identity.
type Identity struct {
	MessagePrivateKeyHex string `yaml:"message_private_key_hex" json:"message_private_key_hex,omitempty"`
	MessagePublicKeyHex  string `yaml:"message_public_key_hex" json:"message_public_key_hex"`
	BoardPrivateKeyHex   string `yaml:"board_private_key_hex" json:"board_private_key_hex,omitempty"`
	PeerID               string `yaml:"peer_id" json:"peer_id"`
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the node's message key and board identity",
	}
	cmd.AddCommand(keysGenerateCmd())
	cmd.AddCommand(keysShowCmd())
	return cmd
}

func keysGenerateCmd() *cobra.Command {
	var outputFormat string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a secp256k1 message key and an Ed25519 board identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := generateIdentity()
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), id, outputFormat)
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", OutputFormatYAML, "Output format (yaml|json)")
	return cmd
}

func keysShowCmd() *cobra.Command {
	var outputFormat string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the public half of the configured identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			id, err := publicIdentity(cfg.MessagePrivateKeyHex, cfg.Board.PrivateKeyHex)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), id, outputFormat)
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", OutputFormatYAML, "Output format (yaml|json)")
	return cmd
}

func generateIdentity() (Identity, error) {
	msgKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to generate message key: %w", err)
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return Identity{}, fmt.Errorf("failed to generate board key: %w", err)
	}

	id, err := publicIdentity(hex.EncodeToString(msgKey.Serialize()), hex.EncodeToString(seed))
	if err != nil {
		return Identity{}, err
	}
	id.MessagePrivateKeyHex = hex.EncodeToString(msgKey.Serialize())
	id.BoardPrivateKeyHex = hex.EncodeToString(seed)
	return id, nil
}

// publicIdentity derives the public key and peer id. An empty board key leaves
// PeerID empty since the board then uses a fresh identity on every start.
func publicIdentity(messageKeyHex, boardKeyHex string) (Identity, error) {
	msgKey, err := node.ParseMessageKey(messageKeyHex)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{MessagePublicKeyHex: hex.EncodeToString(msgKey.PubKey().SerializeCompressed())}
	if boardKeyHex != "" {
		if id.PeerID, err = node.PeerIDFromHex(boardKeyHex); err != nil {
			return Identity{}, fmt.Errorf("invalid board key: %w", err)
		}
	}
	return id, nil
}
