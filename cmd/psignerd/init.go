package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pushchain/push-signer-node/signerClient/config"
)

func initCmd() *cobra.Command {
	var (
		signerID  uint32
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config with a fresh identity",
		Long: `
Writes <home>/config/psigner_config.json from the built-in defaults with a
newly generated message key and board identity. The signer registry holds only
this node; add the other signers' public keys and key ids before starting a
multi-signer cluster.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.FilePath(homeFlag)
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("config already exists at %s (use --overwrite to replace it)", path)
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			id, err := generateIdentity()
			if err != nil {
				return err
			}

			cfg.NodeHome = homeFlag
			cfg.SignerID = signerID
			cfg.MessagePrivateKeyHex = id.MessagePrivateKeyHex
			cfg.Board.PrivateKeyHex = id.BoardPrivateKeyHex
			cfg.Signers = map[uint32]string{signerID: id.MessagePublicKeyHex}
			cfg.SignerKeyIDs = map[uint32][]uint32{signerID: {1}}

			if err := config.Save(cfg, homeFlag); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config written to %s\n", path)
			fmt.Fprintf(out, "signer id:          %d\n", signerID)
			fmt.Fprintf(out, "message public key: %s\n", id.MessagePublicKeyHex)
			fmt.Fprintf(out, "board peer id:      %s\n", id.PeerID)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&signerID, "signer-id", 0, "this node's signer id")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing config")
	return cmd
}
