package main

import (
	"github.com/spf13/cobra"

	"github.com/pushchain/push-signer-node/signerClient/constant"
)

var homeFlag string

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "psignerd",
		Short:         "Push Threshold Signer Daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", constant.DefaultNodeHome, "node home directory")

	InitRootCmd(rootCmd) // add subcommands like `start` and `version`

	return rootCmd
}
