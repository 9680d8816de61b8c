package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pushchain/payout-relay/relayer/constant"
)

var homeDir string

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "payoutrelayd",
		Short:         "Purchase payout relay daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&homeDir, "home", defaultHome(), "relay home directory")

	InitRootCmd(rootCmd)

	return rootCmd
}

func defaultHome() string {
	if home := os.Getenv(constant.EnvHome); home != "" {
		return home
	}
	return constant.DefaultNodeHome
}
