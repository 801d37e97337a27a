// Command xpbridge exposes a simulator's variables and actions to external
// control processes over a local channel.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "xpbridge",
		Short: "Bridge external clients to a simulator's tick thread",
		Long: `xpbridge listens on a local channel (a unix socket, or a named pipe on
Windows) and serves get/set/cmd requests against a host whose state may only
be touched from its own simulation tick.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: xpbridge.yaml in ., ./configs or ~/.xpbridge)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(captureCmd)
	captureCmd.AddCommand(captureDumpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
