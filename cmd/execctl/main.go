// Command execctl is the operator CLI for an execcore server: it queries
// the admin HTTP surface for stats, requests a graceful drain, and can
// push updated adaptive executor tunables. One cobra.Command per verb,
// with the admin address as a persistent --addr flag.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:   "execctl",
		Short: "Operate a running execcore server",
		Long:  "execctl queries and controls a running execcore server's admin HTTP surface.",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8090", "admin HTTP base address")

	root.AddCommand(newStatsCmd(&addr))
	root.AddCommand(newDrainCmd(&addr))
	root.AddCommand(newTuneCmd(&addr))
	return root
}
