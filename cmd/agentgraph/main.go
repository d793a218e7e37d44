// Command agentgraph is the CLI surface of the engine: run single turns,
// chat interactively, ingest documents into the knowledge index and inspect
// or restore session checkpoints.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentgraph/config"
)

var (
	cfgPath string
	cfg     *config.Config
)

func main() {
	root := &cobra.Command{
		Use:           "agentgraph",
		Short:         "Graph-driven conversational agent engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			return err
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: ./agentgraph.yaml)")

	root.AddCommand(newRunCmd(), newChatCmd(), newIndexCmd(), newCheckpointsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
