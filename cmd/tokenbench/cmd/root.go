package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tokenbench",
	Short: "tokenbench - token throughput benchmarking for local inference servers",
	Long: `tokenbench replays prompt datasets against locally launched
llama.cpp-style inference servers and measures total token throughput.

For every configured (build, concurrency width) pair it starts the
server, fires each dataset at it as one concurrent burst, accounts
prompt and completion tokens from the responses, and writes a summary
per configuration. Attempts that hit a malformed response are aborted,
the server is restarted, and the dataset is replayed from scratch.`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./tokenbench.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the tokenbench version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(rootCmd.Version)
		},
	})
}
