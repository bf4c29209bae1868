package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/respKV/cmd/kv"
	"github.com/ValentinKolb/respKV/cmd/lock"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "respkv",
		Short: "client for RESP key-value servers",
		Long: fmt.Sprintf(`respKV (v%s)

A multiplexing client for RESP key-value servers and clusters,
with pipelining, pub/sub and transparent redirection handling.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of respKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("respKV v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
