package kv

import (
	"github.com/ValentinKolb/respKV/client"
	"github.com/ValentinKolb/respKV/cmd/util"
	"github.com/spf13/cobra"
)

var (
	store *client.Client

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value store operations",
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: teardownClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common connection flags to the KV command
	util.SetupClientFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(setECmd)
	KeyValueCommands.AddCommand(setIfUnsetCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(exprCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(incrCmd)
	KeyValueCommands.AddCommand(pingCmd)
	KeyValueCommands.AddCommand(pubCmd)
	KeyValueCommands.AddCommand(subCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupClient connects the store client from the resolved configuration
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	store, err = client.Connect(*util.GetClientConfig())
	return err
}

// teardownClient shuts the store client down after the command ran
func teardownClient(_ *cobra.Command, _ []string) error {
	if store == nil {
		return nil
	}
	return store.Quit()
}
