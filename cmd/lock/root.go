package lock

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ValentinKolb/respKV/client"
	"github.com/ValentinKolb/respKV/cmd/util"
	"github.com/spf13/cobra"
)

var (
	store          *client.Client
	acquireTimeout int64

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: teardownLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Long:  "Acquire a lease-based lock by setting the key only if it is unset. The lease expires after the timeout so a crashed owner cannot hold it forever.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and owner ID. The owner ID is the hex string returned by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	// Add common connection flags to the lock command
	util.SetupClientFlags(LockCommands)

	// Add flags specific to acquire
	acquireCmd.Flags().Int64Var(&acquireTimeout, "lease", 30, "Lock lease in seconds")
}

// setupLockClient connects the store client from the resolved configuration
func setupLockClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	store, err = client.Connect(*util.GetClientConfig())
	return err
}

// teardownLockClient shuts the store client down after the command ran
func teardownLockClient(_ *cobra.Command, _ []string) error {
	if store == nil {
		return nil
	}
	return store.Quit()
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	key := args[0]

	// Generate a random owner ID so release can verify ownership
	ownerID := make([]byte, 16)
	if _, err := rand.Read(ownerID); err != nil {
		return fmt.Errorf("failed to generate owner ID: %v", err)
	}

	// Attempt to acquire the lock
	acquired, err := store.SetIfUnset(cmd.Context(), key, ownerID, acquireTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	if !acquired {
		fmt.Printf("acquired=false\n")
		return nil
	}

	// Convert owner ID to hex string for display
	ownerIDHex := hex.EncodeToString(ownerID)
	fmt.Printf("acquired=true, ownerId=%s\n", ownerIDHex)

	return nil
}

// runRelease handles the release lock command
func runRelease(cmd *cobra.Command, args []string) error {
	key := args[0]
	ownerIDHex := args[1]

	// Convert hex string owner ID back to bytes
	ownerID, err := hex.DecodeString(ownerIDHex)
	if err != nil {
		return fmt.Errorf("invalid owner ID format: %v", err)
	}

	// Only the holder of the owner ID may release the lock
	current, found, err := store.Get(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}
	if !found || !bytes.Equal(current, ownerID) {
		fmt.Printf("released=false")
		return nil
	}

	released, err := store.Delete(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}

	fmt.Printf("released=%v", released)

	return nil
}
