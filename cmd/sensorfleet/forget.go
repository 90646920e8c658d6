package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/racketlab/sensorfleet/internal/config"
	"github.com/racketlab/sensorfleet/internal/posstore"
)

// forgetCmd represents the forget command
var forgetCmd = &cobra.Command{
	Use:   "forget <address>",
	Short: "Remove a sensor's persisted position",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func runForget(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	store := posstore.New(filepath.Join(cfg.StoreDir, "positions.db"))
	defer store.Close()

	address := args[0]
	if _, err := store.Get(cmd.Context(), address); err != nil {
		if errors.Is(err, posstore.ErrNotFound) {
			return fmt.Errorf("no persisted position for %s", address)
		}
		return err
	}
	if err := store.Delete(cmd.Context(), address); err != nil {
		return err
	}

	fmt.Printf("Forgot %s.\n", address)
	return nil
}
