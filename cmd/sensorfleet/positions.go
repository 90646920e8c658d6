package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/racketlab/sensorfleet/internal/config"
	"github.com/racketlab/sensorfleet/internal/posstore"
)

// positionsCmd represents the positions command
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show persisted position assignments",
	Long: `Print the table of remembered sensor position assignments. With
--prune, entries not seen within the retention window are removed first.`,
	RunE: runPositions,
}

var positionsPrune bool

func init() {
	positionsCmd.Flags().BoolVar(&positionsPrune, "prune", false, "Remove entries older than the retention window")
}

func runPositions(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	store := posstore.New(filepath.Join(cfg.StoreDir, "positions.db"))
	defer store.Close()

	if positionsPrune {
		removed, err := store.PruneOlderThan(cmd.Context(), cfg.Retention(), nil)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d stale entries.\n", removed)
	}

	entries, err := store.ListAll(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No persisted positions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tPOSITION\tLAST SEEN")
	for _, e := range entries {
		seen := time.Unix(e.LastSeen, 0)
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.DeviceID, e.Position, humanize.Time(seen))
	}
	return w.Flush()
}
