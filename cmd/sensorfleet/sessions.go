package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/racketlab/sensorfleet/internal/config"
)

// sessionsCmd represents the sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	entries, err := os.ReadDir(cfg.SessionDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No sessions recorded yet.")
			return nil
		}
		return err
	}

	type session struct {
		name string
		size int64
	}
	var sessions []session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ndjson") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sessions = append(sessions, session{name: entry.Name(), size: info.Size()})
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded yet.")
		return nil
	}

	// Newest first; the timestamp suffix sorts lexicographically
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].name > sessions[j].name })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSIZE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\n", color.CyanString(s.name), humanize.Bytes(uint64(s.size)))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d sessions in %s\n", len(sessions), filepath.Clean(cfg.SessionDir))
	return nil
}
