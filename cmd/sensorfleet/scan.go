package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/racketlab/sensorfleet/internal/bledb"
	"github.com/racketlab/sensorfleet/internal/central"
	"github.com/racketlab/sensorfleet/internal/central/goble"
	"github.com/racketlab/sensorfleet/internal/decode"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for motion sensors",
	Long: `Scan for nearby Bluetooth Low Energy devices and list them with
name, address, signal strength and advertised services. By default only
devices advertising the motion service are shown; use --all to list
everything in range.`,
	RunE: runScanCmd,
}

var (
	scanDuration time.Duration
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List all devices, not just motion sensors")
}

type scanHit struct {
	name     string
	address  string
	rssi     int
	services []string
}

func runScanCmd(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd, logrus.WarnLevel)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	var filter []string
	if !scanAll {
		filter = []string{bledb.ServiceMotion}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), scanDuration)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Scanning for %s...\n", scanDuration)

	c := goble.New(logger)
	defer c.Close()

	hits := make(map[string]scanHit)
	err = c.Scan(ctx, filter, func(adv central.Advertisement) {
		if !adv.Connectable() {
			return
		}
		hit, seen := hits[adv.Addr()]
		if !seen {
			hit = scanHit{address: adv.Addr()}
		}
		if adv.LocalName() != "" {
			hit.name = adv.LocalName()
		}
		hit.rssi = adv.RSSI()
		if len(adv.Services()) > 0 {
			hit.services = adv.Services()
		}
		hits[adv.Addr()] = hit
	})
	if err != nil {
		return err
	}

	if len(hits) == 0 {
		fmt.Println("No devices found.")
		return nil
	}

	results := make([]scanHit, 0, len(hits))
	for _, hit := range hits {
		results = append(results, hit)
	}
	// Strongest signal first
	sort.Slice(results, func(i, j int) bool { return results[i].rssi > results[j].rssi })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSIGNAL\tSERVICES")
	for _, hit := range results {
		name := hit.name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			name, hit.address, hit.rssi, signalBars(hit.rssi), serviceList(hit.services))
	}
	return w.Flush()
}

func signalBars(rssi int) string {
	bars := decode.SignalBars(rssi)
	s := strings.Repeat("#", bars) + strings.Repeat(".", 4-bars)
	switch {
	case bars >= 3:
		return color.GreenString(s)
	case bars == 2:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func serviceList(uuids []string) string {
	if len(uuids) == 0 {
		return "-"
	}
	names := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if name := bledb.LookupService(u); name != "" {
			names = append(names, name)
		} else {
			names = append(names, bledb.ShortenUUID(u))
		}
	}
	return strings.Join(names, ", ")
}
