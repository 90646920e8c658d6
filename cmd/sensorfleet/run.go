package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/racketlab/sensorfleet/internal/bledb"
	"github.com/racketlab/sensorfleet/internal/central"
	"github.com/racketlab/sensorfleet/internal/central/goble"
	"github.com/racketlab/sensorfleet/internal/config"
	"github.com/racketlab/sensorfleet/internal/decode"
	"github.com/racketlab/sensorfleet/internal/engine"
	"github.com/racketlab/sensorfleet/internal/position"
	"github.com/racketlab/sensorfleet/internal/posstore"
	"github.com/racketlab/sensorfleet/internal/recorder"
	"github.com/racketlab/sensorfleet/internal/stats"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect the fleet and record a session",
	Long: `Connect up to three motion sensors, assign them to positions and
record their merged streams into an NDJSON session log. Runs until
interrupted; dropped sensors are reconnected automatically.`,
	RunE: runRun,
}

var (
	runSessionName string
	runActivity    string
)

func init() {
	runCmd.Flags().StringVarP(&runSessionName, "session", "s", "", "Session name (default: timestamp)")
	runCmd.Flags().StringVarP(&runActivity, "activity", "a", "", "Activity tag for the session log")
}

func runRun(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd, logrus.InfoLevel)
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if runActivity != "" {
		cfg.ActivityTag = runActivity
	}
	if runSessionName == "" {
		runSessionName = time.Now().Format("20060102-150405")
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := posstore.New(filepath.Join(cfg.StoreDir, "positions.db"))
	defer store.Close()

	c := goble.New(logger)
	defer c.Close()

	eng := engine.New(c, store, logger, engine.Options{
		FleetSize:    cfg.FleetSize,
		ScanWindow:   cfg.ScanWindow(),
		ScanInterval: cfg.ScanInterval(),
		MTU:          cfg.MTU,
		Retention:    cfg.Retention(),
	})

	rec := recorder.New(recorder.Options{
		Dir:         cfg.SessionDir,
		SessionName: runSessionName,
		Activity:    cfg.ActivityTag,
		AppVersion:  formatVersion(version),
	}, logger)
	if err := rec.Start(); err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		_, _ = rec.Stop("startup_failed")
		return err
	}

	fleet := newFleetSession(cfg, rec, logger)
	fleet.Run(ctx, eng)

	<-ctx.Done()
	logger.Info("Shutting down")

	eng.Stop()
	fleet.Wait()

	summary, err := rec.Stop("interrupted")
	if err != nil {
		return err
	}
	fmt.Printf("Session saved to %s (%d rows, %s)\n",
		summary.Path, summary.Rows, humanize.Bytes(uint64(summary.Bytes)))
	return nil
}

// deviceSession bundles everything attached to one connected sensor.
type deviceSession struct {
	source   string
	ingestor *stats.Ingestor
	motion   central.Subscription
	battery  *stats.SecondaryReader
	steps    *stats.SecondaryReader
	state    *stats.SecondaryReader
}

func (d *deviceSession) teardown() {
	if d.motion != nil {
		_ = d.motion.Cancel()
		d.motion = nil
	}
	if d.battery != nil {
		d.battery.Stop()
		d.battery = nil
	}
	if d.steps != nil {
		d.steps.Stop()
		d.steps = nil
	}
	if d.state != nil {
		d.state.Stop()
		d.state = nil
	}
}

// fleetSession consumes engine events and maintains per-device ingestion,
// secondary readers and recorder bookkeeping.
type fleetSession struct {
	cfg    *config.Config
	rec    *recorder.Recorder
	logger *logrus.Logger

	mu      sync.Mutex
	devices map[string]*deviceSession

	wg sync.WaitGroup
}

func newFleetSession(cfg *config.Config, rec *recorder.Recorder, logger *logrus.Logger) *fleetSession {
	return &fleetSession{
		cfg:     cfg,
		rec:     rec,
		logger:  logger,
		devices: make(map[string]*deviceSession),
	}
}

func (f *fleetSession) Run(ctx context.Context, eng *engine.Engine) {
	f.wg.Add(2)
	go f.eventLoop(ctx, eng)
	go f.statsLoop(ctx)
}

func (f *fleetSession) Wait() {
	f.wg.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	for addr, d := range f.devices {
		d.teardown()
		delete(f.devices, addr)
	}
}

func (f *fleetSession) eventLoop(ctx context.Context, eng *engine.Engine) {
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eng.Events():
			if !ok {
				return
			}
			f.handleEvent(ctx, ev)
		}
	}
}

// statsLoop pushes the latest per-device statistics into the recorder so
// tick rows stay current.
func (f *fleetSession) statsLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			for _, d := range f.devices {
				f.rec.SetLatestStats(d.source, d.ingestor.Current())
			}
			f.mu.Unlock()
		}
	}
}

func (f *fleetSession) handleEvent(ctx context.Context, ev engine.Event) {
	switch ev.Type {
	case engine.EventConnected, engine.EventReconnected:
		f.attach(ctx, ev)

	case engine.EventDropped:
		f.detach(ev.Address, "dropped", "link lost")

	case engine.EventDisconnected:
		f.detach(ev.Address, "disconnected", "requested")

	case engine.EventForgotten:
		f.detach(ev.Address, "forgotten", "")

	case engine.EventReassigned:
		f.mu.Lock()
		d := f.devices[ev.Address]
		f.mu.Unlock()
		if d != nil {
			f.rec.EmitDeviceEvent(d.source, "reassigned", ev.Position.String())
		}
	}
}

// sourceTag names a stream in the session log by its position; unassigned
// spares are tagged by address.
func sourceTag(ev engine.Event) string {
	if ev.Position != position.None {
		return ev.Position.String()
	}
	return ev.Address
}

func (f *fleetSession) attach(ctx context.Context, ev engine.Event) {
	source := sourceTag(ev)
	p := ev.Peripheral

	d := &deviceSession{
		source:   source,
		ingestor: stats.NewIngestor(f.cfg.StatsWindow(), f.cfg.ExpectedHz),
	}

	sub, err := p.Subscribe(bledb.ServiceMotion, bledb.CharMotionData, func(data []byte) {
		now := time.Now()
		d.ingestor.OnPacket(now)
		payload := make([]byte, len(data))
		copy(payload, data)
		f.rec.AppendBatch(source, []recorder.Packet{{
			TimestampUs: now.UnixMicro(),
			Payload:     payload,
		}})
	})
	if err != nil {
		f.logger.WithError(err).WithField("address", ev.Address).Warn("Motion stream subscription failed")
	} else {
		d.motion = sub
	}

	d.battery = stats.NewSecondaryReader(p, bledb.ServiceBattery, bledb.CharBatteryLevel,
		f.cfg.PollInterval(), f.logger, func(data []byte) {
			if pct, ok := decode.BatteryPercent(data); ok {
				f.rec.EmitDeviceEvent(source, "battery", fmt.Sprintf("%d%%", pct))
			}
		})
	if err := d.battery.Start(ctx); err != nil {
		f.logger.WithError(err).WithField("address", ev.Address).Debug("Battery reader unavailable")
		d.battery = nil
	}

	d.steps = f.stepReader(ctx, ev, source)

	d.state = stats.NewSecondaryReader(p, bledb.ServiceMotion, bledb.CharDeviceState,
		f.cfg.PollInterval(), f.logger, func(data []byte) {
			if st, ok := decode.State(data); ok {
				f.rec.SetDeviceState(source, st.String())
			}
		})
	if err := d.state.Start(ctx); err != nil {
		f.logger.WithError(err).WithField("address", ev.Address).Debug("State reader unavailable")
		d.state = nil
	}

	f.mu.Lock()
	if old := f.devices[ev.Address]; old != nil {
		old.teardown()
	}
	f.devices[ev.Address] = d
	f.mu.Unlock()

	event := "connected"
	if ev.Type == engine.EventReconnected {
		event = "reconnected"
	}
	f.rec.EmitDeviceEvent(source, event, ev.Address)
}

// stepReader attaches the step/cadence reading. The vendor step counter
// is preferred; sensors exposing only the standard Running Speed and
// Cadence service fall back to RSC Measurement.
func (f *fleetSession) stepReader(ctx context.Context, ev engine.Event, source string) *stats.SecondaryReader {
	p := ev.Peripheral

	profile, err := p.DiscoverProfile(ctx)
	if err != nil {
		f.logger.WithError(err).WithField("address", ev.Address).Debug("Step reader unavailable")
		return nil
	}

	var reader *stats.SecondaryReader
	switch {
	case profile.Has(bledb.ServiceMotion, bledb.CharStepCount):
		reader = stats.NewSecondaryReader(p, bledb.ServiceMotion, bledb.CharStepCount,
			f.cfg.PollInterval(), f.logger, func(data []byte) {
				if n, ok := decode.StepCount(data); ok {
					f.rec.EmitDeviceEvent(source, "steps", strconv.FormatUint(uint64(n), 10))
				}
			})
	case profile.Has(bledb.ServiceRunning, bledb.CharRSCMeasurement):
		reader = stats.NewSecondaryReader(p, bledb.ServiceRunning, bledb.CharRSCMeasurement,
			f.cfg.PollInterval(), f.logger, func(data []byte) {
				if spm, ok := decode.Cadence(data); ok {
					f.rec.EmitDeviceEvent(source, "cadence", strconv.Itoa(spm))
				}
			})
	default:
		return nil
	}

	if err := reader.Start(ctx); err != nil {
		f.logger.WithError(err).WithField("address", ev.Address).Debug("Step reader unavailable")
		return nil
	}
	return reader
}

func (f *fleetSession) detach(address, event, detail string) {
	f.mu.Lock()
	d := f.devices[address]
	delete(f.devices, address)
	f.mu.Unlock()

	if d == nil {
		return
	}
	d.teardown()
	f.rec.EmitDeviceEvent(d.source, event, detail)
}
