// ABOUTME: Play command: source -> playback driver -> output device
// ABOUTME: Wires the producer pump, TUI, trace server and sink together
package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/team-phoenix/phoenix-audio/internal/config"
	"github.com/team-phoenix/phoenix-audio/internal/trace"
	"github.com/team-phoenix/phoenix-audio/internal/ui"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/output"
	"github.com/team-phoenix/phoenix-audio/pkg/playback"
	"github.com/team-phoenix/phoenix-audio/pkg/source"
)

var playOpts struct {
	sink         string
	loop         bool
	frequency    float64
	drift        float64
	skew         float64
	record       string
	opus         bool
	opusBitrate  int
	deviceRate   int
	deviceCh     int
	deviceSample string
	quality      string
	deviation    float64
	volume       float64
	ringMs       int
	bufferMs     int
	trace        bool
	tracePort    int
	name         string
	paused       bool
	duration     time.Duration
	noTUI        bool
}

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play a file (mp3, flac, wav) or a test tone",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPlay,
}

func init() {
	f := playCmd.Flags()
	f.StringVar(&playOpts.sink, "sink", "", "output: oto or virtual")
	f.BoolVar(&playOpts.loop, "loop", false, "restart the file at the end")
	f.Float64Var(&playOpts.frequency, "tone", 440, "test tone frequency when no file is given")
	f.Float64Var(&playOpts.drift, "drift", 0, "producer clock error in ppm")
	f.Float64Var(&playOpts.skew, "skew", 0, "virtual device clock error in ppm")
	f.StringVar(&playOpts.record, "record", "", "record virtual device output to a WAV file")
	f.BoolVar(&playOpts.opus, "opus", false, "pass the source through an Opus encode/decode hop")
	f.IntVar(&playOpts.opusBitrate, "opus-bitrate", 0, "Opus bitrate in bits/s (0 = encoder default)")
	f.IntVar(&playOpts.deviceRate, "device-rate", 0, "fixed device sample rate")
	f.IntVar(&playOpts.deviceCh, "device-channels", 0, "fixed device channel count")
	f.StringVar(&playOpts.deviceSample, "device-sample", "", "fixed device sample type (u8, s16, s24, s32, f32)")
	f.StringVar(&playOpts.quality, "quality", "", "rate conversion quality")
	f.Float64Var(&playOpts.deviation, "deviation", 0, "maximum fractional rate correction")
	f.Float64Var(&playOpts.volume, "volume", 1, "initial volume, 0.0 to 1.0")
	f.IntVar(&playOpts.ringMs, "ring-ms", 0, "producer ring buffer length")
	f.IntVar(&playOpts.bufferMs, "buffer-ms", 0, "device buffer length")
	f.BoolVar(&playOpts.trace, "trace", false, "serve the rate trace over WebSocket")
	f.IntVar(&playOpts.tracePort, "trace-port", 0, "trace server port")
	f.StringVar(&playOpts.name, "name", "", "instance name for mDNS (default: hostname)")
	f.BoolVar(&playOpts.paused, "paused", false, "start paused")
	f.DurationVar(&playOpts.duration, "duration", 0, "stop after this long (0 = until the source ends)")
	f.BoolVar(&playOpts.noTUI, "no-tui", false, "disable the TUI and stream logs")

	rootCmd.AddCommand(playCmd)
}

// applyPlayFlags overrides config values with flags the user set
func applyPlayFlags(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("sink") {
		cfg.Sink = playOpts.sink
	}
	if changed("quality") {
		cfg.Quality = playOpts.quality
	}
	if changed("deviation") {
		cfg.Deviation = playOpts.deviation
	}
	if changed("volume") {
		v := playOpts.volume
		cfg.Volume = &v
	}
	if changed("ring-ms") {
		cfg.RingMs = playOpts.ringMs
	}
	if changed("buffer-ms") {
		cfg.BufferMs = playOpts.bufferMs
	}
	if changed("device-rate") {
		cfg.Device.SampleRate = playOpts.deviceRate
	}
	if changed("device-channels") {
		cfg.Device.Channels = playOpts.deviceCh
	}
	if changed("device-sample") {
		cfg.Device.Sample = playOpts.deviceSample
	}
	if changed("trace") {
		cfg.Trace.Enabled = playOpts.trace
	}
	if changed("trace-port") {
		cfg.Trace.Port = playOpts.tracePort
	}
	if changed("name") {
		cfg.Trace.Name = playOpts.name
	}
	if playOpts.record != "" {
		cfg.Sink = "virtual"
	}
	return cfg.Validate()
}

func openSource(path string) (source.Source, error) {
	src, err := source.Open(path, source.Options{
		Loop:      playOpts.loop,
		Frequency: playOpts.frequency,
	})
	if err != nil {
		return nil, err
	}
	if !playOpts.opus {
		return src, nil
	}

	hop, err := source.NewOpus(src, playOpts.opusBitrate)
	if err != nil {
		src.Close()
		return nil, err
	}
	return hop, nil
}

// openSink builds the configured output. The returned func finishes any
// recording after the driver has closed the sink.
func openSink(cfg *config.Config) (output.Sink, func(), error) {
	opts := output.Options{
		BufferDuration: cfg.BufferDuration(),
		Periods:        cfg.Periods,
	}

	if cfg.Sink == "oto" {
		return output.NewOto(opts), func() {}, nil
	}

	vopts := output.VirtualOptions{Options: opts, SkewPPM: playOpts.skew}
	if playOpts.record == "" {
		return output.NewVirtual(vopts), func() {}, nil
	}

	f, err := os.Create(playOpts.record)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create recording: %w", err)
	}
	vopts.Record = f
	return output.NewVirtual(vopts), func() {
		if err := f.Close(); err != nil {
			log.Printf("Failed to close recording: %v", err)
		}
	}, nil
}

func instanceName(name string) string {
	if name != "" {
		return name
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-phoenix-audio", hostname)
}

// driverConfig maps the player config onto a driver config without callbacks
func driverConfig(cfg *config.Config, sink output.Sink) (playback.Config, error) {
	deviceFormat, err := cfg.DeviceFormat()
	if err != nil {
		return playback.Config{}, fmt.Errorf("invalid device config: %w", err)
	}
	return playback.Config{
		Sink:         sink,
		DeviceFormat: deviceFormat,
		Deviation:    cfg.Deviation,
		RingDuration: cfg.RingDuration(),
		Quality:      cfg.QualityLevel(),
		Debug:        verbose,
	}, nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	base, err := GetConfig()
	if err != nil {
		return err
	}
	cfg := *base
	if err := applyPlayFlags(cmd, &cfg); err != nil {
		return err
	}

	useTUI := !playOpts.noTUI
	closeLog, err := setupLogging(&cfg, useTUI)
	if err != nil {
		return err
	}
	defer closeLog()

	var path string
	if len(args) > 0 {
		path = args[0]
	}
	src, err := openSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	sink, finishSink, err := openSink(&cfg)
	if err != nil {
		return err
	}
	defer finishSink()

	// TUI updates go through a buffer so callbacks on the playback
	// goroutine never wait on the terminal
	var (
		tuiProg *tea.Program
		control *ui.Control
		updates = make(chan tea.Msg, 64)
	)
	updateTUI := func(msg tea.Msg) {
		if tuiProg == nil {
			return
		}
		select {
		case updates <- msg:
		default:
		}
	}

	running := !playOpts.paused
	volume := cfg.VolumeLevel()
	if useTUI {
		control = ui.NewControl()
		tuiProg = ui.Run(control, running, int(volume*100+0.5))
	}

	var hub *trace.Hub
	if cfg.Trace.Enabled {
		hub = trace.NewHub(trace.Config{
			Name:       instanceName(cfg.Trace.Name),
			Port:       cfg.Trace.Port,
			EnableMDNS: true,
		})
	}

	var lastTick atomic.Pointer[playback.TickStats]
	driverCfg, err := driverConfig(&cfg, sink)
	if err != nil {
		return err
	}
	driverCfg.OnTick = func(ts playback.TickStats) {
		lastTick.Store(&ts)
		if hub != nil {
			hub.Publish(trace.TickFrame(ts))
		}
	}
	driverCfg.OnStateChange = func(s playback.State) {
		log.Printf("Playback state: %s", s)
		updateTUI(ui.StatusMsg{State: s.String()})
		if hub != nil {
			hub.Publish(trace.StateFrame(s))
		}
	}
	driverCfg.OnFormatApplied = func(f audio.Format, err error) {
		msg := ui.StatusMsg{Format: f.String()}
		errText := ""
		if err != nil {
			errText = err.Error()
		}
		msg.Err = &errText
		updateTUI(msg)
		if hub != nil {
			hub.Publish(trace.FormatFrame(f, err))
		}
	}
	driverCfg.OnError = func(err error) {
		log.Printf("Playback error: %v", err)
		errText := err.Error()
		updateTUI(ui.StatusMsg{Err: &errText})
	}

	driver, err := playback.NewDriver(driverCfg)
	if err != nil {
		return err
	}
	defer driver.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if playOpts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, playOpts.duration)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	title, artist, album := src.Metadata()
	log.Printf("Playing %s (%s) on %s sink", title, src.Format(), cfg.Sink)

	driver.Start(ctx)
	driver.SetFormat(src.Format())
	driver.SetVolume(volume)
	driver.SetRunning(running)

	if hub != nil {
		go func() {
			if err := hub.Start(ctx); err != nil {
				log.Printf("Trace server error: %v", err)
			}
		}()
	}

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- source.Pump(ctx, src, driver, source.PumpConfig{DriftPPM: playOpts.drift})
	}()

	var tuiDone chan struct{}
	if tuiProg != nil {
		tuiDone = make(chan struct{})
		go func() {
			for {
				select {
				case msg := <-updates:
					tuiProg.Send(msg)
				case <-tuiDone:
					return
				}
			}
		}()
		go func() {
			if _, err := tuiProg.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
			cancel()
		}()
		updateTUI(ui.StatusMsg{Title: title, Artist: artist, Album: album})
		go statsUpdateLoop(ctx, driver, &lastTick, updateTUI)
	}

	err = waitForPlayback(ctx, driver, control, pumpDone)

	cancel()
	driver.Close()
	if tuiProg != nil {
		tuiProg.Quit()
		close(tuiDone)
	}

	stats := driver.Stats()
	log.Printf("Playback stopped: %d ticks, %d bytes written, %d underruns, %d short writes",
		stats.Ticks, stats.BytesWritten, stats.Underruns, stats.ShortWrites)
	return err
}

// waitForPlayback handles user controls until playback should stop
func waitForPlayback(ctx context.Context, driver *playback.Driver, control *ui.Control, pumpDone <-chan error) error {
	var (
		volumeCh  <-chan int
		runningCh <-chan bool
		quitCh    <-chan struct{}
		drained   <-chan time.Time
	)
	if control != nil {
		volumeCh, runningCh, quitCh = control.Volume, control.Running, control.Quit
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("Shutdown signal received")
			return nil
		case <-quitCh:
			log.Printf("Received quit signal from TUI")
			return nil
		case vol := <-volumeCh:
			log.Printf("Volume change: %d%%", vol)
			driver.SetVolume(float64(vol) / 100)
		case run := <-runningCh:
			driver.SetRunning(run)
		case err := <-pumpDone:
			pumpDone = nil
			if err != nil {
				return err
			}
			log.Printf("Source finished, draining buffer")
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			drained = ticker.C
		case <-drained:
			if driver.Buffered() == 0 || driver.State() != playback.StateActive {
				return nil
			}
		}
	}
}

// statsUpdateLoop periodically updates the TUI with playback statistics
func statsUpdateLoop(ctx context.Context, driver *playback.Driver, last *atomic.Pointer[playback.TickStats], updateTUI func(tea.Msg)) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := driver.Stats()
			msg := ui.TickMsg{
				Rate:      stats.Rate,
				Buffered:  stats.Buffered,
				Written:   stats.BytesWritten,
				Underruns: stats.Underruns,
				Dropped:   stats.BytesDropped,
			}
			if ts := last.Load(); ts != nil {
				msg.Nominal = ts.Nominal
				msg.Direction = ts.Direction
				msg.Occupancy = trace.Tick{Free: ts.Free, Capacity: ts.Capacity}.Occupancy()
			}
			updateTUI(msg)
		}
	}
}
