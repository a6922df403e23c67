// ABOUTME: Test app to verify drift correction
// ABOUTME: Runs a skewed virtual device against a skewed producer and reports the corrected rate
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	"github.com/team-phoenix/phoenix-audio/pkg/audio/output"
	"github.com/team-phoenix/phoenix-audio/pkg/playback"
	"github.com/team-phoenix/phoenix-audio/pkg/source"
)

var (
	duration = flag.Duration("duration", 20*time.Second, "how long to run")
	drift    = flag.Float64("drift", 200, "producer clock error in ppm")
	skew     = flag.Float64("skew", -300, "device clock error in ppm")
	rate     = flag.Int("rate", 48000, "sample rate (Hz)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	fmt.Println("=== Drift Correction Test ===")
	fmt.Printf("Producer runs %+.0f ppm, device runs %+.0f ppm.\n", *drift, *skew)
	fmt.Println("A steady ring level means the corrected rate keeps up with the mismatch.")
	fmt.Println()

	format := audio.Format{SampleRate: *rate, Channels: 2, BitDepth: 16, Encoding: audio.EncodingSigned}
	sink := output.NewVirtual(output.VirtualOptions{SkewPPM: *skew})

	var (
		mu    sync.Mutex
		rates []float64
	)
	driver, err := playback.NewDriver(playback.Config{
		Sink: sink,
		OnTick: func(ts playback.TickStats) {
			mu.Lock()
			rates = append(rates, ts.Rate)
			mu.Unlock()
		},
	})
	if err != nil {
		log.Fatalf("Failed to create driver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	driver.Start(ctx)
	driver.SetFormat(format)
	driver.SetRunning(true)

	tone, err := source.NewTone(format, 440)
	if err != nil {
		log.Fatalf("Failed to create tone: %v", err)
	}
	go source.Pump(ctx, tone, driver, source.PumpConfig{DriftPPM: *drift})

	report := time.NewTicker(time.Second)
	defer report.Stop()

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-report.C:
			mu.Lock()
			window := rates
			rates = nil
			mu.Unlock()

			stats := driver.Stats()
			fmt.Printf("rate %.2fHz (%+7.1f ppm)  ring %5d bytes  underruns %d\n",
				mean(window), ppm(mean(window), *rate), stats.Buffered, stats.Underruns)
		}
	}

	driver.Close()

	// Producer frames per device frame, as ppm
	mismatch := ((1+*drift/1e6)/(1+*skew/1e6) - 1) * 1e6
	final := driver.Stats()
	fmt.Println()
	// Settled, each producer frame plays as 1/(1+mismatch) device frames
	expected := (1/(1+mismatch/1e6) - 1) * 1e6
	fmt.Printf("Clock mismatch:      %+.1f ppm\n", mismatch)
	fmt.Printf("Expected correction: %+.1f ppm\n", expected)
	fmt.Printf("Last corrected rate: %.2fHz (%+.1f ppm)\n", final.Rate, ppm(final.Rate, *rate))
	fmt.Printf("Device played %d bytes, %d underruns\n", sink.Played(), final.Underruns)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func ppm(r float64, nominal int) float64 {
	return (r/float64(nominal) - 1) * 1e6
}
