// ABOUTME: Tests for CLI commands
// ABOUTME: Covers flag merging, trace printing and the version command
package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/team-phoenix/phoenix-audio/internal/config"
	"github.com/team-phoenix/phoenix-audio/internal/trace"
	"github.com/team-phoenix/phoenix-audio/internal/version"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	"github.com/team-phoenix/phoenix-audio/pkg/playback"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out.String(), version.Version) {
		t.Errorf("expected version in output, got %q", out.String())
	}
}

func TestApplyPlayFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(*config.Config) bool
		wantErr bool
	}{
		{
			name:  "defaults untouched",
			args:  nil,
			check: func(c *config.Config) bool { return c.Sink == "oto" && c.Deviation == 0.005 },
		},
		{
			name:  "overrides",
			args:  []string{"--sink", "virtual", "--deviation", "0.01", "--volume", "0.25"},
			check: func(c *config.Config) bool { return c.Sink == "virtual" && c.Deviation == 0.01 && c.VolumeLevel() == 0.25 },
		},
		{
			name: "device format",
			args: []string{"--device-rate", "44100", "--device-channels", "2", "--device-sample", "f32"},
			check: func(c *config.Config) bool {
				f, err := c.DeviceFormat()
				return err == nil && f == audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 32, Encoding: audio.EncodingFloat}
			},
		},
		{
			name:    "bad sink",
			args:    []string{"--sink", "jack"},
			wantErr: true,
		},
		{
			name:    "partial device format",
			args:    []string{"--device-rate", "44100"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// fresh flag state per case
			for _, name := range []string{"sink", "deviation", "volume", "device-rate", "device-channels", "device-sample"} {
				playCmd.Flags().Lookup(name).Changed = false
			}
			if err := playCmd.Flags().Parse(tt.args); err != nil {
				t.Fatalf("parse failed: %v", err)
			}

			cfg := config.Default()
			err := applyPlayFlags(playCmd, cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("unexpected config: %+v", cfg)
			}
		})
	}
}

func TestPrintFrames(t *testing.T) {
	frames := make(chan trace.Frame, 8)
	frames <- trace.Frame{Type: trace.TypeHello, Hello: &trace.Hello{Name: "desk", Product: version.Product, Version: "1.0"}}
	frames <- trace.FormatFrame(audio.S16Stereo48K, nil)
	frames <- trace.StateFrame(playback.StateActive)
	for i := 0; i < 4; i++ {
		frames <- trace.TickFrame(playback.TickStats{Time: time.Now(), Rate: 48024, Nominal: 48000, Free: 2048, Capacity: 4096})
	}
	close(frames)

	var out bytes.Buffer
	if err := printFrames(context.Background(), &out, frames, 2); err != nil {
		t.Fatalf("printFrames failed: %v", err)
	}

	text := out.String()
	for _, want := range []string{"connected to desk", "format 48000Hz 2ch s16", "state active", "+500 ppm", "device  50%", "Trace stream closed"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output:\n%s", want, text)
		}
	}
	if n := strings.Count(text, " rate "); n != 2 {
		t.Errorf("expected every second tick printed (2), got %d", n)
	}
}

func TestFormatFrameRejected(t *testing.T) {
	line := formatFrame(trace.FormatFrame(audio.Format{SampleRate: 8000, Channels: 9, BitDepth: 12}, playback.ErrFormatUnsupported))
	if !strings.Contains(line, "rejected") {
		t.Errorf("expected rejected format line, got %q", line)
	}
	if formatFrame(trace.Frame{Type: trace.TypeTick}) != "" {
		t.Error("expected empty line for a tick without data")
	}
}

func TestFormatTickFrame(t *testing.T) {
	tests := []struct {
		name     string
		ts       playback.TickStats
		expected string
	}{
		{"no device", playback.TickStats{Dropped: 960, Rate: 48000}, "no device, dropped 960 bytes"},
		{"silence", playback.TickStats{Rate: 48240, Nominal: 48000, Capacity: 4096, Free: 4096, Padded: true}, " silence"},
		{"carry trimmed", playback.TickStats{Rate: 48000, Nominal: 48000, Capacity: 4096, Free: 2048, Dropped: 8}, " dropped 8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.ts.Time = time.Now()
			line := formatFrame(trace.TickFrame(tt.ts))
			if !strings.Contains(line, tt.expected) {
				t.Errorf("expected %q in %q", tt.expected, line)
			}
		})
	}
}

func TestDriverConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Device = config.Device{SampleRate: 44100, Channels: 2, Sample: "f32"}

	dc, err := driverConfig(cfg, nil)
	if err != nil {
		t.Fatalf("driverConfig failed: %v", err)
	}
	expected := audio.Format{SampleRate: 44100, Channels: 2, BitDepth: 32, Encoding: audio.EncodingFloat}
	if dc.DeviceFormat != expected {
		t.Errorf("expected device format %s, got %s", expected, dc.DeviceFormat)
	}
	if dc.Deviation != cfg.Deviation || dc.RingDuration != cfg.RingDuration() {
		t.Errorf("unexpected driver config: %+v", dc)
	}

	cfg.Device.Sample = "s12"
	if _, err := driverConfig(cfg, nil); err == nil {
		t.Error("expected an error for a bad device sample type")
	}
}
