// ABOUTME: Monitor command: prints the rate trace of a running player
// ABOUTME: Finds the player over mDNS unless an address is given
package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/team-phoenix/phoenix-audio/internal/discovery"
	"github.com/team-phoenix/phoenix-audio/internal/trace"
)

var monitorOpts struct {
	every   int
	timeout time.Duration
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [host:port]",
	Short: "Print the rate trace of a running player",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMonitor,
}

func init() {
	monitorCmd.Flags().IntVar(&monitorOpts.every, "every", 1, "print every Nth tick")
	monitorCmd.Flags().DurationVar(&monitorOpts.timeout, "timeout", 10*time.Second, "how long to browse for a player")

	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := ""
	if len(args) > 0 {
		addr = args[0]
	} else {
		lookupCtx, cancel := context.WithTimeout(ctx, monitorOpts.timeout)
		svc, err := discovery.Lookup(lookupCtx)
		cancel()
		if err != nil {
			return err
		}
		addr = svc.Addr()
		fmt.Fprintf(cmd.OutOrStdout(), "Found %s at %s\n", svc.Name, addr)
	}

	client, err := trace.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	return printFrames(ctx, cmd.OutOrStdout(), client.Frames(), monitorOpts.every)
}

// printFrames writes one line per frame until the stream or ctx ends
func printFrames(ctx context.Context, w io.Writer, frames <-chan trace.Frame, every int) error {
	if every < 1 {
		every = 1
	}
	ticks := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				fmt.Fprintln(w, "Trace stream closed")
				return nil
			}
			if f.Type == trace.TypeTick {
				ticks++
				if ticks%every != 0 {
					continue
				}
			}
			if line := formatFrame(f); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}
}

func formatFrame(f trace.Frame) string {
	ts := time.UnixMicro(f.Time).Format("15:04:05.000")

	switch f.Type {
	case trace.TypeHello:
		if f.Hello == nil {
			return ""
		}
		return fmt.Sprintf("%s connected to %s (%s %s)", ts, f.Hello.Name, f.Hello.Product, f.Hello.Version)
	case trace.TypeState:
		return fmt.Sprintf("%s state %s", ts, f.State)
	case trace.TypeFormat:
		if f.Format == nil {
			return ""
		}
		format := fmt.Sprintf("%dHz %dch %s%d", f.Format.SampleRate, f.Format.Channels, f.Format.Encoding, f.Format.BitDepth)
		if f.Error != "" {
			return fmt.Sprintf("%s format %s rejected: %s", ts, format, f.Error)
		}
		return fmt.Sprintf("%s format %s", ts, format)
	case trace.TypeTick:
		t := f.Tick
		if t == nil {
			return ""
		}
		if t.Dropped > 0 && t.Nominal == 0 {
			return fmt.Sprintf("%s no device, dropped %d bytes", ts, t.Dropped)
		}
		ppm := 0.0
		if t.Nominal > 0 {
			ppm = (t.Rate/float64(t.Nominal) - 1) * 1e6
		}
		short := ""
		if t.Short {
			short = " short"
		}
		if t.Padded {
			short += " silence"
		}
		if t.Dropped > 0 {
			short += fmt.Sprintf(" dropped %d", t.Dropped)
		}
		return fmt.Sprintf("%s rate %.1fHz (%+.0f ppm) device %3.0f%% wrote %d carry %d ring %d%s",
			ts, t.Rate, ppm, t.Occupancy()*100, t.Written, t.Carry, t.Buffered, short)
	}
	return ""
}
