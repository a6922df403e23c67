// ABOUTME: Playback statistics and per-tick trace
// ABOUTME: Records corrected rates and byte counts for monitoring
package playback

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/team-phoenix/phoenix-audio/pkg/audio"
)

// Stats tracks driver metrics
type Stats struct {
	Ticks        uint64
	BytesWritten uint64
	BytesDropped uint64
	Underruns    uint64
	ShortWrites  uint64
	SilenceTicks uint64 // ticks padded with silence from a dry ring
	Rate         float64 // last corrected rate (Hz)
	Buffered     int     // bytes waiting in the ring buffer
}

// TickStats describes one playback tick
type TickStats struct {
	Session   uuid.UUID
	Format    audio.Format
	Time      time.Time
	Rate      float64 // corrected rate (Hz)
	Nominal   int     // baseline rate (Hz)
	Direction float64 // -1 (device full) .. +1 (device empty)
	Free      int     // device bytes free before writing
	Capacity  int     // device buffer size
	Buffered  int     // ring bytes left after reading
	Written   int     // bytes the device accepted
	Carry     int     // converted bytes held for the next tick
	Short     bool    // the device took less than offered
	Dropped   int     // bytes discarded
	Padded    bool    // the ring was dry and silence was played
}

// Stats returns driver statistics
func (d *Driver) Stats() Stats {
	d.statsMu.Lock()
	s := d.stats
	d.statsMu.Unlock()

	s.Buffered = d.Buffered()
	return s
}

func (d *Driver) countUnderrun() {
	d.statsMu.Lock()
	d.stats.Underruns++
	d.statsMu.Unlock()
}

func (d *Driver) record(ts TickStats) {
	ts.Session = d.Session()
	ts.Format = d.current
	ts.Time = time.Now()

	d.statsMu.Lock()
	d.stats.Ticks++
	d.stats.BytesWritten += uint64(ts.Written)
	d.stats.BytesDropped += uint64(ts.Dropped)
	if ts.Short {
		d.stats.ShortWrites++
	}
	if ts.Padded {
		d.stats.SilenceTicks++
	}
	if ts.Rate > 0 {
		d.stats.Rate = ts.Rate
	}
	d.statsMu.Unlock()

	if d.config.Debug {
		log.Printf("Tick: rate=%.2fHz dir=%+.3f free=%d/%d written=%d carry=%d ring=%d",
			ts.Rate, ts.Direction, ts.Free, ts.Capacity, ts.Written, ts.Carry, ts.Buffered)
	}
	if d.config.OnTick != nil {
		d.config.OnTick(ts)
	}
}
