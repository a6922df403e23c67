// ABOUTME: Wire frames for the rate trace stream
// ABOUTME: JSON messages describing ticks, state changes and applied formats
package trace

import (
	"time"

	"github.com/team-phoenix/phoenix-audio/pkg/audio"
	"github.com/team-phoenix/phoenix-audio/pkg/playback"
)

// Frame types
const (
	TypeHello  = "trace/hello"
	TypeTick   = "trace/tick"
	TypeState  = "trace/state"
	TypeFormat = "trace/format"
)

// Frame is one trace message
type Frame struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Time    int64  `json:"time_us"` // unix microseconds

	Hello  *Hello  `json:"hello,omitempty"`
	Tick   *Tick   `json:"tick,omitempty"`
	State  string  `json:"state,omitempty"`
	Format *Format `json:"format,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Hello is sent once when a monitor connects
type Hello struct {
	Name    string `json:"name"`
	Product string `json:"product"`
	Version string `json:"version"`
}

// Tick mirrors playback.TickStats
type Tick struct {
	Rate      float64 `json:"rate"`
	Nominal   int     `json:"nominal"`
	Direction float64 `json:"direction"`
	Free      int     `json:"free"`
	Capacity  int     `json:"capacity"`
	Buffered  int     `json:"buffered"`
	Written   int     `json:"written"`
	Carry     int     `json:"carry"`
	Short     bool    `json:"short,omitempty"`
	Dropped   int     `json:"dropped,omitempty"`
	Padded    bool    `json:"padded,omitempty"`
}

// Format is an audio format on the wire
type Format struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
	Encoding   string `json:"encoding"`
}

// Occupancy returns how full the device buffer was, 0 to 1
func (t Tick) Occupancy() float64 {
	if t.Capacity <= 0 {
		return 0
	}
	return float64(t.Capacity-t.Free) / float64(t.Capacity)
}

// TickFrame converts driver tick stats to a frame
func TickFrame(ts playback.TickStats) Frame {
	return Frame{
		Type:    TypeTick,
		Session: ts.Session.String(),
		Time:    ts.Time.UnixMicro(),
		Format:  formatOf(ts.Format),
		Tick: &Tick{
			Rate:      ts.Rate,
			Nominal:   ts.Nominal,
			Direction: ts.Direction,
			Free:      ts.Free,
			Capacity:  ts.Capacity,
			Buffered:  ts.Buffered,
			Written:   ts.Written,
			Carry:     ts.Carry,
			Short:     ts.Short,
			Dropped:   ts.Dropped,
			Padded:    ts.Padded,
		},
	}
}

// StateFrame reports a driver state change
func StateFrame(s playback.State) Frame {
	return Frame{Type: TypeState, Time: time.Now().UnixMicro(), State: s.String()}
}

// FormatFrame reports an applied (or rejected) producer format
func FormatFrame(f audio.Format, err error) Frame {
	fr := Frame{Type: TypeFormat, Time: time.Now().UnixMicro(), Format: formatOf(f)}
	if err != nil {
		fr.Error = err.Error()
	}
	return fr
}

func formatOf(f audio.Format) *Format {
	return &Format{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		BitDepth:   f.BitDepth,
		Encoding:   f.Encoding.String(),
	}
}
