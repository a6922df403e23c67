// ABOUTME: Proportional clock correction from output buffer fill level
// ABOUTME: Nudges the playback rate so producer and device clocks converge
package clock

// DefaultDeviation bounds the pitch change to 0.5% of the nominal rate
const DefaultDeviation = 0.005

// State is a snapshot of the correction loop
type State struct {
	Nominal   int     // unperturbed baseline rate (Hz)
	Current   float64 // corrected rate for the latest tick (Hz)
	Deviation float64 // maximum fractional deviation
	Direction float64 // -1 (full) .. +1 (empty), unclamped
}

// Min returns the lowest rate the corrector will produce
func (s State) Min() float64 {
	return float64(s.Nominal) * (1 - s.Deviation)
}

// Max returns the highest rate the corrector will produce
func (s State) Max() float64 {
	return float64(s.Nominal) * (1 + s.Deviation)
}

// Rate computes the corrected rate for one tick. freeBytes is how much the
// output can accept right now, capacity its total size. More free space than
// half the capacity raises the rate, less lowers it; at exactly half the
// nominal rate is returned unchanged.
func Rate(nominal, freeBytes, capacity int, deviation float64) float64 {
	r, _ := rate(nominal, freeBytes, capacity, deviation)
	return r
}

func rate(nominal, freeBytes, capacity int, deviation float64) (float64, float64) {
	half := float64(capacity) / 2
	if half <= 0 || nominal <= 0 {
		return float64(nominal), 0
	}

	direction := (float64(freeBytes) - half) / half
	corrected := float64(nominal) * (1 + deviation*direction)

	// direction may overshoot on transient readings; the rate may not
	lo := float64(nominal) * (1 - deviation)
	hi := float64(nominal) * (1 + deviation)
	if corrected < lo {
		corrected = lo
	} else if corrected > hi {
		corrected = hi
	}
	return corrected, direction
}

// Corrector holds the baseline rate across ticks. It is owned by the
// playback goroutine and is not safe for concurrent use.
type Corrector struct {
	deviation float64
	state     State
}

// NewCorrector creates a corrector. A deviation <= 0 selects DefaultDeviation.
func NewCorrector(deviation float64) *Corrector {
	if deviation <= 0 {
		deviation = DefaultDeviation
	}
	return &Corrector{
		deviation: deviation,
		state:     State{Deviation: deviation},
	}
}

// Correct runs one tick of the loop. The baseline is latched from formatRate
// on the first call after construction or Reset and is never derived from an
// earlier corrected rate.
func (c *Corrector) Correct(freeBytes, capacity, formatRate int) float64 {
	if c.state.Nominal == 0 {
		c.state.Nominal = formatRate
	}

	c.state.Current, c.state.Direction = rate(c.state.Nominal, freeBytes, capacity, c.deviation)
	return c.state.Current
}

// Reset forgets the baseline; the next Correct latches a new one
func (c *Corrector) Reset() {
	c.state = State{Deviation: c.deviation}
}

// State returns the latest loop state
func (c *Corrector) State() State {
	return c.state
}
