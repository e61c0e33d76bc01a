package ws2812

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

const (
	// BitRate is the WS2812 data rate.
	BitRate = 800 * physic.KiloHertz

	// ResetInterval is the minimum low time that latches a frame.
	ResetInterval = 50 * time.Microsecond
)

var ErrClockRange = errors.New("ws2812: clock divider out of range")

// Timing is the shape of one protocol bit in generator cycles: T1 high for
// both symbols, T2 high only for a 1, T3 low for both.
type Timing struct {
	T1, T2, T3 int
}

// DefaultTiming matches the usual single-instruction-per-phase WS2812 program.
var DefaultTiming = Timing{T1: 2, T2: 5, T3: 3}

func (t Timing) Cycles() int {
	return t.T1 + t.T2 + t.T3
}

// ClockDiv is a 16.8 fixed point clock divider.
type ClockDiv struct {
	Int  uint16
	Frac uint8
}

func (d ClockDiv) Float() float64 {
	return float64(d.Int) + float64(d.Frac)/256
}

func (d ClockDiv) String() string {
	return fmt.Sprintf("%d+%d/256", d.Int, d.Frac)
}

// Output returns the symbol clock produced by dividing sys by d.
func (d ClockDiv) Output(sys physic.Frequency) physic.Frequency {
	fixed := int64(d.Int)<<8 | int64(d.Frac)
	if fixed == 0 {
		return 0
	}
	return physic.Frequency(int64(sys) * 256 / fixed)
}

// Divider computes the clock divider that makes one bit of t last exactly
// one period of rate when the generator runs from sys.
func Divider(sys, rate physic.Frequency, t Timing) (ClockDiv, error) {
	cycles := t.Cycles()
	if sys <= 0 || rate <= 0 || cycles <= 0 {
		return ClockDiv{}, fmt.Errorf("%w: sys=%s rate=%s cycles=%d", ErrClockRange, sys, rate, cycles)
	}
	target := int64(rate) * int64(cycles)
	fixed := int64(sys) / target * 256
	fixed += (int64(sys) % target) * 256 / target
	if fixed < 1<<8 || fixed >= 1<<24 {
		return ClockDiv{}, fmt.Errorf("%w: %s / (%s * %d)", ErrClockRange, sys, rate, cycles)
	}
	return ClockDiv{Int: uint16(fixed >> 8), Frac: uint8(fixed & 0xFF)}, nil
}
