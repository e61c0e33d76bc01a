// Package ws2812 encodes color frames into the WS2812 single-wire protocol.
//
// The encoder does not toggle pins itself. It claims a Generator from a
// Platform, programs the generator clock so that one protocol bit lasts
// exactly 1/800kHz, and feeds it one 32-bit word per pixel. The generator
// shifts the words out on its own and holds the line low between frames.
package ws2812

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"
)

var (
	ErrClosed = errors.New("ws2812: encoder closed")
	ErrBusy   = errors.New("ws2812: generator already claimed")
)

// Generator is a hardware unit that serializes words onto an output pin.
type Generator interface {
	// Timing reports the cycles per protocol bit of the loaded program.
	Timing() Timing
	// SetClockDiv takes effect on the next emitted symbol.
	SetClockDiv(div ClockDiv) error
	// Put queues one word, most significant bit first. It blocks while the
	// queue is full.
	Put(word uint32) error
	// Drain blocks until every queued word has left the pin.
	Drain() error
	// Close releases the unit and its pin.
	Close() error
}

// Platform hands out generators.
type Platform interface {
	// Claim acquires exclusive use of lane on unit, driving pin.
	Claim(pin, unit, lane int) (Generator, error)
	// SystemClock is the clock the generators divide down from.
	SystemClock() physic.Frequency
}

// Frame is the color source for one Show.
type Frame interface {
	Len() int
	RGB(i int) (r, g, b uint8)
}

type State int

const (
	Uninitialized State = iota
	Idle
	Transmitting
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Idle:
		return "idle"
	case Transmitting:
		return "transmitting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Opts configures an Encoder. The zero value selects unit 0, lane 0, 800kHz
// and a 50µs reset interval.
type Opts struct {
	Unit, Lane int
	Rate       physic.Frequency
	Reset      time.Duration
}

// Encoder owns one generator for its lifetime.
type Encoder struct {
	platform Platform
	gen      Generator
	pin      int
	rate     physic.Frequency
	reset    time.Duration
	div      ClockDiv
	state    State
	frames   uint64
	log      zerolog.Logger
}

// Pack builds the generator word for one pixel: green, red, blue, most
// significant bit first, left aligned in 32 bits. The LEDs define this
// order; it is not the buffer's R-G-B order.
func Pack(r, g, b uint8) uint32 {
	return (uint32(g)<<16 | uint32(r)<<8 | uint32(b)) << 8
}

// Unpack is the inverse of Pack.
func Unpack(word uint32) (r, g, b uint8) {
	return uint8(word >> 16), uint8(word >> 24), uint8(word >> 8)
}

// New claims a generator on p and programs it for WS2812 output on pin.
func New(p Platform, pin int, opts *Opts) (*Encoder, error) {
	if opts == nil {
		opts = &Opts{}
	}
	e := &Encoder{
		platform: p,
		pin:      pin,
		rate:     opts.Rate,
		reset:    opts.Reset,
		log: log.With().
			Str("component", "ws2812").
			Int("pin", pin).
			Int("unit", opts.Unit).
			Int("lane", opts.Lane).
			Logger(),
	}
	if e.rate == 0 {
		e.rate = BitRate
	}
	if e.reset == 0 {
		e.reset = ResetInterval
	}

	gen, err := p.Claim(pin, opts.Unit, opts.Lane)
	if err != nil {
		return nil, fmt.Errorf("ws2812: claim pin %d unit %d lane %d: %w", pin, opts.Unit, opts.Lane, err)
	}
	e.gen = gen
	if err := e.applyClock(); err != nil {
		_ = gen.Close()
		return nil, err
	}
	e.state = Idle
	e.log.Debug().Str("div", e.div.String()).Msg("generator claimed")
	return e, nil
}

func (e *Encoder) applyClock() error {
	sys := e.platform.SystemClock()
	div, err := Divider(sys, e.rate, e.gen.Timing())
	if err != nil {
		return err
	}
	if err := e.gen.SetClockDiv(div); err != nil {
		return fmt.Errorf("ws2812: set clock divider %s: %w", div, err)
	}
	e.div = div
	return nil
}

func (e *Encoder) State() State {
	return e.state
}

// ClockDiv returns the divider currently programmed into the generator.
func (e *Encoder) ClockDiv() ClockDiv {
	return e.div
}

// Show transmits f and returns once the frame has been shifted out and the
// line has been held low for the reset interval, so the next Show is safe
// to call immediately.
func (e *Encoder) Show(f Frame) error {
	if e.state == Uninitialized {
		return ErrClosed
	}
	e.state = Transmitting
	defer func() { e.state = Idle }()

	n := f.Len()
	for i := 0; i < n; i++ {
		if err := e.gen.Put(Pack(f.RGB(i))); err != nil {
			return fmt.Errorf("ws2812: put pixel %d/%d: %w", i, n, err)
		}
	}
	if err := e.gen.Drain(); err != nil {
		return fmt.Errorf("ws2812: drain: %w", err)
	}
	time.Sleep(e.reset)

	e.frames++
	e.log.Trace().Int("pixels", n).Uint64("frame", e.frames).Msg("frame latched")
	return nil
}

// RecalculateClock reprograms the divider after the system clock changed.
func (e *Encoder) RecalculateClock() error {
	if e.state == Uninitialized {
		return ErrClosed
	}
	if err := e.applyClock(); err != nil {
		return err
	}
	e.log.Debug().Str("div", e.div.String()).Msg("clock recalculated")
	return nil
}

// Close releases the generator. Calling it again is a no-op.
func (e *Encoder) Close() error {
	if e.state == Uninitialized {
		return nil
	}
	e.state = Uninitialized
	err := e.gen.Close()
	e.gen = nil
	return err
}
