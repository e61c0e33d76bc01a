// Package spi drives WS2812 strings from a host SPI controller.
//
// Every protocol bit is stretched over three SPI bits (1 -> 110, 0 -> 100)
// so a 2.4MHz SPI clock produces the 800kHz NRZ waveform on MOSI. The
// generator's unit and lane select the SPI bus and chip select.
package spi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/coreman2200/neopixelconnect/ws2812"
)

const (
	// DefaultClock is the SPI source clock the divider is computed against.
	DefaultClock = 250 * physic.MegaHertz
	// DefaultReset is the low tail appended to every frame.
	DefaultReset = 300 * time.Microsecond
)

var (
	ErrPinMismatch   = errors.New("spi: pin is not the port's MOSI")
	ErrFrameTooLarge = errors.New("spi: frame exceeds the port's transfer size")
	ErrNotConnected  = errors.New("spi: clock divider never applied")
)

type Backend int

const (
	// LUT expands words in this package and writes them with Tx.
	LUT Backend = iota
	// NRZLED hands RGB bytes to periph's nrzled driver.
	NRZLED
)

// symbol is the bit shape produced by the 3x expansion.
var symbol = ws2812.Timing{T1: 1, T2: 1, T3: 1}

// Platform opens SPI ports by name as ws2812 generators.
type Platform struct {
	Clock   physic.Frequency
	Reset   time.Duration
	Backend Backend
	// Pixels sizes the NRZLED backend.
	Pixels int
	// Fallback prints frames to the console when the port cannot be opened.
	Fallback bool
	// Open resolves port names. Defaults to spireg.Open.
	Open func(name string) (spi.PortCloser, error)

	mu   sync.Mutex
	held map[string]bool
}

func NewPlatform() *Platform {
	return &Platform{
		Clock: DefaultClock,
		Reset: DefaultReset,
	}
}

// PortName is the spireg name of bus unit, chip select lane.
func PortName(unit, lane int) string {
	return fmt.Sprintf("SPI%d.%d", unit, lane)
}

func (p *Platform) SystemClock() physic.Frequency {
	if p.Clock == 0 {
		return DefaultClock
	}
	return p.Clock
}

func (p *Platform) open(name string) (spi.PortCloser, error) {
	if p.Open != nil {
		return p.Open(name)
	}
	return spireg.Open(name)
}

func (p *Platform) Claim(pin, unit, lane int) (ws2812.Generator, error) {
	name := PortName(unit, lane)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held[name] {
		return nil, fmt.Errorf("%w: %s", ws2812.ErrBusy, name)
	}

	port, err := p.open(name)
	var g ws2812.Generator
	switch {
	case err != nil && !p.Fallback:
		return nil, fmt.Errorf("spi: open %s: %w", name, err)
	case err != nil:
		log.Warn().Err(err).Str("port", name).Msg("no SPI port, printing frames to the console")
		g = newConsole(p, name, p.Pixels)
	case p.Backend == NRZLED:
		g = &NRZGenerator{generator: generator{platform: p, name: name, pin: pin, port: port}}
	default:
		reset := p.Reset
		if reset == 0 {
			reset = DefaultReset
		}
		g = &Generator{generator: generator{platform: p, name: name, pin: pin, port: port}, reset: reset}
	}
	if p.held == nil {
		p.held = map[string]bool{}
	}
	p.held[name] = true
	return g, nil
}

func (p *Platform) release(name string) {
	p.mu.Lock()
	delete(p.held, name)
	p.mu.Unlock()
}

// generator is the port bookkeeping shared by both backends.
type generator struct {
	platform *Platform
	name     string
	pin      int
	port     spi.PortCloser
	freq     physic.Frequency
	closed   bool
}

func (g *generator) Timing() ws2812.Timing {
	return symbol
}

// retune applies the divider to a port that is already connected.
func (g *generator) retune(div ws2812.ClockDiv) error {
	freq := div.Output(g.platform.SystemClock())
	if err := g.port.LimitSpeed(freq); err != nil {
		return err
	}
	g.freq = freq
	return nil
}

func (g *generator) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	g.platform.release(g.name)
	return g.port.Close()
}

// Generator is the LUT backend.
type Generator struct {
	generator
	conn  spi.Conn
	reset time.Duration
	maxTx int
	buf   []byte
}

func (g *Generator) SetClockDiv(div ws2812.ClockDiv) error {
	if g.conn != nil {
		return g.retune(div)
	}
	freq := div.Output(g.platform.SystemClock())
	c, err := g.port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		return fmt.Errorf("spi: connect %s at %s: %w", g.name, freq, err)
	}
	if pins, ok := c.(spi.Pins); ok && g.pin >= 0 {
		if mosi := pins.MOSI(); mosi != nil && mosi.Number() != g.pin {
			return fmt.Errorf("%w: want %d, %s uses %s", ErrPinMismatch, g.pin, g.name, mosi)
		}
	}
	if l, ok := c.(conn.Limits); ok {
		g.maxTx = l.MaxTxSize()
	}
	g.conn = c
	g.freq = freq
	log.Debug().Str("port", g.name).Str("freq", freq.String()).Int("max_tx", g.maxTx).Msg("spi connected")
	return nil
}

func (g *Generator) Put(word uint32) error {
	if g.conn == nil {
		return ErrNotConnected
	}
	r, gr, b := ws2812.Unpack(word)
	for _, v := range [3]uint8{gr, r, b} {
		g.buf = append(g.buf, lut[v][:]...)
	}
	if g.maxTx > 0 && len(g.buf)+g.tail() > g.maxTx {
		g.buf = g.buf[:0]
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, g.maxTx)
	}
	return nil
}

// tail is the number of zero bytes that hold MOSI low for the reset time.
func (g *Generator) tail() int {
	hz := int64(g.freq / physic.Hertz)
	bits := (int64(g.reset)*hz + int64(time.Second) - 1) / int64(time.Second)
	return int((bits + 7) / 8)
}

// Drain writes the queued frame followed by the reset tail. Tx returns once
// the controller has clocked everything out.
func (g *Generator) Drain() error {
	if g.conn == nil {
		return ErrNotConnected
	}
	frame := append(g.buf, make([]byte, g.tail())...)
	g.buf = g.buf[:0]
	if err := g.conn.Tx(frame, nil); err != nil {
		return fmt.Errorf("spi: write %s: %w", g.name, err)
	}
	return nil
}

// lut expands one byte into 24 SPI bits, MSB first.
var lut [256][3]byte

func init() {
	for v := 0; v < 256; v++ {
		out := uint32(0)
		for i := 7; i >= 0; i-- {
			if (v>>i)&1 == 1 {
				out = out<<3 | 0b110
			} else {
				out = out<<3 | 0b100
			}
		}
		lut[v] = [3]byte{byte(out >> 16), byte(out >> 8), byte(out)}
	}
}

// NoPort is an Open func that never finds a port, for console-only runs.
func NoPort(name string) (spi.PortCloser, error) {
	return nil, fmt.Errorf("spi: %s: no port", name)
}
