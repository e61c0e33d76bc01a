// Package fake is an in-memory ws2812 platform for headless runs and tests.
package fake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/neopixelconnect/ws2812"
)

// FIFODepth matches a TX FIFO joined across both directions.
const FIFODepth = 8

var (
	ErrNoUnit   = errors.New("fake: no such unit or lane")
	ErrReleased = errors.New("fake: generator released")
)

type lane struct{ unit, lane int }

// Platform is a set of Units x Lanes generators sharing one system clock.
type Platform struct {
	Units, Lanes int
	// Symbol is how long one word takes to shift out. Zero drains instantly.
	Symbol time.Duration
	// FailPut makes every Put fail with this error once set.
	FailPut error

	mu     sync.Mutex
	clock  physic.Frequency
	lanes  map[lane]*Generator
	pins   map[int]lane
	claims int
}

func NewPlatform(units, lanes int, clock physic.Frequency) *Platform {
	return &Platform{
		Units: units,
		Lanes: lanes,
		clock: clock,
		lanes: map[lane]*Generator{},
		pins:  map[int]lane{},
	}
}

func (p *Platform) SystemClock() physic.Frequency {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock
}

// SetSystemClock simulates the MCU being re-clocked.
func (p *Platform) SetSystemClock(f physic.Frequency) {
	p.mu.Lock()
	p.clock = f
	p.mu.Unlock()
}

// Claimed reports how many generators are currently held.
func (p *Platform) Claimed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lanes)
}

// Claims counts successful claims over the platform's lifetime.
func (p *Platform) Claims() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.claims
}

// Generator returns the generator held on unit/lane, or nil.
func (p *Platform) Generator(unit, ln int) *Generator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lanes[lane{unit, ln}]
}

func (p *Platform) Claim(pin, unit, ln int) (ws2812.Generator, error) {
	if unit < 0 || unit >= p.Units || ln < 0 || ln >= p.Lanes {
		return nil, fmt.Errorf("%w: unit %d lane %d", ErrNoUnit, unit, ln)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := lane{unit, ln}
	if _, ok := p.lanes[key]; ok {
		return nil, fmt.Errorf("%w: unit %d lane %d", ws2812.ErrBusy, unit, ln)
	}
	if held, ok := p.pins[pin]; ok {
		return nil, fmt.Errorf("%w: pin %d held by unit %d lane %d", ws2812.ErrBusy, pin, held.unit, held.lane)
	}
	if p.lanes == nil {
		p.lanes = map[lane]*Generator{}
		p.pins = map[int]lane{}
	}
	g := &Generator{
		platform: p,
		key:      key,
		pin:      pin,
		fifo:     make(chan uint32, FIFODepth),
		drained:  make(chan struct{}),
		done:     make(chan struct{}),
		symbol:   p.Symbol,
		failPut:  p.FailPut,
	}
	p.lanes[key] = g
	p.pins[pin] = key
	p.claims++
	go g.shift()
	return g, nil
}

func (p *Platform) release(g *Generator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.lanes, g.key)
	delete(p.pins, g.pin)
}

// Generator records every word it shifts out, grouped by frame.
type Generator struct {
	platform *Platform
	key      lane
	pin      int
	symbol   time.Duration
	failPut  error

	fifo    chan uint32
	drained chan struct{}
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	pending int
	current []uint32
	frames  [][]uint32
	divs    []ws2812.ClockDiv
}

func (g *Generator) Timing() ws2812.Timing {
	return ws2812.DefaultTiming
}

func (g *Generator) SetClockDiv(div ws2812.ClockDiv) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.divs = append(g.divs, div)
	return nil
}

func (g *Generator) Put(word uint32) error {
	if g.failPut != nil {
		return g.failPut
	}
	g.mu.Lock()
	g.pending++
	g.mu.Unlock()
	select {
	case g.fifo <- word:
		return nil
	case <-g.done:
		return ErrReleased
	}
}

func (g *Generator) shift() {
	for {
		select {
		case w := <-g.fifo:
			if g.symbol > 0 {
				time.Sleep(g.symbol)
			}
			g.mu.Lock()
			g.current = append(g.current, w)
			g.pending--
			if g.pending == 0 {
				g.signal()
			}
			g.mu.Unlock()
		case <-g.done:
			return
		}
	}
}

// signal wakes Drain. g.mu must be held.
func (g *Generator) signal() {
	close(g.drained)
	g.drained = make(chan struct{})
}

func (g *Generator) Drain() error {
	g.mu.Lock()
	if g.pending > 0 {
		wait := g.drained
		g.mu.Unlock()
		select {
		case <-wait:
		case <-g.done:
			return ErrReleased
		}
		g.mu.Lock()
	}
	g.frames = append(g.frames, g.current)
	g.current = nil
	g.mu.Unlock()
	return nil
}

func (g *Generator) Close() error {
	g.once.Do(func() {
		close(g.done)
		g.platform.release(g)
	})
	return nil
}

// Frames returns a copy of every drained frame.
func (g *Generator) Frames() [][]uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][]uint32, len(g.frames))
	for i, f := range g.frames {
		out[i] = append([]uint32(nil), f...)
	}
	return out
}

// ClockDivs returns every divider applied, oldest first.
func (g *Generator) ClockDivs() []ws2812.ClockDiv {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ws2812.ClockDiv(nil), g.divs...)
}

func (g *Generator) Pin() int {
	return g.pin
}
