package spi

import (
	"fmt"
	"image"
	"image/color"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/extra/devices/screen"

	"github.com/coreman2200/neopixelconnect/ws2812"
)

// nrzFreq is the only SPI clock nrzled accepts. It spends four SPI bits on
// each protocol bit.
const nrzFreq = 2500 * physic.KiloHertz

var nrzSymbol = ws2812.Timing{T1: 1, T2: 2, T3: 1}

// NRZGenerator collects a frame as RGB and lets periph's nrzled driver do
// the encoding at its fixed clock.
type NRZGenerator struct {
	generator
	dev *nrzled.Dev
	rgb []byte
}

func (g *NRZGenerator) Timing() ws2812.Timing {
	return nrzSymbol
}

// SetClockDiv opens the nrzled device on first use. The divider itself is
// ignored, nrzled always runs the port at nrzFreq.
func (g *NRZGenerator) SetClockDiv(ws2812.ClockDiv) error {
	if g.dev != nil {
		return nil
	}
	opts := nrzled.Opts{
		NumPixels: g.platform.Pixels,
		Channels:  3,
		Freq:      nrzFreq,
	}
	d, err := nrzled.NewSPI(g.port, &opts)
	if err != nil {
		return fmt.Errorf("spi: nrzled on %s: %w", g.name, err)
	}
	g.dev = d
	g.freq = nrzFreq
	log.Debug().Str("dev", d.String()).Str("freq", opts.Freq.String()).Msg("nrzled ready")
	return nil
}

func (g *NRZGenerator) Put(word uint32) error {
	if g.dev == nil {
		return ErrNotConnected
	}
	r, gr, b := ws2812.Unpack(word)
	g.rgb = append(g.rgb, r, gr, b)
	return nil
}

func (g *NRZGenerator) Drain() error {
	if g.dev == nil {
		return ErrNotConnected
	}
	defer func() { g.rgb = g.rgb[:0] }()
	if _, err := g.dev.Write(g.rgb); err != nil {
		return fmt.Errorf("spi: nrzled write: %w", err)
	}
	return nil
}

func (g *NRZGenerator) Close() error {
	if g.dev != nil {
		if err := g.dev.Halt(); err != nil {
			log.Warn().Err(err).Str("port", g.name).Msg("nrzled halt")
		}
	}
	return g.generator.Close()
}

// console draws frames on the terminal when no SPI port exists. It still
// holds the port name so a second claim is refused.
type console struct {
	platform *Platform
	name     string
	drawer   display.Drawer
	px       []color.NRGBA
	closed   bool
}

func newConsole(p *Platform, name string, pixels int) *console {
	if pixels <= 0 {
		pixels = 100
	}
	return &console{platform: p, name: name, drawer: screen.New(pixels)}
}

func (c *console) Timing() ws2812.Timing {
	return symbol
}

func (c *console) SetClockDiv(ws2812.ClockDiv) error {
	return nil
}

func (c *console) Put(word uint32) error {
	r, g, b := ws2812.Unpack(word)
	c.px = append(c.px, color.NRGBA{R: r, G: g, B: b, A: 255})
	return nil
}

func (c *console) Drain() error {
	im := image.NewNRGBA(image.Rect(0, 0, len(c.px), 1))
	for x, p := range c.px {
		im.SetNRGBA(x, 0, p)
	}
	c.px = c.px[:0]
	if err := c.drawer.Draw(c.drawer.Bounds(), im, image.Point{}); err != nil {
		return err
	}
	fmt.Printf("\n")
	return nil
}

func (c *console) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.platform.release(c.name)
	return c.drawer.Halt()
}
