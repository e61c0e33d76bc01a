// Package neopixel drives a WS2812 ("NeoPixel") LED string: a color buffer
// with global brightness, shown through an exclusively owned waveform
// generator.
package neopixel

import (
	"github.com/coreman2200/neopixelconnect/model"
	"github.com/coreman2200/neopixelconnect/ws2812"
)

// MaxPixels is the default buffer capacity.
const MaxPixels = model.MaxPixels

// Auto-show defaults. Single pixel writes are usually batched, whole-string
// writes usually want to be seen.
const (
	DefaultSetPixelAutoShow = false
	DefaultFillAutoShow     = true
	DefaultClearAutoShow    = true
)

var (
	ErrIndexOutOfRange = model.ErrIndexOutOfRange
	ErrCapacity        = model.ErrCapacity
)

type Color = model.ColorVal

func RGB(r, g, b uint8) Color { return model.RGB(r, g, b) }

// ColorFromHue converts a 16-bit hue into a fully saturated color.
func ColorFromHue(hue uint16) Color { return model.ColorFromHue(hue) }

// Blend interpolates linearly between a and b.
func Blend(a, b Color, ratio float64) Color { return model.Blend(a, b, ratio) }

type Options struct {
	// Capacity bounds the pixel count. Zero means MaxPixels.
	Capacity int
	// BlankOnInit clears the string and shows it once during construction.
	BlankOnInit bool
	Encoder     ws2812.Opts
}

// Strip is one LED string on one pin.
type Strip struct {
	buf *model.ColorBuffer
	enc *ws2812.Encoder
}

// New drives pixels LEDs on pin using unit 0, lane 0 of p.
func New(p ws2812.Platform, pin, pixels int) (*Strip, error) {
	return NewWithUnit(p, pin, pixels, 0, 0)
}

// NewWithUnit drives pixels LEDs on pin using the given generator unit and
// lane, for platforms that have more than one.
func NewWithUnit(p ws2812.Platform, pin, pixels, unit, lane int) (*Strip, error) {
	return NewWithOptions(p, pin, pixels, &Options{Encoder: ws2812.Opts{Unit: unit, Lane: lane}})
}

func NewWithOptions(p ws2812.Platform, pin, pixels int, opts *Options) (*Strip, error) {
	if opts == nil {
		opts = &Options{}
	}
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = MaxPixels
	}
	buf, err := model.NewColorBuffer(pixels, capacity)
	if err != nil {
		return nil, err
	}
	enc, err := ws2812.New(p, pin, &opts.Encoder)
	if err != nil {
		return nil, err
	}
	s := &Strip{buf: buf, enc: enc}
	if opts.BlankOnInit {
		if err := s.Clear(true); err != nil {
			_ = enc.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Strip) Len() int {
	return s.buf.Len()
}

// SetPixel stores r, g, b at i. See DefaultSetPixelAutoShow.
func (s *Strip) SetPixel(i int, r, g, b uint8, autoShow bool) error {
	if err := s.buf.SetPixel(i, model.RGB(r, g, b)); err != nil {
		return err
	}
	return s.maybeShow(autoShow)
}

// Fill sets every pixel to r, g, b. See DefaultFillAutoShow.
func (s *Strip) Fill(r, g, b uint8, autoShow bool) error {
	s.buf.Fill(model.RGB(r, g, b))
	return s.maybeShow(autoShow)
}

// Clear turns every pixel off. See DefaultClearAutoShow.
func (s *Strip) Clear(autoShow bool) error {
	s.buf.Clear()
	return s.maybeShow(autoShow)
}

func (s *Strip) maybeShow(show bool) error {
	if !show {
		return nil
	}
	return s.Show()
}

// Show sends the current frame and waits for it to latch.
func (s *Strip) Show() error {
	return s.enc.Show(s.buf)
}

// SetBrightness rescales every pixel from its stored color and shows the
// result.
func (s *Strip) SetBrightness(level uint8) error {
	s.buf.SetBrightness(level)
	return s.Show()
}

func (s *Strip) Brightness() uint8 {
	return s.buf.Brightness()
}

// Pixel returns the color last set at i, before brightness scaling.
func (s *Strip) Pixel(i int) (Color, error) {
	return s.buf.Original(i)
}

func (s *Strip) Offset() uint16 {
	return s.buf.Offset()
}

func (s *Strip) SetOffset(v uint16) {
	s.buf.SetOffset(v)
}

// Buffer exposes the underlying color buffer for read-back.
func (s *Strip) Buffer() *model.ColorBuffer {
	return s.buf
}

func (s *Strip) State() ws2812.State {
	return s.enc.State()
}

// RecalculateClock reprograms the generator after the system clock changed.
func (s *Strip) RecalculateClock() error {
	return s.enc.RecalculateClock()
}

// Close releases the generator and pin.
func (s *Strip) Close() error {
	return s.enc.Close()
}
