package model

import (
	"image/color"
)

// Channel offsets inside a packed ColorVal. The layout is the WS2812 wire
// order (green, red, blue), not the R-G-B order callers pass colors in.
const (
	GREEN_OFFSET uint8 = 0x10
	RED_OFFSET   uint8 = 0x08
	BLUE_OFFSET  uint8 = 0x0
)

// Hue ramp width: the 16-bit hue space is split into ramps of this size.
const HUE_RAMP uint32 = 0x5555

// ColorVal is one pixel, packed as G<<16 | R<<8 | B.
type ColorVal struct {
	val uint32
}

func NewColor(c uint32) ColorVal {
	v := ColorVal{
		val: c & 0xFFFFFF,
	}
	return v
}

// RGB builds a ColorVal from separate channel intensities.
func RGB(r, g, b uint8) ColorVal {
	var c ColorVal
	c.SetR(r)
	c.SetG(g)
	c.SetB(b)
	return c
}

func (c ColorVal) Color() uint32 {
	return c.val
}

func (c ColorVal) ToRGB() color.NRGBA {
	return color.NRGBA{R: c.GetR(), G: c.GetG(), B: c.GetB(), A: 255}
}

func setcolor(c uint32, n uint8, off uint8) uint32 {
	var val uint32 = uint32(n) << off
	var mask uint32 = 0xFF << off
	return (c & (^mask)) | val
}

func getcolor(c uint32, off uint8) uint8 {
	var mask uint32 = 0xFF << off
	return uint8((c & (mask)) >> off)
}

func (c *ColorVal) SetR(r uint8) {
	c.val = setcolor(c.val, r, RED_OFFSET)
}
func (c *ColorVal) SetG(g uint8) {
	c.val = setcolor(c.val, g, GREEN_OFFSET)
}
func (c *ColorVal) SetB(b uint8) {
	c.val = setcolor(c.val, b, BLUE_OFFSET)
}

func (c ColorVal) GetR() uint8 {
	return getcolor(c.val, RED_OFFSET)
}
func (c ColorVal) GetG() uint8 {
	return getcolor(c.val, GREEN_OFFSET)
}
func (c ColorVal) GetB() uint8 {
	return getcolor(c.val, BLUE_OFFSET)
}

// Channels returns the color as separate r, g, b intensities.
func (c ColorVal) Channels() (r, g, b uint8) {
	return c.GetR(), c.GetG(), c.GetB()
}

// Scale returns c with every channel set to floor(channel * level / 255).
func (c ColorVal) Scale(level uint8) ColorVal {
	scale := func(v uint8) uint8 {
		return uint8(uint32(v) * uint32(level) / 255)
	}
	return RGB(scale(c.GetR()), scale(c.GetG()), scale(c.GetB()))
}

// ColorFromHue converts a 16-bit hue into a fully saturated color.
//
// The wheel is walked in ramps of HUE_RAMP: red to yellow, yellow through
// green to cyan-ish, then on to blue. Within a ramp one channel is pinned at
// 0xFF and another moves by (offset*2)>>8. Falling channels subtract the
// shifted offset from 0xFF.
func ColorFromHue(hue uint16) ColorVal {
	h := uint32(hue)
	switch {
	case h < HUE_RAMP:
		return RGB(0xFF, uint8((h*2)>>8), 0)
	case h < 2*HUE_RAMP:
		d := ((h - HUE_RAMP) * 2) >> 8
		return RGB(uint8(0xFF-d), 0xFF, uint8(d))
	case h < 0xFFFF:
		d := ((h - 2*HUE_RAMP) * 2) >> 8
		return RGB(0, uint8(0xFF-d), 0xFF)
	default:
		return RGB(0, 0, 0xFF)
	}
}

// Blend interpolates linearly from a to b. ratio is not clamped; values
// outside [0, 1] extrapolate and wrap to 8 bits.
func Blend(a, b ColorVal, ratio float64) ColorVal {
	mix := func(x, y uint8) uint8 {
		v := float64(x) + (float64(y)-float64(x))*ratio
		return uint8(int64(v))
	}
	return RGB(
		mix(a.GetR(), b.GetR()),
		mix(a.GetG(), b.GetG()),
		mix(a.GetB(), b.GetB()),
	)
}
