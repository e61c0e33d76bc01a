package model

import (
	"errors"
	"fmt"
)

const (
	MaxPixels         int   = 1024
	DefaultBrightness uint8 = 255
)

var (
	ErrIndexOutOfRange = errors.New("pixel index out of range")
	ErrCapacity        = errors.New("pixel count exceeds buffer capacity")
)

// ColorBuffer holds the colors of one LED string.
//
// original keeps what the caller asked for; display is original scaled by
// the current brightness and is what gets transmitted. display is always
// recomputed from original so repeated brightness changes never compound
// rounding.
type ColorBuffer struct {
	original   []ColorVal
	display    []ColorVal
	brightness uint8
	offset     uint16
}

// NewColorBuffer allocates a buffer of n pixels, all off. n must not exceed
// capacity.
func NewColorBuffer(n, capacity int) (*ColorBuffer, error) {
	if n < 0 || n > capacity {
		return nil, fmt.Errorf("%w: %d pixels, capacity %d", ErrCapacity, n, capacity)
	}
	v := ColorBuffer{
		original:   make([]ColorVal, n),
		display:    make([]ColorVal, n),
		brightness: DefaultBrightness,
	}
	return &v, nil
}

func (b *ColorBuffer) Len() int {
	return len(b.original)
}

func (b *ColorBuffer) check(i int) error {
	if i < 0 || i >= len(b.original) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(b.original))
	}
	return nil
}

func (b *ColorBuffer) SetPixel(i int, c ColorVal) error {
	if err := b.check(i); err != nil {
		return err
	}
	b.original[i] = c
	b.display[i] = c.Scale(b.brightness)
	return nil
}

func (b *ColorBuffer) Fill(c ColorVal) {
	d := c.Scale(b.brightness)
	for i := range b.original {
		b.original[i] = c
		b.display[i] = d
	}
}

func (b *ColorBuffer) Clear() {
	b.Fill(NewColor(0))
}

func (b *ColorBuffer) Brightness() uint8 {
	return b.brightness
}

func (b *ColorBuffer) SetBrightness(level uint8) {
	b.brightness = level
	for i, c := range b.original {
		b.display[i] = c.Scale(level)
	}
}

// Original returns the unscaled color last set at i.
func (b *ColorBuffer) Original(i int) (ColorVal, error) {
	if err := b.check(i); err != nil {
		return ColorVal{}, err
	}
	return b.original[i], nil
}

// Display returns the brightness-scaled color at i.
func (b *ColorBuffer) Display(i int) (ColorVal, error) {
	if err := b.check(i); err != nil {
		return ColorVal{}, err
	}
	return b.display[i], nil
}

// RGB returns the channels transmitted for pixel i. i must be in [0, Len()).
func (b *ColorBuffer) RGB(i int) (r, g, bl uint8) {
	return b.display[i].Channels()
}

// Offset is the rotation cursor for chase effects. It does not affect
// what gets transmitted.
func (b *ColorBuffer) Offset() uint16 {
	return b.offset
}

func (b *ColorBuffer) SetOffset(v uint16) {
	b.offset = v
}
