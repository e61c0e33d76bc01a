package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	neopixel "github.com/coreman2200/neopixelconnect"
)

const DFLT_FPS = 30

// hueStep is how far the rainbow turns each frame.
const hueStep = 256

// Looper pushes a rotating rainbow to a strip at a fixed frame rate.
type Looper struct {
	strip *neopixel.Strip
	fps   int
	start time.Time
}

func NewLooper(s *neopixel.Strip, fps int) *Looper {
	if fps <= 0 {
		fps = DFLT_FPS
	}
	return &Looper{strip: s, fps: fps}
}

// Frame paints one rainbow frame starting at the strip's offset and shows it.
func (l *Looper) Frame() error {
	n := l.strip.Len()
	base := l.strip.Offset()
	for i := 0; i < n; i++ {
		hue := base + uint16(i*65536/n)
		r, g, b := neopixel.ColorFromHue(hue).Channels()
		if err := l.strip.SetPixel(i, r, g, b, false); err != nil {
			return err
		}
	}
	if err := l.strip.Show(); err != nil {
		return err
	}
	l.strip.SetOffset(base + hueStep)
	return nil
}

// Run draws frames until ctx is done.
func (l *Looper) Run(ctx context.Context) error {
	delta := time.Second / time.Duration(l.fps)
	ticker := time.NewTicker(delta)
	defer ticker.Stop()

	l.start = time.Now()
	frames := 0
	for {
		select {
		case <-ticker.C:
			if err := l.Frame(); err != nil {
				return err
			}
			frames++
		case <-ctx.Done():
			log.Debug().
				Int("frames", frames).
				Dur("elapsed", time.Since(l.start)).
				Msg("loop stopped")
			return nil
		}
	}
}
