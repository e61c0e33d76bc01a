package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	neopixel "github.com/coreman2200/neopixelconnect"
	"github.com/coreman2200/neopixelconnect/internal/config"
	"github.com/coreman2200/neopixelconnect/preview"
	"github.com/coreman2200/neopixelconnect/spi"
	"github.com/coreman2200/neopixelconnect/ws2812"
	"github.com/coreman2200/neopixelconnect/ws2812/fake"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml")
		backend    = flag.String("backend", "", "generator: sim | spi | nrzled | console | preview")
		pin        = flag.Int("pin", 0, "data pin")
		pixels     = flag.Int("pixels", 0, "LEDs on the string")
		unit       = flag.Int("unit", 0, "generator unit (SPI bus)")
		lane       = flag.Int("lane", 0, "generator lane (SPI chip select)")
		brightness = flag.Uint8("brightness", 0, "global brightness 0..255")
		fps        = flag.Int("fps", 0, "frames per second")
		reset      = flag.Duration("reset", 0, "latch time between frames")
		addr       = flag.String("addr", "", "preview listen address")
		verbose    = flag.BoolP("verbose", "v", false, "debug logging")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg := config.Default()
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("config load failed")
		}
		cfg = c
	}

	// flags win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backend
		case "pin":
			cfg.Pin = *pin
		case "pixels":
			cfg.Pixels = *pixels
		case "unit":
			cfg.Unit = *unit
		case "lane":
			cfg.Lane = *lane
		case "brightness":
			cfg.Brightness = *brightness
		case "fps":
			cfg.FPS = *fps
		case "reset":
			cfg.ResetUs = int(reset.Microseconds())
		case "addr":
			cfg.Preview.Addr = *addr
		}
	})
	if err := cfg.Validate(neopixel.MaxPixels); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("neopixel stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	g, ctx := errgroup.WithContext(ctx)

	var platform ws2812.Platform
	switch cfg.Backend {
	case "sim":
		platform = fake.NewPlatform(2, 4, 125*physic.MegaHertz)
	case "spi", "nrzled", "console":
		if _, err := host.Init(); err != nil {
			return err
		}
		p := spi.NewPlatform()
		p.Clock = physic.Frequency(cfg.SPI.ClockHz) * physic.Hertz
		p.Pixels = cfg.Pixels
		p.Fallback = cfg.SPI.Fallback
		if cfg.Backend == "nrzled" {
			p.Backend = spi.NRZLED
		}
		if cfg.Backend == "console" {
			p.Fallback = true
			p.Open = spi.NoPort
		}
		platform = p
	case "preview":
		hub := preview.New()
		hub.Throttle = time.Duration(cfg.Preview.ThrottleMs) * time.Millisecond
		platform = hub
		srv := &http.Server{
			Addr:         cfg.Preview.Addr,
			Handler:      hub.Handler(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("preview server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	strip, err := neopixel.NewWithOptions(platform, cfg.Pin, cfg.Pixels, &neopixel.Options{
		BlankOnInit: true,
		Encoder: ws2812.Opts{
			Unit:  cfg.Unit,
			Lane:  cfg.Lane,
			Reset: cfg.Reset(),
		},
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("backend", cfg.Backend).
		Int("pin", cfg.Pin).
		Int("pixels", cfg.Pixels).
		Msg("strip ready")

	g.Go(func() error {
		defer func() {
			if err := strip.Clear(true); err != nil {
				log.Warn().Err(err).Msg("clear on exit")
			}
			if err := strip.Close(); err != nil {
				log.Warn().Err(err).Msg("release generator")
			}
		}()
		if err := strip.SetBrightness(cfg.Brightness); err != nil {
			return err
		}
		l := NewLooper(strip, cfg.FPS)
		return l.Run(ctx)
	})
	return g.Wait()
}
