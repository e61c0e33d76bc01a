package ws2812_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"periph.io/x/conn/v3/physic"

	. "github.com/coreman2200/neopixelconnect/ws2812"
	"github.com/coreman2200/neopixelconnect/ws2812/fake"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	goleak.VerifyTestMain(m)
}

type frame [][3]uint8

func (f frame) Len() int { return len(f) }

func (f frame) RGB(i int) (r, g, b uint8) { return f[i][0], f[i][1], f[i][2] }

var TestPackIsGRB = []struct {
	R, G, B uint8
	Expect  uint32
}{
	{0x00, 0x00, 0x00, 0x00000000},
	{0xFF, 0x00, 0x00, 0x00FF0000},
	{0x00, 0xFF, 0x00, 0xFF000000},
	{0x00, 0x00, 0xFF, 0x0000FF00},
	{0x12, 0x34, 0x56, 0x34125600},
}

func TestPack(t *testing.T) {
	for _, v := range TestPackIsGRB {
		word := Pack(v.R, v.G, v.B)
		assert.Equal(t, v.Expect, word, "rgb %02x%02x%02x", v.R, v.G, v.B)
		r, g, b := Unpack(word)
		assert.Equal(t, [3]uint8{v.R, v.G, v.B}, [3]uint8{r, g, b})
	}
}

func TestDivider(t *testing.T) {
	div, err := Divider(125*physic.MegaHertz, BitRate, DefaultTiming)
	require.NoError(t, err)
	assert.Equal(t, ClockDiv{Int: 15, Frac: 160}, div)
	assert.Equal(t, 15.625, div.Float())
	assert.Equal(t, BitRate*physic.Frequency(DefaultTiming.Cycles()), div.Output(125*physic.MegaHertz))

	div, err = Divider(8*physic.MegaHertz, BitRate, DefaultTiming)
	require.NoError(t, err)
	assert.Equal(t, ClockDiv{Int: 1}, div)
}

func TestDividerOutOfRange(t *testing.T) {
	_, err := Divider(4*physic.MegaHertz, BitRate, DefaultTiming)
	assert.ErrorIs(t, err, ErrClockRange, "clock too slow for 800kHz")

	_, err = Divider(physic.Frequency(1)<<62, physic.Hertz, Timing{T1: 1})
	assert.ErrorIs(t, err, ErrClockRange)

	_, err = Divider(125*physic.MegaHertz, BitRate, Timing{})
	assert.ErrorIs(t, err, ErrClockRange)
}

func TestEncoderLifecycle(t *testing.T) {
	p := fake.NewPlatform(2, 4, 125*physic.MegaHertz)

	e, err := New(p, 16, &Opts{Unit: 1, Lane: 2})
	require.NoError(t, err)
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, 1, p.Claimed())

	g := p.Generator(1, 2)
	require.NotNil(t, g)
	assert.Equal(t, 16, g.Pin())
	assert.Equal(t, []ClockDiv{{Int: 15, Frac: 160}}, g.ClockDivs())

	require.NoError(t, e.Close())
	assert.Equal(t, Uninitialized, e.State())
	assert.Equal(t, 0, p.Claimed())
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Show(frame{}), ErrClosed)
	assert.ErrorIs(t, e.RecalculateClock(), ErrClosed)
}

func TestEncoderExclusiveClaim(t *testing.T) {
	p := fake.NewPlatform(1, 2, 125*physic.MegaHertz)

	a, err := New(p, 2, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = New(p, 3, nil)
	assert.ErrorIs(t, err, ErrBusy, "same unit and lane")

	_, err = New(p, 2, &Opts{Lane: 1})
	assert.ErrorIs(t, err, ErrBusy, "same pin")

	_, err = New(p, 4, &Opts{Unit: 1})
	assert.ErrorIs(t, err, fake.ErrNoUnit)

	b, err := New(p, 4, &Opts{Lane: 1})
	require.NoError(t, err)
	require.NoError(t, b.Close())
}

func TestEncoderRejectsBadClockAtInit(t *testing.T) {
	p := fake.NewPlatform(1, 1, 1*physic.MegaHertz)

	_, err := New(p, 0, nil)
	assert.ErrorIs(t, err, ErrClockRange)
	assert.Equal(t, 0, p.Claimed(), "generator is released when init fails")
}

func TestEncoderShowEmitsGRBWords(t *testing.T) {
	p := fake.NewPlatform(1, 1, 125*physic.MegaHertz)
	e, err := New(p, 0, nil)
	require.NoError(t, err)
	defer e.Close()

	f := frame{{127, 0, 0}, {0, 1, 2}, {255, 255, 255}}
	require.NoError(t, e.Show(f))
	require.NoError(t, e.Show(f))
	assert.Equal(t, Idle, e.State())

	frames := p.Generator(0, 0).Frames()
	require.Len(t, frames, 2)
	want := []uint32{0x007F0000, 0x01000200, 0xFFFFFF00}
	assert.Equal(t, want, frames[0])
	assert.Equal(t, frames[0], frames[1], "showing twice without changes is idempotent")
}

func TestEncoderShowBackPressure(t *testing.T) {
	p := fake.NewPlatform(1, 1, 125*physic.MegaHertz)
	p.Symbol = 10 * time.Microsecond
	e, err := New(p, 0, nil)
	require.NoError(t, err)
	defer e.Close()

	f := make(frame, 3*fake.FIFODepth)
	for i := range f {
		f[i] = [3]uint8{uint8(i), 0, 0}
	}
	require.NoError(t, e.Show(f))

	frames := p.Generator(0, 0).Frames()
	require.Len(t, frames, 1)
	require.Len(t, frames[0], len(f))
	for i, w := range frames[0] {
		r, _, _ := Unpack(w)
		assert.Equal(t, uint8(i), r, "words stay in pixel order")
	}
}

func TestEncoderShowHoldsReset(t *testing.T) {
	p := fake.NewPlatform(1, 1, 125*physic.MegaHertz)
	e, err := New(p, 0, &Opts{Reset: 2 * time.Millisecond})
	require.NoError(t, err)
	defer e.Close()

	start := time.Now()
	require.NoError(t, e.Show(frame{{1, 2, 3}}))
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
}

func TestEncoderShowReportsGeneratorFault(t *testing.T) {
	p := fake.NewPlatform(1, 1, 125*physic.MegaHertz)
	fault := errors.New("fifo stalled")
	p.FailPut = fault
	e, err := New(p, 0, nil)
	require.NoError(t, err)
	defer e.Close()

	err = e.Show(frame{{1, 2, 3}})
	assert.ErrorIs(t, err, fault)
	assert.Equal(t, Idle, e.State())
}

func TestEncoderRecalculateClock(t *testing.T) {
	p := fake.NewPlatform(1, 1, 125*physic.MegaHertz)
	e, err := New(p, 0, nil)
	require.NoError(t, err)
	defer e.Close()

	p.SetSystemClock(200 * physic.MegaHertz)
	require.NoError(t, e.RecalculateClock())
	assert.Equal(t, ClockDiv{Int: 25}, e.ClockDiv())
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, BitRate*10, e.ClockDiv().Output(p.SystemClock()))

	p.SetSystemClock(2 * physic.MegaHertz)
	assert.ErrorIs(t, e.RecalculateClock(), ErrClockRange)
	assert.Equal(t, ClockDiv{Int: 25}, e.ClockDiv(), "a rejected divider is not applied")

	divs := p.Generator(0, 0).ClockDivs()
	assert.Equal(t, []ClockDiv{{Int: 15, Frac: 160}, {Int: 25}}, divs)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", Uninitialized.String())
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "transmitting", Transmitting.String())
	assert.Equal(t, "State(7)", State(7).String())
}

func TestFakeZeroValuePlatform(t *testing.T) {
	p := &fake.Platform{Units: 1, Lanes: 1}
	p.SetSystemClock(125 * physic.MegaHertz)

	e, err := New(p, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Claimed())

	_, err = p.Claim(3, 0, 0)
	assert.ErrorIs(t, err, ErrBusy)
	require.NoError(t, e.Close())
	assert.Zero(t, p.Claimed())
}
