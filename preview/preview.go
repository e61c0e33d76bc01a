// Package preview is a ws2812 platform that streams latched frames to
// browsers over websocket instead of driving LEDs.
package preview

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/neopixelconnect/ws2812"
)

// Clock is the pretend system clock.
const Clock = 125 * physic.MegaHertz

// writeWait bounds how long a slow viewer can hold up a frame.
const writeWait = 200 * time.Millisecond

// Hub owns a single lane. Every drained frame is broadcast as a binary
// message of R, G, B bytes per pixel.
type Hub struct {
	Throttle time.Duration

	mu       sync.Mutex
	claimed  bool
	pin      int
	clients  map[*websocket.Conn]bool
	frameID  uint64
	lastEmit time.Time
	started  time.Time
	upgrader websocket.Upgrader
}

func New() *Hub {
	return &Hub{
		clients:  map[*websocket.Conn]bool{},
		started:  time.Now(),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (h *Hub) SystemClock() physic.Frequency {
	return Clock
}

func (h *Hub) Claim(pin, unit, lane int) (ws2812.Generator, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.claimed {
		return nil, ws2812.ErrBusy
	}
	h.claimed = true
	h.pin = pin
	return &generator{hub: h}, nil
}

// Clients reports the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler routes /ws to the frame stream and /health to a JSON summary.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleFramesWS)
	mux.HandleFunc("/health", h.HandleHealth)
	return mux
}

func (h *Hub) HandleFramesWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("preview upgrade")
		return
	}
	h.mu.Lock()
	if h.clients == nil {
		h.clients = map[*websocket.Conn]bool{}
	}
	h.clients[conn] = true
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	resp := map[string]any{
		"frame_id": h.frameID,
		"uptime_s": time.Since(h.started).Seconds(),
		"clients":  len(h.clients),
		"claimed":  h.claimed,
		"pin":      h.pin,
	}
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Hub) broadcast(rgb []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frameID++
	now := time.Now()
	if h.Throttle > 0 && h.lastEmit.Add(h.Throttle).After(now) {
		return
	}
	h.lastEmit = now
	for c := range h.clients {
		c.SetWriteDeadline(now.Add(writeWait))
		if err := c.WriteMessage(websocket.BinaryMessage, rgb); err != nil {
			log.Debug().Err(err).Str("viewer", c.RemoteAddr().String()).Msg("dropping preview client")
			delete(h.clients, c)
			c.Close()
		}
	}
}

func (h *Hub) release() {
	h.mu.Lock()
	h.claimed = false
	h.mu.Unlock()
}

type generator struct {
	hub    *Hub
	rgb    []byte
	closed bool
}

func (g *generator) Timing() ws2812.Timing {
	return ws2812.DefaultTiming
}

func (g *generator) SetClockDiv(ws2812.ClockDiv) error {
	return nil
}

func (g *generator) Put(word uint32) error {
	r, gr, b := ws2812.Unpack(word)
	g.rgb = append(g.rgb, r, gr, b)
	return nil
}

func (g *generator) Drain() error {
	frame := append([]byte(nil), g.rgb...)
	g.rgb = g.rgb[:0]
	g.hub.broadcast(frame)
	return nil
}

func (g *generator) Close() error {
	if !g.closed {
		g.closed = true
		g.hub.release()
	}
	return nil
}
