package preview_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	neopixel "github.com/coreman2200/neopixelconnect"
	"github.com/coreman2200/neopixelconnect/preview"
	"github.com/coreman2200/neopixelconnect/ws2812"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	os.Exit(m.Run())
}

func dial(t *testing.T, srv *httptest.Server, d *websocket.Dialer) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := d.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPreviewStreamsFrames(t *testing.T) {
	hub := preview.New()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	s, err := neopixel.New(hub, 4, 2)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetPixel(1, 7, 8, 9, false))
	require.NoError(t, s.SetBrightness(255))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{0, 0, 0, 7, 8, 9}, msg, "frames go out in R-G-B order")
}

func TestPreviewSingleLane(t *testing.T) {
	hub := preview.New()

	s, err := neopixel.New(hub, 1, 1)
	require.NoError(t, err)

	_, err = neopixel.New(hub, 2, 1)
	assert.ErrorIs(t, err, ws2812.ErrBusy)

	require.NoError(t, s.Close())
	again, err := neopixel.New(hub, 2, 1)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestPreviewHealth(t *testing.T) {
	hub := preview.New()
	s, err := neopixel.New(hub, 3, 1)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Show())

	rec := httptest.NewRecorder()
	hub.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["frame_id"])
	assert.Equal(t, true, resp["claimed"])
	assert.Equal(t, float64(3), resp["pin"])
}

func TestPreviewDropsStalledViewer(t *testing.T) {
	hub := preview.New()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	// never reads, so its socket buffers fill up
	dial(t, srv, &websocket.Dialer{ReadBufferSize: 1024})
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	s, err := neopixel.New(hub, 0, neopixel.MaxPixels)
	require.NoError(t, err)
	defer s.Close()

	deadline := time.Now().Add(10 * time.Second)
	for i := 0; hub.Clients() > 0 && time.Now().Before(deadline); i++ {
		start := time.Now()
		require.NoError(t, s.Fill(uint8(i), 0, 0, true))
		require.Less(t, time.Since(start), time.Second, "show stuck behind viewer at frame %d", i)
	}
	assert.Zero(t, hub.Clients())
}

func TestPreviewZeroValueHub(t *testing.T) {
	hub := &preview.Hub{}
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dial(t, srv, websocket.DefaultDialer)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	s, err := neopixel.New(hub, 0, 1)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Fill(1, 2, 3, true))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, msg)
}
