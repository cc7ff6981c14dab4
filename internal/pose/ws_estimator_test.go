package pose

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPoseServer answers every binary frame with reply(frame).
func newTestPoseServer(t *testing.T, reply func(frame []byte) string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			resp := reply(msg)
			if resp == "" {
				// simulate a crashing service
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
				return
			}
		}
	}))
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSEstimator_Estimate(t *testing.T) {
	srv, conns := newTestPoseServer(t, func(frame []byte) string {
		if string(frame) == "empty" {
			return `{"landmarks":[]}`
		}
		return `{"landmarks":[{"x":0.1,"y":0.2,"z":0.3}]}`
	})
	defer srv.Close()

	e := NewWSEstimator(wsURL(srv), 0)
	defer func() { require.NoError(t, e.Close()) }()

	lms, err := e.Estimate(context.Background(), []byte("frame-1"))
	require.NoError(t, err)
	assert.Equal(t, Landmarks{{X: 0.1, Y: 0.2, Z: 0.3}}, lms)

	_, err = e.Estimate(context.Background(), []byte("empty"))
	assert.ErrorIs(t, err, ErrNoPose)

	_, err = e.Estimate(context.Background(), []byte("frame-2"))
	require.NoError(t, err)

	// single persistent connection
	assert.Equal(t, int32(1), conns.Load())
}

func TestWSEstimator_ReconnectsAfterFailure(t *testing.T) {
	var n atomic.Int32
	srv, conns := newTestPoseServer(t, func(frame []byte) string {
		if n.Add(1) == 1 {
			return ""
		}
		return `{"landmarks":[{"x":1,"y":1,"z":1}]}`
	})
	defer srv.Close()

	e := NewWSEstimator(wsURL(srv), 0)
	defer func() { _ = e.Close() }()

	_, err := e.Estimate(context.Background(), []byte("a"))
	require.Error(t, err)

	lms, err := e.Estimate(context.Background(), []byte("b"))
	require.NoError(t, err)
	assert.Len(t, lms, 1)
	assert.Equal(t, int32(2), conns.Load())
}

func TestWSEstimator_ServiceError(t *testing.T) {
	srv, _ := newTestPoseServer(t, func(frame []byte) string {
		return `{"error":"model not loaded"}`
	})
	defer srv.Close()

	e := NewWSEstimator(wsURL(srv), 0)
	defer func() { _ = e.Close() }()

	_, err := e.Estimate(context.Background(), []byte("a"))
	assert.ErrorContains(t, err, "model not loaded")
}

func TestWSEstimator_Closed(t *testing.T) {
	e := NewWSEstimator("ws://127.0.0.1:1/none", 0)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Estimate(context.Background(), []byte("a"))
	assert.ErrorContains(t, err, "closed")
}
