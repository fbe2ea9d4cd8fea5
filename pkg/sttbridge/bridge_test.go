package sttbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"github.com/voxedge/agent/pkg/orchestrator"
)

func TestBridgeSessionConverges(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		for {
			msgType, payload, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if msgType == websocket.MessageText && string(payload) == checkpointFinal {
				_ = conn.Write(ctx, websocket.MessageText, []byte(`{"text":"hello world","trace_id":"final"}`))
				return
			}
		}
	}))
	defer server.Close()

	bridge := New(Config{
		URL: "ws" + strings.TrimPrefix(server.URL, "http"),
	}, nil)

	chunks := make(chan []byte, 4)
	chunks <- []byte{1, 2, 3, 4}
	chunks <- []byte{5, 6, 7, 8}
	close(chunks)

	transcript, err := bridge.Session(context.Background(), "sess-1", chunks, nil)
	require.NoError(t, err)
	require.Equal(t, "hello world", transcript)
}

func TestBridgeSessionAudioTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		<-r.Context().Done()
	}))
	defer server.Close()

	bridge := New(Config{
		URL: "ws" + strings.TrimPrefix(server.URL, "http"),
	}, nil)

	chunks := make(chan []byte)
	start := time.Now()
	_, err := bridge.Session(context.Background(), "sess-2", chunks, nil)
	require.ErrorIs(t, err, orchestrator.ErrAudioTimeout)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestBridgeSessionNoSpeechTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	bridge := New(Config{
		URL: "ws" + strings.TrimPrefix(server.URL, "http"),
	}, nil)

	// Silence (all-zero PCM) keeps arriving fast enough that audioTimer
	// never fires, but never scores as speech, so NoSpeechTimeout (4s)
	// must fire instead of AudioTimeout (3s).
	silence := make([]byte, 2560)
	chunks := make(chan []byte)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case chunks <- silence:
			case <-stop:
				return
			}
		}
	}()

	start := time.Now()
	_, err := bridge.Session(context.Background(), "sess-4", chunks, nil)
	require.ErrorIs(t, err, orchestrator.ErrNoSpeechTimeout)
	require.Less(t, time.Since(start), 6*time.Second)
}

func TestBridgeSessionConnectFailure(t *testing.T) {
	bridge := New(Config{URL: "ws://127.0.0.1:1"}, nil)
	chunks := make(chan []byte)
	close(chunks)
	_, err := bridge.Session(context.Background(), "sess-3", chunks, nil)
	require.Error(t, err)
}
