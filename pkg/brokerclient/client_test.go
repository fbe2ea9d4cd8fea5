package brokerclient

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxedge/agent/pkg/broker"
)

// listenAndServeTest starts a broker.Server on an ephemeral port and
// returns its address; the playback command path under test does not
// touch the physical device, so no malgo device is ever opened.
func listenAndServeTest(t *testing.T) string {
	t.Helper()
	b := broker.New(16000, nil)
	srv := broker.NewServer(b, nil)

	errCh := make(chan error, 1)
	addrCh := make(chan string, 1)
	go func() {
		errCh <- srv.ListenAndServeWithAddr("127.0.0.1:0", addrCh)
	}()
	return <-addrCh
}

func TestClient_PlayEndStreamRoundTrip(t *testing.T) {
	addr := listenAndServeTest(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.PlayAudio("stream-1", make([]byte, 320)))
	require.NoError(t, c.PlayAudio("stream-1", make([]byte, 320)))

	chunks, err := c.EndStream("stream-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, chunks)
}

func TestClient_AbortPlaybackUnknownStreamErrors(t *testing.T) {
	addr := listenAndServeTest(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	err = c.AbortPlayback("never-played")
	require.Error(t, err)
}

func TestClient_UnsubscribeAudioAcks(t *testing.T) {
	addr := listenAndServeTest(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SubscribeAudio())
	require.NoError(t, c.UnsubscribeAudio())
}
