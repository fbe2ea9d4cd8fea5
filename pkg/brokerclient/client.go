// Package brokerclient is a client library for the Audio Broker's wire
// protocol (pkg/protocol/audio), used by the wakeword/utterance service
// and the agent to subscribe to capture audio and drive playback.
package brokerclient

import (
	"fmt"
	"net"
	"sync"

	audioproto "github.com/voxedge/agent/pkg/protocol/audio"
	"github.com/voxedge/agent/pkg/protocol"
)

// pendingResponse carries one decoded CommandResponse, or a transport/
// ErrorResponse failure, back to the goroutine that issued the command.
type pendingResponse struct {
	resp audioproto.CommandResponse
	err  error
}

// Client wraps one TCP connection to the Audio Broker.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex

	frames chan audioproto.AudioChunkMessage

	// pending is a FIFO of response waiters: the broker answers each
	// command in the order it was issued (pkg/broker/server.go handles
	// one connection's commands on a single goroutine), so matching
	// front-of-queue is sufficient without correlation ids on the wire.
	pendingMu sync.Mutex
	pending   []chan pendingResponse

	mu     sync.Mutex
	closed bool
}

// Dial connects to the broker at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("brokerclient: dial %s: %w", addr, err)
	}
	c := &Client{conn: conn, frames: make(chan audioproto.AudioChunkMessage, 32)}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.frames)
	defer c.failPending(fmt.Errorf("brokerclient: connection closed"))
	for {
		msgType, payload, err := protocol.ReadMessage(c.conn)
		if err != nil {
			return
		}
		switch audioproto.MessageType(msgType) {
		case audioproto.AudioChunk:
			m, err := audioproto.DecodeAudioChunk(payload)
			if err != nil {
				continue
			}
			select {
			case c.frames <- m:
			default:
			}
		case audioproto.EndStreamResponse:
			c.resolvePending(payload, true)
		case audioproto.UnsubscribeResponse, audioproto.PlayResponse, audioproto.AbortResponse:
			c.resolvePending(payload, false)
		case audioproto.ErrorResponse:
			msg, decErr := audioproto.DecodeErrorResponse(payload)
			if decErr != nil {
				msg = "brokerclient: malformed error response"
			}
			c.deliverPending(pendingResponse{err: fmt.Errorf("brokerclient: %s", msg)})
		default:
			// unknown message types are ignored rather than torn down,
			// matching the broker's own forward-compatible stance.
		}
	}
}

func (c *Client) resolvePending(payload []byte, includeChunks bool) {
	resp, err := audioproto.DecodeResponse(payload, includeChunks)
	if err != nil {
		c.deliverPending(pendingResponse{err: fmt.Errorf("brokerclient: decode response: %w", err)})
		return
	}
	if !resp.Success {
		c.deliverPending(pendingResponse{resp: resp, err: fmt.Errorf("brokerclient: %s", resp.Message)})
		return
	}
	c.deliverPending(pendingResponse{resp: resp})
}

func (c *Client) deliverPending(r pendingResponse) {
	c.pendingMu.Lock()
	if len(c.pending) == 0 {
		c.pendingMu.Unlock()
		return
	}
	ch := c.pending[0]
	c.pending = c.pending[1:]
	c.pendingMu.Unlock()
	ch <- r
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	for _, ch := range pending {
		ch <- pendingResponse{err: err}
	}
}

func (c *Client) write(msgType audioproto.MessageType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteMessage(c.conn, byte(msgType), payload)
}

// writeCommand writes a command and blocks for its correlated response.
func (c *Client) writeCommand(msgType audioproto.MessageType, payload []byte) (audioproto.CommandResponse, error) {
	ch := make(chan pendingResponse, 1)
	c.pendingMu.Lock()
	c.pending = append(c.pending, ch)
	c.pendingMu.Unlock()

	if err := c.write(msgType, payload); err != nil {
		return audioproto.CommandResponse{}, err
	}
	r := <-ch
	return r.resp, r.err
}

// SubscribeAudio asks the broker to start sending AudioChunk frames.
func (c *Client) SubscribeAudio() error {
	return c.write(audioproto.SubscribeAudio, nil)
}

// UnsubscribeAudio asks the broker to stop sending frames and waits for
// its acknowledgement.
func (c *Client) UnsubscribeAudio() error {
	_, err := c.writeCommand(audioproto.UnsubscribeAudio, nil)
	return err
}

// Frames returns the channel of incoming canonical audio frames.
func (c *Client) Frames() <-chan audioproto.AudioChunkMessage {
	return c.frames
}

// PlayAudio appends PCM to a named playback stream and waits for the
// broker's acknowledgement, surfacing backpressure rejections as errors.
func (c *Client) PlayAudio(streamID string, pcm []byte) error {
	_, err := c.writeCommand(audioproto.PlayAudio, audioproto.EncodePlayAudio(audioproto.PlayAudioMessage{
		StreamID: streamID, AudioData: pcm,
	}))
	return err
}

// EndStream flushes and closes a playback stream, returning the number
// of chunks the broker reports having played.
func (c *Client) EndStream(streamID string) (uint32, error) {
	resp, err := c.writeCommand(audioproto.EndStream, audioproto.EncodeStreamID(streamID))
	return resp.ChunksPlayed, err
}

// AbortPlayback drops buffered audio and closes a playback stream
// immediately.
func (c *Client) AbortPlayback(streamID string) error {
	_, err := c.writeCommand(audioproto.AbortPlayback, audioproto.EncodeStreamID(streamID))
	return err
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
