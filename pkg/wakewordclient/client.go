// Package wakewordclient is a client library for the wakeword/utterance
// protocol (pkg/protocol/wakeword), used by the agent to subscribe to
// wakeword events and the utterance audio that follows them.
package wakewordclient

import (
	"fmt"
	"net"
	"sync"

	"github.com/voxedge/agent/pkg/protocol"
	wwproto "github.com/voxedge/agent/pkg/protocol/wakeword"
)

// Client wraps one TCP connection to the wakeword/utterance service.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex

	wakewordEvents chan wwproto.WakewordEvent
	sessionStarted chan wwproto.UtteranceSessionStartedEvent
	audioChunks    chan wwproto.UtteranceAudioChunk
	endOfSpeech    chan wwproto.EndOfSpeechEvent
	errors         chan string

	mu     sync.Mutex
	closed bool
}

// Dial connects to the wakeword/utterance service at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wakewordclient: dial %s: %w", addr, err)
	}
	c := &Client{
		conn:           conn,
		wakewordEvents: make(chan wwproto.WakewordEvent, 8),
		sessionStarted: make(chan wwproto.UtteranceSessionStartedEvent, 4),
		audioChunks:    make(chan wwproto.UtteranceAudioChunk, 256),
		endOfSpeech:    make(chan wwproto.EndOfSpeechEvent, 4),
		errors:         make(chan string, 4),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.wakewordEvents)
	defer close(c.sessionStarted)
	defer close(c.audioChunks)
	defer close(c.endOfSpeech)
	defer close(c.errors)

	for {
		msgType, payload, err := protocol.ReadMessage(c.conn)
		if err != nil {
			return
		}
		switch wwproto.MessageType(msgType) {
		case wwproto.WakewordEventMsg:
			var ev wwproto.WakewordEvent
			if wwproto.Decode(payload, &ev) == nil {
				trySend(c.wakewordEvents, ev)
			}
		case wwproto.UtteranceSessionStarted:
			var ev wwproto.UtteranceSessionStartedEvent
			if wwproto.Decode(payload, &ev) == nil {
				trySend(c.sessionStarted, ev)
			}
		case wwproto.AudioChunkMsg:
			var ev wwproto.UtteranceAudioChunk
			if wwproto.Decode(payload, &ev) == nil {
				trySend(c.audioChunks, ev)
			}
		case wwproto.EndOfSpeechMsg:
			var ev wwproto.EndOfSpeechEvent
			if wwproto.Decode(payload, &ev) == nil {
				trySend(c.endOfSpeech, ev)
			}
		case wwproto.ErrorResponse:
			var ev wwproto.ErrorResponseMsg
			if wwproto.Decode(payload, &ev) == nil {
				trySend(c.errors, ev.Message)
			}
		}
	}
}

func trySend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func (c *Client) write(msgType wwproto.MessageType, v any) error {
	payload, err := wwproto.Encode(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteMessage(c.conn, byte(msgType), payload)
}

// SubscribeWakeword requests the wakeword event stream, optionally
// filtered to specific model names.
func (c *Client) SubscribeWakeword(models ...string) error {
	return c.write(wwproto.SubscribeWakeword, wwproto.SubscribeWakewordRequest{Models: models})
}

// SubscribeUtterance requests the audio/end-of-speech stream for a
// session opened after a wakeword fired.
func (c *Client) SubscribeUtterance(sessionID string) error {
	return c.write(wwproto.SubscribeUtterance, wwproto.SubscribeUtteranceRequest{SessionID: sessionID})
}

// WakewordEvents returns the channel of incoming wakeword detections.
func (c *Client) WakewordEvents() <-chan wwproto.WakewordEvent { return c.wakewordEvents }

// SessionStarted returns the channel of utterance-session-started events.
func (c *Client) SessionStarted() <-chan wwproto.UtteranceSessionStartedEvent {
	return c.sessionStarted
}

// AudioChunks returns the channel of utterance audio chunks.
func (c *Client) AudioChunks() <-chan wwproto.UtteranceAudioChunk { return c.audioChunks }

// EndOfSpeech returns the channel of end-of-speech events.
func (c *Client) EndOfSpeech() <-chan wwproto.EndOfSpeechEvent { return c.endOfSpeech }

// Errors returns the channel of server-reported protocol/internal errors.
func (c *Client) Errors() <-chan string { return c.errors }

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
