package broker

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/voxedge/agent/pkg/audio"
	audioproto "github.com/voxedge/agent/pkg/protocol/audio"
	"github.com/voxedge/agent/pkg/orchestrator"
	"github.com/voxedge/agent/pkg/protocol"
)

var connSeq atomic.Uint64

// Server accepts audio-protocol TCP connections and wires each one to
// the Broker's subscriber/playback tables. One goroutine per connection,
// following the same "blocking I/O on its own goroutine" shape the
// teacher uses for its websocket client loop.
type Server struct {
	broker *Broker
	log    orchestrator.Logger
}

// NewServer builds a Server fronting the given Broker.
func NewServer(b *Broker, log orchestrator.Logger) *Server {
	if log == nil {
		log = &orchestrator.NoOpLogger{}
	}
	return &Server{broker: b, log: log}
}

// ListenAndServe binds addr and serves connections until the listener
// errors or is closed.
func (s *Server) ListenAndServe(addr string) error {
	return s.ListenAndServeWithAddr(addr, nil)
}

// ListenAndServeWithAddr is ListenAndServe, additionally publishing the
// listener's bound address on addrCh once listening begins (addr may be
// "host:0" to bind an ephemeral port, as tests do). addrCh may be nil.
func (s *Server) ListenAndServeWithAddr(addr string, addrCh chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("broker: listen %s: %w", addr, err)
	}
	defer ln.Close()
	s.log.Info("broker: listening on %s", ln.Addr().String())
	if addrCh != nil {
		addrCh <- ln.Addr().String()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("broker: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	connID := fmt.Sprintf("conn-%d", connSeq.Add(1))

	var writeMu sync.Mutex
	write := func(msgType audioproto.MessageType, payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return protocol.WriteMessage(conn, byte(msgType), payload)
	}

	var sub *Subscriber
	defer func() {
		if sub != nil {
			s.broker.Unsubscribe(connID)
		}
	}()

	for {
		msgType, payload, err := protocol.ReadMessage(conn)
		if err != nil {
			return
		}

		switch audioproto.MessageType(msgType) {
		case audioproto.SubscribeAudio:
			if sub == nil {
				sub = s.broker.Subscribe(connID)
				go s.streamFrames(connID, sub, write)
			}

		case audioproto.UnsubscribeAudio:
			if sub != nil {
				s.broker.Unsubscribe(connID)
				sub = nil
			}
			_ = write(audioproto.UnsubscribeResponse, audioproto.EncodeResponse(
				audioproto.CommandResponse{Success: true}, false))

		case audioproto.PlayAudio:
			m, err := audioproto.DecodePlayAudio(payload)
			if err != nil {
				_ = write(audioproto.ErrorResponse, audioproto.EncodeErrorResponse(err.Error()))
				return
			}
			if err := s.broker.Playback().Play(m.StreamID, audio.CanonicalSampleRate, m.AudioData); err != nil {
				_ = write(audioproto.PlayResponse, audioproto.EncodeResponse(
					audioproto.CommandResponse{Success: false, Message: err.Error()}, false))
				continue
			}
			_ = write(audioproto.PlayResponse, audioproto.EncodeResponse(
				audioproto.CommandResponse{Success: true}, false))

		case audioproto.EndStream:
			streamID, err := audioproto.DecodeStreamID(payload)
			if err != nil {
				_ = write(audioproto.ErrorResponse, audioproto.EncodeErrorResponse(err.Error()))
				return
			}
			chunks, err := s.broker.Playback().EndStream(streamID)
			resp := audioproto.CommandResponse{Success: err == nil, ChunksPlayed: uint32(chunks)}
			if err != nil {
				resp.Message = err.Error()
			}
			_ = write(audioproto.EndStreamResponse, audioproto.EncodeResponse(resp, true))

		case audioproto.AbortPlayback:
			streamID, err := audioproto.DecodeStreamID(payload)
			if err != nil {
				_ = write(audioproto.ErrorResponse, audioproto.EncodeErrorResponse(err.Error()))
				return
			}
			err = s.broker.Playback().AbortPlayback(streamID)
			resp := audioproto.CommandResponse{Success: err == nil}
			if err != nil {
				resp.Message = err.Error()
			}
			_ = write(audioproto.AbortResponse, audioproto.EncodeResponse(resp, false))

		default:
			_ = write(audioproto.ErrorResponse, audioproto.EncodeErrorResponse("broker: unknown message type"))
			return
		}
	}
}

func (s *Server) streamFrames(connID string, sub *Subscriber, write func(audioproto.MessageType, []byte) error) {
	for frame := range sub.Frames() {
		err := write(audioproto.AudioChunk, audioproto.EncodeAudioChunk(audioproto.AudioChunkMessage{
			TimestampMs: frame.TimestampMs,
			AudioData:   frame.Data,
		}))
		if err != nil {
			s.broker.Unsubscribe(connID)
			return
		}
	}
}
