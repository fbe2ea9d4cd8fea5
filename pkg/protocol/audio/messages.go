// Package audio implements the Audio Broker's wire protocol (spec §4.1):
// subscribe/unsubscribe, named playback streams, and the resulting
// AudioChunk/response messages, all framed via pkg/protocol.
package audio

import (
	"encoding/binary"
	"fmt"

	"github.com/voxedge/agent/pkg/protocol"
)

// MessageType identifies the payload shape of a framed message.
type MessageType byte

const (
	// Client → Server
	SubscribeAudio   MessageType = 0x01
	UnsubscribeAudio MessageType = 0x02
	PlayAudio        MessageType = 0x03
	EndStream        MessageType = 0x04
	AbortPlayback    MessageType = 0x05

	// Server → Client
	AudioChunk           MessageType = 0x10
	UnsubscribeResponse  MessageType = 0x11
	PlayResponse         MessageType = 0x12
	EndStreamResponse    MessageType = 0x13
	AbortResponse        MessageType = 0x14
	ErrorResponse        MessageType = 0x15
)

// PlayAudioMessage carries PCM destined for a named playback stream.
type PlayAudioMessage struct {
	StreamID  string
	AudioData []byte
}

// EncodePlayAudio serializes a PlayAudioMessage payload.
func EncodePlayAudio(m PlayAudioMessage) []byte {
	buf := make([]byte, 0, 8+len(m.StreamID)+len(m.AudioData))
	buf = protocol.WriteString(buf, m.StreamID)
	buf = protocol.WriteBytes(buf, m.AudioData)
	return buf
}

// DecodePlayAudio parses a PlayAudio payload.
func DecodePlayAudio(payload []byte) (PlayAudioMessage, error) {
	streamID, off, err := protocol.ReadString(payload, 0)
	if err != nil {
		return PlayAudioMessage{}, err
	}
	data, _, err := protocol.ReadBytes(payload, off)
	if err != nil {
		return PlayAudioMessage{}, err
	}
	return PlayAudioMessage{StreamID: streamID, AudioData: data}, nil
}

// EncodeStreamID serializes a bare stream_id payload (EndStream, AbortPlayback).
func EncodeStreamID(streamID string) []byte {
	return protocol.WriteString(nil, streamID)
}

// DecodeStreamID parses a bare stream_id payload.
func DecodeStreamID(payload []byte) (string, error) {
	streamID, _, err := protocol.ReadString(payload, 0)
	return streamID, err
}

// AudioChunkMessage is one canonical capture frame pushed to a subscriber.
type AudioChunkMessage struct {
	TimestampMs uint64
	AudioData   []byte
}

// EncodeAudioChunk serializes an AudioChunkMessage payload.
func EncodeAudioChunk(m AudioChunkMessage) []byte {
	buf := make([]byte, 8, 8+len(m.AudioData))
	binary.LittleEndian.PutUint64(buf, m.TimestampMs)
	buf = append(buf, m.AudioData...)
	return buf
}

// DecodeAudioChunk parses an AudioChunk payload.
func DecodeAudioChunk(payload []byte) (AudioChunkMessage, error) {
	if len(payload) < 8 {
		return AudioChunkMessage{}, fmt.Errorf("audio: truncated AudioChunk payload")
	}
	ts := binary.LittleEndian.Uint64(payload[:8])
	data := make([]byte, len(payload)-8)
	copy(data, payload[8:])
	return AudioChunkMessage{TimestampMs: ts, AudioData: data}, nil
}

// CommandResponse is the common shape of PlayResponse/EndStreamResponse/
// AbortResponse/UnsubscribeResponse: a success flag, optional chunk count
// (EndStreamResponse only), and a human-readable message.
type CommandResponse struct {
	Success      bool
	ChunksPlayed uint32 // only meaningful for EndStreamResponse
	Message      string
}

// EncodeResponse serializes a CommandResponse. includeChunks controls
// whether the chunks_played field is written (EndStreamResponse only).
func EncodeResponse(r CommandResponse, includeChunks bool) []byte {
	size := 1 + len(r.Message) + 4
	if includeChunks {
		size += 4
	}
	buf := make([]byte, 0, size)
	if r.Success {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if includeChunks {
		chunks := make([]byte, 4)
		binary.LittleEndian.PutUint32(chunks, r.ChunksPlayed)
		buf = append(buf, chunks...)
	}
	buf = protocol.WriteString(buf, r.Message)
	return buf
}

// DecodeResponse parses a CommandResponse. includeChunks must match the
// value passed to EncodeResponse.
func DecodeResponse(payload []byte, includeChunks bool) (CommandResponse, error) {
	if len(payload) < 1 {
		return CommandResponse{}, fmt.Errorf("audio: truncated response payload")
	}
	r := CommandResponse{Success: payload[0] != 0}
	off := 1
	if includeChunks {
		if len(payload) < off+4 {
			return CommandResponse{}, fmt.Errorf("audio: truncated chunks_played")
		}
		r.ChunksPlayed = binary.LittleEndian.Uint32(payload[off:])
		off += 4
	}
	msg, _, err := protocol.ReadString(payload, off)
	if err != nil {
		return CommandResponse{}, err
	}
	r.Message = msg
	return r, nil
}

// EncodeErrorResponse serializes a bare error message payload.
func EncodeErrorResponse(message string) []byte {
	return protocol.WriteString(nil, message)
}

// DecodeErrorResponse parses a bare error message payload.
func DecodeErrorResponse(payload []byte) (string, error) {
	msg, _, err := protocol.ReadString(payload, 0)
	return msg, err
}
