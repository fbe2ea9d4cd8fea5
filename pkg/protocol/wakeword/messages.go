// Package wakeword implements the wire protocol shared by the Wakeword
// Detector and Utterance Capture services (spec §4.3/§4.4): subscription
// requests, wakeword events, and utterance session/audio/end-of-speech
// messages. Framing reuses pkg/protocol; payloads are JSON, matching the
// envelope style of the binary audio protocol but carrying richer
// structured fields than fit a fixed binary layout.
package wakeword

import "encoding/json"

// MessageType identifies the payload shape of a framed message.
type MessageType byte

const (
	// Client → Server
	SubscribeWakeword   MessageType = 0x21
	UnsubscribeWakeword MessageType = 0x22
	SubscribeUtterance  MessageType = 0x23
	UnsubscribeUtterance MessageType = 0x24

	// Server → Client
	WakewordEventMsg        MessageType = 0x30
	SubscribeResponse       MessageType = 0x31
	UnsubscribeResponseMsg  MessageType = 0x32
	ErrorResponse           MessageType = 0x33
	AudioChunkMsg           MessageType = 0x34
	EndOfSpeechMsg          MessageType = 0x35
	UtteranceSessionStarted MessageType = 0x36
)

// SubscribeWakewordRequest asks the service to start scoring the named
// model(s); an empty Models list subscribes to all configured models.
type SubscribeWakewordRequest struct {
	Models []string `json:"models,omitempty"`
}

// SubscribeUtteranceRequest asks for post-wakeword utterance audio for a
// given session, identified by the wakeword event that opened it.
type SubscribeUtteranceRequest struct {
	SessionID string `json:"session_id"`
}

// WakewordEvent reports a model firing above its trigger threshold.
type WakewordEvent struct {
	Model      string  `json:"model"`
	Confidence float32 `json:"confidence"`
	TimestampMs uint64 `json:"timestamp_ms"`
	SessionID  string  `json:"session_id"`
}

// EosReason enumerates why an utterance session ended.
type EosReason string

const (
	EosVadSilence EosReason = "vad_silence"
	EosTimeout    EosReason = "timeout"
	EosManual     EosReason = "manual"
	EosError      EosReason = "error"
)

// EndOfSpeechEvent closes an utterance session.
type EndOfSpeechEvent struct {
	SessionID string    `json:"session_id"`
	Reason    EosReason `json:"reason"`
	DurationMs uint64   `json:"duration_ms"`
}

// UtteranceSessionStartedEvent confirms a new capture session and carries
// the pre-roll buffer captured before the triggering wakeword event.
type UtteranceSessionStartedEvent struct {
	SessionID  string `json:"session_id"`
	PreRoll    []byte `json:"pre_roll"`
	TimestampMs uint64 `json:"timestamp_ms"`
}

// UtteranceAudioChunk carries one canonical frame of utterance audio.
type UtteranceAudioChunk struct {
	SessionID   string `json:"session_id"`
	TimestampMs uint64 `json:"timestamp_ms"`
	AudioData   []byte `json:"audio_data"`
}

// SubscribeResponseMsg acknowledges a subscribe/unsubscribe request.
type SubscribeResponseMsg struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponseMsg carries a protocol-level error unrelated to a specific
// request (e.g. malformed frame, internal fault).
type ErrorResponseMsg struct {
	Message string `json:"message"`
}

// Encode marshals any of the message payload types above to JSON.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals a JSON payload into the typed destination v.
func Decode(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}
