package orchestrator

import (
	"errors"
	"fmt"
)


var (
	ErrEmptyTranscription   = errors.New("transcription returned empty text")
	ErrTranscriptionFailed  = errors.New("speech-to-text transcription failed")
	ErrLLMFailed            = errors.New("language model generation failed")
	ErrTTSFailed            = errors.New("text-to-speech synthesis failed")
	ErrNilProvider          = errors.New("required provider is nil")
	ErrContextCancelled     = errors.New("operation cancelled by context")
)

// Kind classifies an error by the subsystem that raised it, so callers
// across process boundaries (TCP protocol error responses, CLI exit
// codes) can react without string-matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindDevice
	KindProtocol
	KindBackpressure
	KindTimeout
	KindModel
	KindNetwork
	KindConfig
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindProtocol:
		return "protocol"
	case KindBackpressure:
		return "backpressure"
	case KindTimeout:
		return "timeout"
	case KindModel:
		return "model"
	case KindNetwork:
		return "network"
	case KindConfig:
		return "config"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classified wraps a cause with a Kind, letting callers branch on
// Kind() while still exposing the original error via Unwrap.
type Classified struct {
	Kind  Kind
	Cause error
}

// Classify wraps cause with the given Kind. A nil cause returns nil.
func Classify(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Classified{Kind: kind, Cause: cause}
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Kind, c.Cause)
}

func (c *Classified) Unwrap() error {
	return c.Cause
}

// KindOf returns the Kind of err if it (or something it wraps) is a
// *Classified, and KindUnknown otherwise.
func KindOf(err error) Kind {
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	return KindUnknown
}

// STT Bridge timeout taxonomy (spec §4.5): each kind is individually
// distinguishable rather than collapsed into one flat deadline error.
var (
	ErrEmergencyTimeout = Classify(KindTimeout, errors.New("stt bridge: emergency timeout exceeded"))
	ErrAudioTimeout     = Classify(KindTimeout, errors.New("stt bridge: no audio received"))
	ErrNoSpeechTimeout  = Classify(KindTimeout, errors.New("stt bridge: no speech detected"))
	ErrAudioError       = Classify(KindDevice, errors.New("stt bridge: audio source error"))
	ErrWebSocketError   = Classify(KindNetwork, errors.New("stt bridge: websocket transport error"))
	ErrVadError         = Classify(KindModel, errors.New("stt bridge: vad processor fault"))
)
