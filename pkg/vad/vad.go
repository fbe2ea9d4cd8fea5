// Package vad implements the VAD Processor module: a pluggable speech
// scorer feeding a fixed hysteresis state machine (200ms confirm-speech /
// 800ms confirm-silence) over 512-sample (32ms @ 16kHz) sub-frames.
//
// The state machine is adapted from the teacher's RMSVAD
// (pkg/orchestrator/vad.go), generalized from a single RMS heuristic to
// any SpeechScorer so an ONNX-based scorer can drive the same transitions.
package vad

import (
	"encoding/binary"
	"math"
	"time"
)

// ChunkSamples is the canonical sub-frame size VAD scorers consume: 32ms
// at 16kHz mono.
const ChunkSamples = 512

// SampleRate is the canonical input rate for VAD processing.
const SampleRate = 16000

const (
	// DefaultSpeechStartMs is how much continuous scored-speech is
	// required before a Started event fires.
	DefaultSpeechStartMs = 200
	// DefaultSpeechEndMs is how much continuous scored-silence is
	// required before a Stopped event fires.
	DefaultSpeechEndMs = 800
)

// EventType enumerates the VAD Processor's output events.
type EventType int

const (
	Ongoing EventType = iota
	Started
	Stopped
)

// Event is emitted once per processed chunk.
type Event struct {
	Type        EventType
	Probability float32
	TimestampMs uint64
}

// SpeechScorer turns one chunk of s16le PCM samples into a speech
// probability in [0, 1]. Implementations must be safe to call
// sequentially from a single goroutine; they need not be concurrency-safe.
type SpeechScorer interface {
	Score(chunk []byte) (float32, error)
	Name() string
	Reset()
	Close() error
}

// Config tunes the hysteresis state machine.
type Config struct {
	SpeechStartMs   uint64
	SpeechEndMs     uint64
	SpeechThreshold float32
	ChunkDurationMs uint64
}

// DefaultConfig returns the spec's default thresholds for a 512-sample
// (32ms) chunk at 16kHz.
func DefaultConfig() Config {
	return Config{
		SpeechStartMs:   DefaultSpeechStartMs,
		SpeechEndMs:     DefaultSpeechEndMs,
		SpeechThreshold: 0.5,
		ChunkDurationMs: uint64(ChunkSamples) * 1000 / SampleRate,
	}
}

type state int

const (
	stateSilence state = iota
	stateSpeech
)

// Processor runs the fixed hysteresis state machine over a stream of
// fixed-size chunks scored by a SpeechScorer.
type Processor struct {
	scorer SpeechScorer
	cfg    Config

	cur          state
	stateElapsed uint64 // ms spent in the current state since the last reset
}

// NewProcessor builds a Processor around the given scorer.
func NewProcessor(scorer SpeechScorer, cfg Config) *Processor {
	if cfg.ChunkDurationMs == 0 {
		cfg.ChunkDurationMs = uint64(ChunkSamples) * 1000 / SampleRate
	}
	return &Processor{scorer: scorer, cfg: cfg, cur: stateSilence}
}

// Process scores one chunk and advances the state machine. chunk must be
// ChunkSamples s16le samples (ChunkSamples*2 bytes); shorter tail chunks
// at stream end are accepted as-is.
func (p *Processor) Process(chunk []byte, timestampMs uint64) (Event, error) {
	prob, err := p.scorer.Score(chunk)
	if err != nil {
		return Event{}, err
	}
	hasSpeech := prob >= p.cfg.SpeechThreshold

	switch {
	case p.cur == stateSilence && hasSpeech:
		p.stateElapsed += p.cfg.ChunkDurationMs
		if p.stateElapsed >= p.cfg.SpeechStartMs {
			p.cur = stateSpeech
			p.stateElapsed = 0
			return Event{Type: Started, Probability: prob, TimestampMs: timestampMs}, nil
		}
		return Event{Type: Ongoing, Probability: prob, TimestampMs: timestampMs}, nil

	case p.cur == stateSilence && !hasSpeech:
		p.stateElapsed = 0
		return Event{Type: Ongoing, Probability: prob, TimestampMs: timestampMs}, nil

	case p.cur == stateSpeech && !hasSpeech:
		p.stateElapsed += p.cfg.ChunkDurationMs
		if p.stateElapsed >= p.cfg.SpeechEndMs {
			p.cur = stateSilence
			p.stateElapsed = 0
			return Event{Type: Stopped, Probability: prob, TimestampMs: timestampMs}, nil
		}
		return Event{Type: Ongoing, Probability: prob, TimestampMs: timestampMs}, nil

	default: // stateSpeech && hasSpeech
		p.stateElapsed = 0
		return Event{Type: Ongoing, Probability: prob, TimestampMs: timestampMs}, nil
	}
}

// IsSpeaking reports the processor's current confirmed state.
func (p *Processor) IsSpeaking() bool {
	return p.cur == stateSpeech
}

// Reset clears state machine and scorer state (used on session restart or
// after a Pause/Resume cycle, mirroring the otto detector's checkReset).
func (p *Processor) Reset() {
	p.cur = stateSilence
	p.stateElapsed = 0
	p.scorer.Reset()
}

// Close releases the underlying scorer's resources.
func (p *Processor) Close() error {
	return p.scorer.Close()
}

// RMSScorer is a lightweight, dependency-free SpeechScorer using the
// teacher's RMS heuristic (pkg/orchestrator/vad.go calculateRMS),
// normalized into a pseudo-probability via the configured threshold.
type RMSScorer struct {
	threshold float64
}

// NewRMSScorer builds an RMSScorer. threshold is the RMS level (samples
// normalized to [-1,1]) above which audio is considered speech.
func NewRMSScorer(threshold float64) *RMSScorer {
	if threshold <= 0 {
		threshold = 0.02
	}
	return &RMSScorer{threshold: threshold}
}

func (r *RMSScorer) Score(chunk []byte) (float32, error) {
	if len(chunk) < 2 {
		return 0, nil
	}
	var sumSq float64
	n := len(chunk) / 2
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(chunk[i*2 : i*2+2]))
		f := float64(sample) / 32768.0
		sumSq += f * f
	}
	rms := math.Sqrt(sumSq / float64(n))
	// Map rms/threshold onto [0,1] via a soft ratio; a scorer need only
	// straddle 0.5 at the configured threshold for the state machine above.
	ratio := rms / r.threshold * 0.5
	if ratio > 1 {
		ratio = 1
	}
	return float32(ratio), nil
}

func (r *RMSScorer) Name() string { return "rms_vad" }
func (r *RMSScorer) Reset()       {}
func (r *RMSScorer) Close() error { return nil }
