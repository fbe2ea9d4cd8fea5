// Package utterance implements the Utterance Capture module: a per-session
// state machine that starts on a wakeword detection, buffers a short
// pre-roll of audio captured before the trigger, streams chunks to
// subscribers while VAD confirms ongoing speech, and ends on silence,
// timeout, manual request, or error.
//
// The bounded-channel backpressure and non-blocking send are adapted from
// the teacher's ManagedStream.emit/drainAudioChunks pattern
// (pkg/orchestrator/managed_stream.go), generalized from one fixed event
// channel to a per-session audio chunk channel.
package utterance

import (
	"context"
	"sync"
	"time"

	"github.com/voxedge/agent/pkg/vad"
)

// State enumerates an utterance session's lifecycle.
type State int

const (
	Starting State = iota
	Capturing
	Ended
)

// EndReason records why a session ended.
type EndReason int

const (
	NotEnded EndReason = iota
	EndVadSilence
	EndTimeout
	EndManual
	EndError
)

// PreRollFrames is how many canonical frames of pre-trigger audio are
// retained and delivered at session start.
const PreRollFrames = 5

// MaxSessionDuration is the absolute cap on a session's lifetime,
// regardless of speech activity.
const MaxSessionDuration = 15 * time.Second

// FirstSpeechTimeout ends a session that has observed no speech at all
// within this long of starting.
const FirstSpeechTimeout = 8 * time.Second

// SilenceEndThreshold ends a session once this much continuous silence
// has been observed after at least one speech frame, independent of (and
// shorter than) the VAD Processor's own 800ms confirm-silence hysteresis.
const SilenceEndThreshold = 650 * time.Millisecond

const vadSubFrameMs = uint64(vad.ChunkSamples) * 1000 / vad.SampleRate

// ChunkQueueCap is the bounded channel size for outbound audio chunks;
// a full queue drops the chunk and increments DroppedChunks rather than
// blocking the capture path.
const ChunkQueueCap = 256

// Chunk is one canonical frame delivered to subscribers, tagged with the
// session-relative timestamp.
type Chunk struct {
	TimestampMs uint64
	Data        []byte
}

// Session owns one utterance capture cycle from wakeword trigger to end.
type Session struct {
	ID        string
	vadProc   *vad.Processor
	startedAt time.Time

	mu        sync.Mutex
	state     State
	endReason EndReason
	preRoll   [][]byte

	chunks        chan Chunk
	droppedChunks int

	vadAccum       []byte
	speechEverSeen bool
	silenceAccumMs uint64

	cancel context.CancelFunc
}

const vadSubFrameBytes = vad.ChunkSamples * 2

// NewSession creates a session in the Starting state, pre-seeded with the
// caller-supplied pre-roll frames (most recent PreRollFrames captured
// before the triggering wakeword event).
func NewSession(id string, vadProc *vad.Processor, preRoll [][]byte) *Session {
	s := &Session{
		ID:        id,
		vadProc:   vadProc,
		startedAt: time.Now(),
		state:     Starting,
		chunks:    make(chan Chunk, ChunkQueueCap),
	}
	s.preRoll = make([][]byte, 0, len(preRoll))
	for _, f := range preRoll {
		cp := make([]byte, len(f))
		copy(cp, f)
		s.preRoll = append(s.preRoll, cp)
	}
	return s
}

// Chunks returns the channel subscribers drain for streamed audio.
func (s *Session) Chunks() <-chan Chunk {
	return s.chunks
}

// PreRoll returns the buffered pre-trigger audio, concatenated in
// capture order.
func (s *Session) PreRoll() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, f := range s.preRoll {
		out = append(out, f...)
	}
	return out
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DroppedChunks reports how many chunks were dropped due to a full queue.
func (s *Session) DroppedChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.droppedChunks
}

// LastEndReason reports why the session ended; NotEnded until it does.
func (s *Session) LastEndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Feed processes one canonical (1280-sample) frame, forwarding it to
// subscribers and advancing the session's state machine. The canonical
// frame size (2560 bytes) is not a multiple of the VAD sub-frame size
// (1024 bytes): Feed accumulates into an internal buffer and runs the
// VAD processor once per completed 512-sample sub-frame, carrying any
// remainder to the next call (every two canonical frames yield exactly
// five VAD sub-frames). It returns the session's EndReason once the
// session ends; NotEnded otherwise.
func (s *Session) Feed(chunk []byte, timestampMs uint64) (EndReason, error) {
	s.mu.Lock()
	if s.state == Ended {
		s.mu.Unlock()
		return s.endReason, nil
	}
	if s.state == Starting {
		s.state = Capturing
	}
	s.mu.Unlock()

	elapsed := time.Since(s.startedAt)
	if elapsed > MaxSessionDuration {
		return s.end(EndTimeout), nil
	}
	s.mu.Lock()
	seenSpeech := s.speechEverSeen
	s.mu.Unlock()
	if !seenSpeech && elapsed > FirstSpeechTimeout {
		return s.end(EndTimeout), nil
	}

	s.emit(Chunk{TimestampMs: timestampMs, Data: chunk})

	s.vadAccum = append(s.vadAccum, chunk...)
	for len(s.vadAccum) >= vadSubFrameBytes {
		sub := make([]byte, vadSubFrameBytes)
		copy(sub, s.vadAccum[:vadSubFrameBytes])
		n := copy(s.vadAccum, s.vadAccum[vadSubFrameBytes:])
		s.vadAccum = s.vadAccum[:n]

		ev, err := s.vadProc.Process(sub, timestampMs)
		if err != nil {
			return s.end(EndError), err
		}
		if ev.Type == vad.Stopped {
			return s.end(EndVadSilence), nil
		}

		if s.vadProc.IsSpeaking() {
			s.mu.Lock()
			s.speechEverSeen = true
			s.mu.Unlock()
			s.silenceAccumMs = 0
			continue
		}
		s.mu.Lock()
		seenSpeech = s.speechEverSeen
		s.mu.Unlock()
		if seenSpeech {
			s.silenceAccumMs += vadSubFrameMs
			if s.silenceAccumMs >= uint64(SilenceEndThreshold.Milliseconds()) {
				return s.end(EndVadSilence), nil
			}
		}
	}
	return NotEnded, nil
}

// End forces the session closed, e.g. on explicit client request or an
// owning component's shutdown.
func (s *Session) End(reason EndReason) EndReason {
	if reason == NotEnded {
		reason = EndManual
	}
	return s.end(reason)
}

func (s *Session) end(reason EndReason) EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Ended {
		return s.endReason
	}
	s.state = Ended
	s.endReason = reason
	close(s.chunks)
	if s.cancel != nil {
		s.cancel()
	}
	return reason
}

func (s *Session) emit(c Chunk) {
	select {
	case s.chunks <- c:
	default:
		s.mu.Lock()
		s.droppedChunks++
		s.mu.Unlock()
	}
}

// SetCancel registers a cancel func invoked when the session ends, so an
// owning goroutine tree can be torn down alongside the session.
func (s *Session) SetCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// PreRollRing accumulates the most recent PreRollFrames canonical frames
// ahead of any wakeword trigger, so a new Session can be seeded with
// audio the user spoke just before the trigger fired.
type PreRollRing struct {
	mu     sync.Mutex
	frames [][]byte
}

// NewPreRollRing creates an empty ring.
func NewPreRollRing() *PreRollRing {
	return &PreRollRing{frames: make([][]byte, 0, PreRollFrames)}
}

// Push appends a canonical frame, evicting the oldest once the ring is
// full.
func (r *PreRollRing) Push(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	r.frames = append(r.frames, cp)
	if len(r.frames) > PreRollFrames {
		r.frames = r.frames[1:]
	}
}

// Snapshot returns a copy of the currently buffered frames, oldest first.
func (r *PreRollRing) Snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	for i, f := range r.frames {
		cp := make([]byte, len(f))
		copy(cp, f)
		out[i] = cp
	}
	return out
}
