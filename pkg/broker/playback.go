package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/voxedge/agent/pkg/audio"
)

// HighWaterMark bounds total buffered playback duration per stream;
// beyond it, PlayAudio is rejected with a backpressure message (spec
// §4.1 backpressure).
const HighWaterMark = 10 * time.Second

// EndStreamDrainTimeout bounds how long EndStream waits for buffered
// audio to drain before replying with whatever was consumed so far.
const EndStreamDrainTimeout = 5 * time.Second

// playbackStream is one named output stream: incoming PCM at its
// declared rate, resampled to the device rate, and buffered until the
// mixer drains it.
type playbackStream struct {
	id         string
	deviceRate int

	mu       sync.Mutex
	resampler *StreamResampler
	buf       []byte
	chunksIn  int
	terminal  bool
}

func newPlaybackStream(id string, srcRate, deviceRate int) (*playbackStream, error) {
	r, err := NewStreamResampler(srcRate, deviceRate)
	if err != nil {
		return nil, fmt.Errorf("broker: resampler for stream %s: %w", id, err)
	}
	return &playbackStream{id: id, deviceRate: deviceRate, resampler: r}, nil
}

func (s *playbackStream) bufferedDuration() time.Duration {
	samples := len(s.buf) / 2
	return time.Duration(samples) * time.Second / time.Duration(s.deviceRate)
}

// playbackTable owns every active named stream, keyed by stream id.
type playbackTable struct {
	deviceRate int

	mu      sync.Mutex
	streams map[string]*playbackStream
}

func newPlaybackTable(deviceRate int) *playbackTable {
	return &playbackTable{deviceRate: deviceRate, streams: make(map[string]*playbackStream)}
}

// Play appends PCM to a named stream (creating it at srcRate if
// unknown), returning an error if the stream's high-water mark would be
// exceeded.
func (t *playbackTable) Play(streamID string, srcRate int, pcm []byte) error {
	t.mu.Lock()
	s, ok := t.streams[streamID]
	if !ok {
		var err error
		s, err = newPlaybackStream(streamID, srcRate, t.deviceRate)
		if err != nil {
			t.mu.Unlock()
			return err
		}
		t.streams[streamID] = s
	}
	t.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bufferedDuration() >= HighWaterMark {
		return fmt.Errorf("broker: backpressure: stream %s buffered duration at high-water mark", streamID)
	}
	resampled, err := s.resampler.Push(pcm)
	if err != nil {
		return fmt.Errorf("broker: resample stream %s: %w", streamID, err)
	}
	s.buf = append(s.buf, resampled...)
	s.chunksIn++
	return nil
}

// EndStream marks a stream terminal and waits (bounded) for it to drain,
// returning the number of PlayAudio chunks it had received.
func (t *playbackTable) EndStream(streamID string) (chunksPlayed int, err error) {
	t.mu.Lock()
	s, ok := t.streams[streamID]
	t.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("broker: unknown stream %s", streamID)
	}

	s.mu.Lock()
	s.terminal = true
	chunksPlayed = s.chunksIn
	s.mu.Unlock()

	deadline := time.Now().Add(EndStreamDrainTimeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		drained := len(s.buf) == 0
		s.mu.Unlock()
		if drained {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.mu.Lock()
	delete(t.streams, streamID)
	t.mu.Unlock()
	return chunksPlayed, nil
}

// AbortPlayback drops a stream's buffered audio and removes it
// immediately.
func (t *playbackTable) AbortPlayback(streamID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[streamID]
	if !ok {
		return fmt.Errorf("broker: unknown stream %s", streamID)
	}
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
	delete(t.streams, streamID)
	return nil
}

// drainMixed pulls one canonical-frame-duration slice from every active
// stream and mixes them with a saturating clamp, removing any stream
// that is both empty and terminal.
func (t *playbackTable) drainMixed() []byte {
	frameBytes := audio.CanonicalFrameBytes * t.deviceRate / audio.CanonicalSampleRate
	frameBytes -= frameBytes % 2

	t.mu.Lock()
	ids := make([]string, 0, len(t.streams))
	for id := range t.streams {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	var slices [][]byte
	var toRemove []string
	for _, id := range ids {
		t.mu.Lock()
		s := t.streams[id]
		t.mu.Unlock()
		if s == nil {
			continue
		}
		s.mu.Lock()
		n := frameBytes
		if n > len(s.buf) {
			n = len(s.buf)
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			s.buf = s.buf[n:]
			slices = append(slices, chunk)
		}
		empty := len(s.buf) == 0
		terminal := s.terminal
		s.mu.Unlock()
		if empty && terminal {
			toRemove = append(toRemove, id)
		}
	}

	if len(toRemove) > 0 {
		t.mu.Lock()
		for _, id := range toRemove {
			delete(t.streams, id)
		}
		t.mu.Unlock()
	}

	return audio.MixS16(slices)
}
