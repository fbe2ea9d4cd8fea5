package vad

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// constScorer returns a fixed probability regardless of input, letting
// tests drive the hysteresis state machine directly.
type constScorer struct{ prob float32 }

func (c *constScorer) Score(chunk []byte) (float32, error) { return c.prob, nil }
func (c *constScorer) Name() string                        { return "const" }
func (c *constScorer) Reset()                              {}
func (c *constScorer) Close() error                        { return nil }

func silentChunk() []byte {
	return make([]byte, ChunkSamples*2)
}

func TestProcessor_RequiresSustainedSpeechToStart(t *testing.T) {
	scorer := &constScorer{prob: 0.9}
	cfg := DefaultConfig()
	p := NewProcessor(scorer, cfg)

	chunksNeeded := int(cfg.SpeechStartMs / cfg.ChunkDurationMs)
	require.Greater(t, chunksNeeded, 1)

	for i := 0; i < chunksNeeded-1; i++ {
		ev, err := p.Process(silentChunk(), uint64(i))
		require.NoError(t, err)
		assert.Equal(t, Ongoing, ev.Type)
		assert.False(t, p.IsSpeaking())
	}

	ev, err := p.Process(silentChunk(), uint64(chunksNeeded))
	require.NoError(t, err)
	assert.Equal(t, Started, ev.Type)
	assert.True(t, p.IsSpeaking())
}

func TestProcessor_RequiresSustainedSilenceToStop(t *testing.T) {
	scorer := &constScorer{prob: 0.9}
	cfg := DefaultConfig()
	p := NewProcessor(scorer, cfg)

	chunksNeeded := int(cfg.SpeechStartMs / cfg.ChunkDurationMs)
	for i := 0; i <= chunksNeeded; i++ {
		_, err := p.Process(silentChunk(), uint64(i))
		require.NoError(t, err)
	}
	require.True(t, p.IsSpeaking())

	scorer.prob = 0.0
	endChunks := int(cfg.SpeechEndMs / cfg.ChunkDurationMs)
	for i := 0; i < endChunks-1; i++ {
		ev, err := p.Process(silentChunk(), uint64(i))
		require.NoError(t, err)
		assert.Equal(t, Ongoing, ev.Type)
		assert.True(t, p.IsSpeaking())
	}

	ev, err := p.Process(silentChunk(), uint64(endChunks))
	require.NoError(t, err)
	assert.Equal(t, Stopped, ev.Type)
	assert.False(t, p.IsSpeaking())
}

func TestProcessor_BriefSpikeDoesNotTriggerStart(t *testing.T) {
	scorer := &constScorer{prob: 0.9}
	cfg := DefaultConfig()
	p := NewProcessor(scorer, cfg)

	ev, err := p.Process(silentChunk(), 0)
	require.NoError(t, err)
	assert.Equal(t, Ongoing, ev.Type)

	scorer.prob = 0.0
	ev, err = p.Process(silentChunk(), 1)
	require.NoError(t, err)
	assert.Equal(t, Ongoing, ev.Type)
	assert.False(t, p.IsSpeaking())
}

func TestProcessor_IntermittentSpeechDoesNotAccumulateAcrossSilence(t *testing.T) {
	scorer := &constScorer{prob: 0.9}
	cfg := DefaultConfig()
	p := NewProcessor(scorer, cfg)

	chunksNeeded := int(cfg.SpeechStartMs / cfg.ChunkDurationMs)

	// Alternate speech/silence chunks well past chunksNeeded total frames;
	// since no run of consecutive speech chunks ever reaches chunksNeeded,
	// the state must never transition to Speech.
	for i := 0; i < chunksNeeded*4; i++ {
		if i%2 == 0 {
			scorer.prob = 0.9
		} else {
			scorer.prob = 0.0
		}
		ev, err := p.Process(silentChunk(), uint64(i))
		require.NoError(t, err)
		assert.Equal(t, Ongoing, ev.Type)
		assert.False(t, p.IsSpeaking())
	}
}

func TestProcessor_ResetClearsState(t *testing.T) {
	scorer := &constScorer{prob: 0.9}
	cfg := DefaultConfig()
	p := NewProcessor(scorer, cfg)

	chunksNeeded := int(cfg.SpeechStartMs / cfg.ChunkDurationMs)
	for i := 0; i <= chunksNeeded; i++ {
		_, err := p.Process(silentChunk(), uint64(i))
		require.NoError(t, err)
	}
	require.True(t, p.IsSpeaking())

	p.Reset()
	assert.False(t, p.IsSpeaking())
}

func TestRMSScorer_SilenceScoresLow(t *testing.T) {
	s := NewRMSScorer(0.02)
	prob, err := s.Score(silentChunk())
	require.NoError(t, err)
	assert.Less(t, prob, float32(0.5))
}

func TestRMSScorer_LoudToneScoresHigh(t *testing.T) {
	s := NewRMSScorer(0.02)
	chunk := make([]byte, ChunkSamples*2)
	for i := 0; i < ChunkSamples; i++ {
		binary.LittleEndian.PutUint16(chunk[i*2:], uint16(int16(20000)))
	}
	prob, err := s.Score(chunk)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, prob, float32(0.5))
}
