package utterance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxedge/agent/pkg/vad"
)

type constScorer struct{ prob float32 }

func (c *constScorer) Score(chunk []byte) (float32, error) { return c.prob, nil }
func (c *constScorer) Name() string                        { return "const" }
func (c *constScorer) Reset()                              {}
func (c *constScorer) Close() error                        { return nil }

func newTestVAD(prob float32) (*vad.Processor, *constScorer) {
	scorer := &constScorer{prob: prob}
	return vad.NewProcessor(scorer, vad.DefaultConfig()), scorer
}

// oneVadFrame returns a chunk exactly one VAD sub-frame long, so each
// Feed call below advances the VAD state machine exactly once.
func oneVadFrame() []byte {
	return make([]byte, vad.ChunkSamples*2)
}

func TestSession_EndsOnVadSilence(t *testing.T) {
	proc, scorer := newTestVAD(0.9)
	s := NewSession("sess-1", proc, nil)

	// Drive enough chunks to confirm speech start.
	startChunks := int(vad.DefaultConfig().SpeechStartMs/vad.DefaultConfig().ChunkDurationMs) + 1
	for i := 0; i < startChunks; i++ {
		reason, err := s.Feed(oneVadFrame(), uint64(i))
		require.NoError(t, err)
		assert.Equal(t, NotEnded, reason)
	}
	assert.Equal(t, Capturing, s.State())

	scorer.prob = 0.0
	endChunks := int(vad.DefaultConfig().SpeechEndMs/vad.DefaultConfig().ChunkDurationMs) + 1
	var reason EndReason
	for i := 0; i < endChunks; i++ {
		var err error
		reason, err = s.Feed(oneVadFrame(), uint64(startChunks+i))
		require.NoError(t, err)
		if reason != NotEnded {
			break
		}
	}
	assert.Equal(t, EndVadSilence, reason)
	assert.Equal(t, Ended, s.State())
}

func TestSession_ForwardsChunksToSubscriber(t *testing.T) {
	proc, _ := newTestVAD(0.0)
	s := NewSession("sess-2", proc, nil)

	chunk := []byte{1, 2, 3, 4}

	go func() {
		_, _ = s.Feed(chunk, 0)
		s.End(EndManual)
	}()

	received := <-s.Chunks()
	assert.Equal(t, chunk, received.Data)
}

func TestSession_EndIsIdempotent(t *testing.T) {
	proc, _ := newTestVAD(0.0)
	s := NewSession("sess-3", proc, nil)
	first := s.End(EndManual)
	second := s.End(EndTimeout)
	assert.Equal(t, EndManual, first)
	assert.Equal(t, EndManual, second)
}

func TestPreRollRing_EvictsOldest(t *testing.T) {
	r := NewPreRollRing()
	for i := 0; i < PreRollFrames+2; i++ {
		r.Push([]byte{byte(i)})
	}
	snap := r.Snapshot()
	require.Len(t, snap, PreRollFrames)
	assert.Equal(t, byte(2), snap[0][0])
}

func TestNewSession_SeedsPreRoll(t *testing.T) {
	proc, _ := newTestVAD(0.0)
	pre := [][]byte{{1, 2}, {3, 4}}
	s := NewSession("sess-4", proc, pre)
	assert.Equal(t, []byte{1, 2, 3, 4}, s.PreRoll())
}
