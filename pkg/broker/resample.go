package broker

import (
	"bytes"

	"github.com/tphakala/go-audio-resampler/resampler"
)

// StreamResampler converts s16le mono PCM from one sample rate to another
// using a windowed-sinc SRC, the same "high quality" resampling style this
// dependency brings to telephony audio pipelines elsewhere in the pack.
// Writes accumulate resampled output in an internal buffer drained by Take.
type StreamResampler struct {
	r   *resampler.Resampler
	buf bytes.Buffer
}

// NewStreamResampler builds a resampler converting mono s16le PCM from
// inRate to outRate. A no-op passthrough is used when the rates match.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	sr := &StreamResampler{}
	if inRate == outRate {
		return sr, nil
	}
	r, err := resampler.New(&sr.buf, inRate, outRate, 16, 1, resampler.Quality)
	if err != nil {
		return nil, err
	}
	sr.r = r
	return sr, nil
}

// Push feeds s16le PCM bytes in and returns any resampled output that is
// now available.
func (s *StreamResampler) Push(pcm []byte) ([]byte, error) {
	if s.r == nil {
		return pcm, nil
	}
	if _, err := s.r.Write(pcm); err != nil {
		return nil, err
	}
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	s.buf.Reset()
	return out, nil
}

// Close releases the resampler's internal state.
func (s *StreamResampler) Close() error {
	if s.r == nil {
		return nil
	}
	return s.r.Close()
}
