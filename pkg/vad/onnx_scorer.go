package vad

import (
	"encoding/binary"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/voxedge/agent/pkg/onnxenv"
)

// ONNXScorer runs a single-frame speech/non-speech classifier (e.g. a
// Silero-style model) over each 512-sample chunk. Grounded on the ONNX
// session wiring in the pack's openWakeWord detector (three-stage
// melspec/embedding/wakeword sessions, each built via
// ort.NewAdvancedSession over a fixed-shape input/output tensor pair).
type ONNXScorer struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXScorer loads a speech-probability model at modelPath. sharedLib
// is the onnxruntime shared library path; pass "" if already set by
// another component in this process.
func NewONNXScorer(modelPath, sharedLib string) (*ONNXScorer, error) {
	if err := onnxenv.Acquire(sharedLib); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, ChunkSamples))
	if err != nil {
		onnxenv.Release()
		return nil, fmt.Errorf("vad: input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		onnxenv.Release()
		return nil, fmt.Errorf("vad: output tensor: %w", err)
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		input.Destroy()
		output.Destroy()
		onnxenv.Release()
		return nil, fmt.Errorf("vad: model info: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{input}, []ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		onnxenv.Release()
		return nil, fmt.Errorf("vad: session: %w", err)
	}

	return &ONNXScorer{session: session, input: input, output: output}, nil
}

// Score runs one inference pass over a 512-sample s16le chunk, returning
// the model's speech probability.
func (s *ONNXScorer) Score(chunk []byte) (float32, error) {
	data := s.input.GetData()
	n := len(chunk) / 2
	for i := 0; i < ChunkSamples; i++ {
		if i < n {
			sample := int16(binary.LittleEndian.Uint16(chunk[i*2 : i*2+2]))
			data[i] = float32(sample) / 32768.0
		} else {
			data[i] = 0
		}
	}
	if err := s.session.Run(); err != nil {
		return 0, fmt.Errorf("vad: inference: %w", err)
	}
	return s.output.GetData()[0], nil
}

func (s *ONNXScorer) Name() string { return "onnx_vad" }

// Reset is a no-op: the model is stateless per frame.
func (s *ONNXScorer) Reset() {}

func (s *ONNXScorer) Close() error {
	s.session.Destroy()
	s.input.Destroy()
	s.output.Destroy()
	onnxenv.Release()
	return nil
}
