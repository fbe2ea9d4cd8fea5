// Package wakeword implements the Wakeword Detector module: a three-stage
// mel-spectrogram → embedding → per-keyword-classifier ONNX pipeline
// (openWakeWord-style), with per-model score history, debounce, and
// peak-confidence tracking, and stuck-pipeline recovery.
//
// Grounded on the pack's openWakeWord detector (melspec/embedding/wakeword
// ONNX sessions, zero-padded recent-embedding scoring) generalized from a
// single hard-coded model to a registry of independently tuned keyword
// models, each with its own peak-confidence/debounce release logic.
package wakeword

import (
	"encoding/binary"
	"fmt"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/voxedge/agent/pkg/onnxenv"
)

const (
	SampleRate    = 16000
	ChunkSamples  = 1280 // 80ms @ 16kHz, the canonical frame size
	MelWindowSize = 76   // mel frames the embedding model consumes
	MelStepSize   = 8
	EmbeddingDim  = 96
	NEmbedFrames  = 16 // embedding frames the classifier consumes (1536 floats)
	MelBins       = 32
	NMelFrames    = 5 // mel frames produced per 1280-sample chunk

	// ConfidenceWindowSize tracks ~2.4s of recent confidence scores for
	// peak-drop detection (30 chunks @ 80ms).
	ConfidenceWindowSize = 30
	// MinChunksAfterPeak is the minimum settle time after a confidence
	// peak before a detection is considered to have ended.
	MinChunksAfterPeak = 1
	// ConfidenceDropThreshold is how far the windowed average confidence
	// must fall below the peak before a detection ends.
	ConfidenceDropThreshold = 0.10
	// DefaultDebounceMs is the minimum gap after a published detection
	// before the same model may trigger again.
	DefaultDebounceMs = 1000

	// MaxChunksBeforeReset bounds how long the mel/embedding accumulators
	// may run without a classifier firing before they are flushed — a
	// stuck pipeline recovers instead of silently degrading.
	MaxChunksBeforeReset = 100 // ~8s of audio
)

// ModelConfig describes one registered keyword classifier.
type ModelConfig struct {
	Name              string
	ClassifierPath    string
	Threshold         float32 // default 0.09, matching the reference model
	DebounceMs        uint64  // default 1000ms
	ExecutionProvider string  // hint only; ignored unless the runtime supports it
}

// PipelineConfig configures the shared mel/embedding stages and the set
// of keyword models riding on top of them.
type PipelineConfig struct {
	MelspecModelPath   string
	EmbeddingModelPath string
	SharedLibPath      string
	Models             []ModelConfig
}

// Detection reports one keyword model crossing its threshold.
type Detection struct {
	Model       string
	Confidence  float32
	TimestampMs uint64
}

// modelState tracks one keyword classifier's session plus its own
// debounce/peak-confidence state, independent of every other model.
type modelState struct {
	cfg     ModelConfig
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	detected         bool
	peakConfidence   float32
	chunksSincePeak  int
	confidenceWindow []float32
	msSinceDetection uint64 // elapsed since the last published detection; debounce gate
	everDetected     bool
}

// Pipeline runs the shared melspec/embedding stages once per chunk and
// fans the resulting embedding out to every registered keyword model.
type Pipeline struct {
	cfg PipelineConfig

	melspecSess *ort.AdvancedSession
	melspecIn   *ort.Tensor[float32]
	melspecOut  *ort.Tensor[float32]

	embedSess *ort.AdvancedSession
	embedIn   *ort.Tensor[float32]
	embedOut  *ort.Tensor[float32]

	models []*modelState

	melBuffer     []float32
	embedBuffer   []float32
	chunksSinceEmbed int
}

// NewPipeline loads the melspec/embedding models and every registered
// keyword classifier. The process-wide ONNX Runtime environment is
// refcounted via pkg/onnxenv, so a Pipeline may safely share the process
// with a vad.ONNXScorer (as cmd/wakewordd does: the pipeline itself, plus
// one ONNXScorer per active utterance session).
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if err := onnxenv.Acquire(cfg.SharedLibPath); err != nil {
		return nil, fmt.Errorf("wakeword: onnx init: %w", err)
	}

	p := &Pipeline{
		cfg:         cfg,
		melBuffer:   make([]float32, 0, 300*MelBins),
		embedBuffer: make([]float32, NEmbedFrames*EmbeddingDim),
	}

	var err error
	p.melspecIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, ChunkSamples))
	if err != nil {
		return nil, p.failInit(err)
	}
	p.melspecOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, NMelFrames, MelBins))
	if err != nil {
		return nil, p.failInit(err)
	}
	msIn, msOut, err := ort.GetInputOutputInfo(cfg.MelspecModelPath)
	if err != nil {
		return nil, p.failInit(err)
	}
	p.melspecSess, err = ort.NewAdvancedSession(cfg.MelspecModelPath,
		[]string{msIn[0].Name}, []string{msOut[0].Name},
		[]ort.Value{p.melspecIn}, []ort.Value{p.melspecOut}, nil)
	if err != nil {
		return nil, p.failInit(err)
	}

	p.embedIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, MelWindowSize, MelBins, 1))
	if err != nil {
		return nil, p.failInit(err)
	}
	p.embedOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, EmbeddingDim))
	if err != nil {
		return nil, p.failInit(err)
	}
	emIn, emOut, err := ort.GetInputOutputInfo(cfg.EmbeddingModelPath)
	if err != nil {
		return nil, p.failInit(err)
	}
	p.embedSess, err = ort.NewAdvancedSession(cfg.EmbeddingModelPath,
		[]string{emIn[0].Name}, []string{emOut[0].Name},
		[]ort.Value{p.embedIn}, []ort.Value{p.embedOut}, nil)
	if err != nil {
		return nil, p.failInit(err)
	}

	for _, mc := range cfg.Models {
		if mc.Threshold <= 0 {
			mc.Threshold = 0.09
		}
		if mc.DebounceMs == 0 {
			mc.DebounceMs = DefaultDebounceMs
		}
		ms, err := newModelState(mc)
		if err != nil {
			return nil, p.failInit(err)
		}
		p.models = append(p.models, ms)
	}

	return p, nil
}

func newModelState(cfg ModelConfig) (*modelState, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, NEmbedFrames, EmbeddingDim))
	if err != nil {
		return nil, err
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		return nil, err
	}
	in, out, err := ort.GetInputOutputInfo(cfg.ClassifierPath)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	session, err := ort.NewAdvancedSession(cfg.ClassifierPath,
		[]string{in[0].Name}, []string{out[0].Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	return &modelState{cfg: cfg, session: session, input: input, output: output}, nil
}

func (p *Pipeline) failInit(cause error) error {
	p.Close()
	return fmt.Errorf("wakeword: %w", cause)
}

// Close tears down every ONNX session and the shared environment.
func (p *Pipeline) Close() error {
	for _, ms := range p.models {
		if ms.session != nil {
			ms.session.Destroy()
		}
		if ms.input != nil {
			ms.input.Destroy()
		}
		if ms.output != nil {
			ms.output.Destroy()
		}
	}
	if p.embedSess != nil {
		p.embedSess.Destroy()
	}
	if p.embedIn != nil {
		p.embedIn.Destroy()
	}
	if p.embedOut != nil {
		p.embedOut.Destroy()
	}
	if p.melspecSess != nil {
		p.melspecSess.Destroy()
	}
	if p.melspecIn != nil {
		p.melspecIn.Destroy()
	}
	if p.melspecOut != nil {
		p.melspecOut.Destroy()
	}
	onnxenv.Release()
	return nil
}

// Reset flushes every accumulator and per-model debounce state, used both
// on explicit caller request and automatically after MaxChunksBeforeReset
// chunks pass without settling a detection.
func (p *Pipeline) Reset() {
	p.melBuffer = p.melBuffer[:0]
	for i := range p.embedBuffer {
		p.embedBuffer[i] = 0
	}
	p.chunksSinceEmbed = 0
	for _, ms := range p.models {
		ms.detected = false
		ms.peakConfidence = 0
		ms.chunksSincePeak = 0
		ms.confidenceWindow = ms.confidenceWindow[:0]
	}
	// everDetected/msSinceDetection survive a stuck-pipeline reset: the
	// debounce window is a property of wall-clock-ish elapsed time, not
	// of the accumulator state that just got flushed.
}

// Process runs one 1280-sample chunk through the shared mel/embedding
// stages and every registered classifier, returning a Detection for each
// model whose peak-tracking state machine just settled on a confirmed
// wakeword release (score crossed threshold, then the windowed average
// dropped far enough below the peak). Most calls return no detections.
func (p *Pipeline) Process(chunk []byte, timestampMs uint64) ([]Detection, error) {
	if len(chunk) != ChunkSamples*2 {
		return nil, fmt.Errorf("wakeword: expected %d bytes, got %d", ChunkSamples*2, len(chunk))
	}

	p.chunksSinceEmbed++
	if p.chunksSinceEmbed > MaxChunksBeforeReset {
		p.Reset()
	}

	const chunkDurationMs = uint64(ChunkSamples) * 1000 / SampleRate
	for _, ms := range p.models {
		if ms.everDetected {
			ms.msSinceDetection += chunkDurationMs
		}
	}

	inData := p.melspecIn.GetData()
	for i := 0; i < ChunkSamples; i++ {
		sample := int16(binary.LittleEndian.Uint16(chunk[i*2 : i*2+2]))
		inData[i] = float32(sample)
	}
	if err := p.melspecSess.Run(); err != nil {
		return nil, fmt.Errorf("wakeword: melspec run: %w", err)
	}
	melData := p.melspecOut.GetData()
	for f := 0; f < NMelFrames; f++ {
		for b := 0; b < MelBins; b++ {
			idx := f*MelBins + b
			if idx < len(melData) {
				p.melBuffer = append(p.melBuffer, melData[idx]/10.0+2.0)
			}
		}
	}

	var detections []Detection
	totalMel := len(p.melBuffer) / MelBins
	newEmbed := false
	for totalMel >= MelWindowSize {
		eData := p.embedIn.GetData()
		copy(eData, p.melBuffer[:MelWindowSize*MelBins])
		if err := p.embedSess.Run(); err != nil {
			return nil, fmt.Errorf("wakeword: embed run: %w", err)
		}
		eOut := p.embedOut.GetData()
		copy(p.embedBuffer, p.embedBuffer[EmbeddingDim:])
		copy(p.embedBuffer[(NEmbedFrames-1)*EmbeddingDim:], eOut[:EmbeddingDim])
		newEmbed = true

		n := copy(p.melBuffer, p.melBuffer[MelStepSize*MelBins:])
		p.melBuffer = p.melBuffer[:n]
		totalMel = len(p.melBuffer) / MelBins
	}
	if totalMel > MelWindowSize {
		excess := (totalMel - MelWindowSize) * MelBins
		n := copy(p.melBuffer, p.melBuffer[excess:])
		p.melBuffer = p.melBuffer[:n]
	}
	if !newEmbed {
		return nil, nil
	}
	p.chunksSinceEmbed = 0

	for _, ms := range p.models {
		det, err := p.scoreModel(ms, timestampMs)
		if err != nil {
			return detections, fmt.Errorf("wakeword: model %s: %w", ms.cfg.Name, err)
		}
		if det != nil {
			detections = append(detections, *det)
		}
	}
	return detections, nil
}

func (p *Pipeline) scoreModel(ms *modelState, timestampMs uint64) (*Detection, error) {
	wwData := ms.input.GetData()
	copy(wwData, p.embedBuffer)
	if err := ms.session.Run(); err != nil {
		return nil, err
	}
	conf := ms.output.GetData()[0]

	if !ms.detected {
		debounceMs := ms.cfg.DebounceMs
		if debounceMs == 0 {
			debounceMs = DefaultDebounceMs
		}
		debounced := ms.everDetected && ms.msSinceDetection < debounceMs
		if conf >= ms.cfg.Threshold && !debounced {
			ms.detected = true
			ms.peakConfidence = conf
			ms.chunksSincePeak = 0
			ms.confidenceWindow = append(ms.confidenceWindow[:0], conf)
		}
		return nil, nil
	}

	ms.chunksSincePeak++
	if conf > ms.peakConfidence {
		ms.peakConfidence = conf
		ms.chunksSincePeak = 0
	}
	ms.confidenceWindow = append(ms.confidenceWindow, conf)
	if len(ms.confidenceWindow) > ConfidenceWindowSize {
		ms.confidenceWindow = ms.confidenceWindow[1:]
	}

	if ms.chunksSincePeak < MinChunksAfterPeak {
		return nil, nil
	}

	var sum float32
	for _, c := range ms.confidenceWindow {
		sum += c
	}
	windowAvg := sum / float32(len(ms.confidenceWindow))

	if ms.peakConfidence-windowAvg >= ConfidenceDropThreshold {
		peak := ms.peakConfidence
		ms.detected = false
		ms.peakConfidence = 0
		ms.chunksSincePeak = 0
		ms.confidenceWindow = ms.confidenceWindow[:0]
		ms.everDetected = true
		ms.msSinceDetection = 0
		return &Detection{Model: ms.cfg.Name, Confidence: peak, TimestampMs: timestampMs}, nil
	}
	return nil, nil
}

// Uptime-style helper kept for cmd/wakewordd's periodic stats logging.
func chunkDuration() time.Duration {
	return time.Duration(ChunkSamples) * time.Second / time.Duration(SampleRate)
}
