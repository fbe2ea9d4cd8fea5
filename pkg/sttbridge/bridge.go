// Package sttbridge implements the Streaming STT Bridge module (spec
// §4.5): it pushes one utterance's captured audio to a remote streaming
// recognizer over a websocket and converges on a final transcript under
// the spec's explicit timeout taxonomy.
//
// The transport is grounded on the teacher's LokutorTTS provider
// (pkg/providers/tts/lokutor.go), which already drives a bidirectional
// binary/text websocket session with github.com/coder/websocket; the
// bridge reuses that connect-once/reconnect-on-nil idiom but for an
// inbound-JSON/outbound-binary session instead of LokutorTTS's
// outbound-JSON/inbound-binary one.
package sttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/voxedge/agent/pkg/orchestrator"
	"github.com/voxedge/agent/pkg/vad"
)

// Timeout defaults from spec §4.5/§5.
const (
	EmergencyTimeout  = 60 * time.Second
	AudioTimeout      = 3 * time.Second
	NoSpeechTimeout   = 4 * time.Second
	FinalGraceTimeout = 10 * time.Second
	ChunkPacingDelay  = 10 * time.Millisecond
)

// Config configures one Bridge's connection to the remote recognizer.
type Config struct {
	URL        string // base wss:// URL, query params appended per connection
	APIKey     string
	Prompt     string
	SampleRate int
	// KeepPartial returns a failed session's best-effort transcript
	// instead of discarding it. Spec §4.5 default is to discard.
	KeepPartial bool
}

// Bridge streams one utterance session's audio to a remote recognizer
// and converges on a final transcript. A Bridge instance is reused
// across sessions; each session gets a fresh websocket connection, so a
// transport failure in one session never affects the next (spec §4.5
// failure isolation).
type Bridge struct {
	cfg Config
	log orchestrator.Logger
}

// New builds a Bridge. log may be nil.
func New(cfg Config, log orchestrator.Logger) *Bridge {
	if log == nil {
		log = &orchestrator.NoOpLogger{}
	}
	return &Bridge{cfg: cfg, log: log}
}

// recognizerMessage is the inbound JSON shape from the reference
// endpoint (spec §6): interim segments, word lists with per-word
// finality, or a bare finality marker.
type recognizerMessage struct {
	Text     string `json:"text,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments,omitempty"`
	Words []struct {
		Word    string `json:"word"`
		IsFinal bool   `json:"is_final"`
	} `json:"words,omitempty"`
}

func (m recognizerMessage) isFinal() bool {
	if m.TraceID == "final" {
		return true
	}
	for _, w := range m.Words {
		if w.IsFinal {
			return true
		}
	}
	return false
}

func (m recognizerMessage) best() string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	if len(m.Segments) > 0 {
		var sb strings.Builder
		for i, s := range m.Segments {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(s.Text)
		}
		return sb.String()
	}
	return ""
}

// checkpointFinal is the outbound control frame signalling end-of-stream
// to the recognizer (spec §4.5 step 4).
const checkpointFinal = `{"checkpoint_id":"final"}`

// Session drives one utterance's worth of audio through a fresh
// recognizer connection to a converged transcript. chunks must be closed
// by the caller once no more audio will arrive for this utterance (it is
// fine to also send on endOfSpeech instead/as well; Session treats
// whichever happens first as the signal to finalize). endOfSpeech may be
// nil if the caller only ever closes chunks.
func (b *Bridge) Session(ctx context.Context, sessionID string, chunks <-chan []byte, endOfSpeech <-chan struct{}) (transcript string, err error) {
	ctx, cancel := context.WithTimeout(ctx, EmergencyTimeout)
	defer cancel()

	conn, err := b.dial(ctx)
	if err != nil {
		return "", orchestrator.Classify(orchestrator.KindNetwork, fmt.Errorf("sttbridge: connect: %w", err))
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var (
		mu        sync.Mutex
		best      string
		finalCh   = make(chan struct{})
		finalOnce sync.Once
	)

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	go func() {
		for {
			_, payload, err := conn.Read(readCtx)
			if err != nil {
				finalOnce.Do(func() { close(finalCh) })
				return
			}
			var msg recognizerMessage
			if json.Unmarshal(payload, &msg) != nil {
				continue
			}
			if t := msg.best(); t != "" {
				mu.Lock()
				best = t
				mu.Unlock()
			}
			if msg.isFinal() {
				finalOnce.Do(func() { close(finalCh) })
			}
		}
	}()

	audioTimer := time.NewTimer(AudioTimeout)
	defer audioTimer.Stop()

	// noSpeechTimer is distinct from audioTimer: audioTimer resets on any
	// chunk arrival (it watches for the source going silent entirely),
	// while noSpeechTimer only resets when a chunk actually scores as
	// speech, so a steady stream of audio that a lightweight VAD pass
	// never classifies as speech still converges on NoSpeechTimeout.
	noSpeechTimer := time.NewTimer(NoSpeechTimeout)
	defer noSpeechTimer.Stop()
	noSpeechScorer := vad.NewRMSScorer(0)

	finalized := false
	for !finalized {
		select {
		case <-ctx.Done():
			return b.snapshot(&mu, &best), orchestrator.ErrEmergencyTimeout

		case chunk, ok := <-chunks:
			if !ok {
				finalized = true
				break
			}
			if !audioTimer.Stop() {
				<-drainTimer(audioTimer)
			}
			audioTimer.Reset(AudioTimeout)

			if score, err := noSpeechScorer.Score(chunk); err == nil && score >= 0.5 {
				if !noSpeechTimer.Stop() {
					<-drainTimer(noSpeechTimer)
				}
				noSpeechTimer.Reset(NoSpeechTimeout)
			}

			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return b.discardOr(&mu, &best), orchestrator.Classify(orchestrator.KindNetwork, fmt.Errorf("sttbridge: write audio: %w", err))
			}
			time.Sleep(ChunkPacingDelay)

		case <-audioTimer.C:
			return b.discardOr(&mu, &best), orchestrator.ErrAudioTimeout

		case <-noSpeechTimer.C:
			return b.discardOr(&mu, &best), orchestrator.ErrNoSpeechTimeout

		case <-endOfSpeechChan(endOfSpeech):
			finalized = true
		}
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(checkpointFinal)); err != nil {
		return b.discardOr(&mu, &best), orchestrator.Classify(orchestrator.KindNetwork, fmt.Errorf("sttbridge: write checkpoint: %w", err))
	}

	graceTimer := time.NewTimer(FinalGraceTimeout)
	defer graceTimer.Stop()
	select {
	case <-finalCh:
	case <-graceTimer.C:
		b.log.Warn("sttbridge: session %s grace window elapsed before finality", sessionID)
	case <-ctx.Done():
		return b.snapshot(&mu, &best), orchestrator.ErrEmergencyTimeout
	}

	return b.snapshot(&mu, &best), nil
}

func (b *Bridge) snapshot(mu *sync.Mutex, best *string) string {
	mu.Lock()
	defer mu.Unlock()
	return *best
}

// discardOr returns "" when configured to discard partial transcripts on
// a failed session (the spec's default), otherwise the best transcript
// seen so far.
func (b *Bridge) discardOr(mu *sync.Mutex, best *string) string {
	if !b.cfg.KeepPartial {
		return ""
	}
	return b.snapshot(mu, best)
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(b.cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("response_format", "verbose_json")
	q.Set("Authorization", b.cfg.APIKey)
	q.Set("temperature", "0.0")
	if b.cfg.Prompt != "" {
		q.Set("prompt", b.cfg.Prompt)
	}
	u.RawQuery = q.Encode()
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	return conn, err
}

// endOfSpeechChan lets the select above treat a nil endOfSpeech channel
// as "never fires" without a special-cased branch.
func endOfSpeechChan(c <-chan struct{}) <-chan struct{} {
	if c == nil {
		return nil
	}
	return c
}

func drainTimer(t *time.Timer) <-chan time.Time {
	ch := make(chan time.Time, 1)
	select {
	case v := <-t.C:
		ch <- v
	default:
	}
	close(ch)
	return ch
}
