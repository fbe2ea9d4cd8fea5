// Package agent implements the Agent Orchestrator module (spec §4.6): it
// wires the Audio Broker, Wakeword Detector, Utterance Capture and STT
// Bridge together into the sequenced wakeword → STT → LLM → TTS loop,
// now driven over the two TCP client libraries (pkg/brokerclient,
// pkg/wakewordclient) instead of a single local mic callback.
//
// This generalizes the teacher's single-process ManagedStream
// (pkg/orchestrator/managed_stream.go), which drove VAD + STT + LLM +
// TTS off one local malgo callback inside one binary. The LLM/TTS
// turn-taking (pkg/orchestrator.Orchestrator.GenerateResponse/
// SynthesizeStream), conversation state (ConversationSession) and
// cancel-outside-the-lock interruption pattern (ManagedStream's
// internalInterrupt) are the same machinery, adapted to cancel a
// TCP-driven turn and send AbortPlayback to the broker instead of
// clearing a local playback buffer.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/voxedge/agent/pkg/audio"
	"github.com/voxedge/agent/pkg/brokerclient"
	"github.com/voxedge/agent/pkg/orchestrator"
	wwproto "github.com/voxedge/agent/pkg/protocol/wakeword"
	"github.com/voxedge/agent/pkg/sttbridge"
	"github.com/voxedge/agent/pkg/wakewordclient"
)

// AudioChunkQueueCap bounds the per-turn channel handed to the STT
// bridge; a full queue drops the chunk rather than blocking the
// wakewordclient's shared read loop (spec §4.4 backpressure policy,
// generalized to the agent's own consumption of that stream).
const AudioChunkQueueCap = 256

// Agent sequences one wakeword → utterance → transcript → LLM → TTS
// cycle at a time, cancelling an in-flight cycle whenever a new wakeword
// fires (spec §4.6 cancellation).
type Agent struct {
	broker   *brokerclient.Client
	wakeword *wakewordclient.Client
	bridge   *sttbridge.Bridge
	orch     *orchestrator.Orchestrator
	session  *orchestrator.ConversationSession
	echo     *orchestrator.EchoSuppressor
	log      orchestrator.Logger

	mu              sync.Mutex
	turnCancel      context.CancelFunc
	currentStreamID string
}

// New builds an Agent. log may be nil.
func New(broker *brokerclient.Client, ww *wakewordclient.Client, bridge *sttbridge.Bridge, orch *orchestrator.Orchestrator, session *orchestrator.ConversationSession, log orchestrator.Logger) *Agent {
	if log == nil {
		log = &orchestrator.NoOpLogger{}
	}
	return &Agent{
		broker:   broker,
		wakeword: ww,
		bridge:   bridge,
		orch:     orch,
		session:  session,
		echo:     orchestrator.NewEchoSuppressor(audio.CanonicalSampleRate),
		log:      log,
	}
}

// Run subscribes to wakeword events and drives the orchestration loop
// (spec §4.6) until ctx is cancelled or the wakeword connection closes.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.wakeword.SubscribeWakeword(); err != nil {
		return orchestrator.Classify(orchestrator.KindNetwork, fmt.Errorf("agent: subscribe wakeword: %w", err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-a.wakeword.WakewordEvents():
			if !ok {
				return orchestrator.Classify(orchestrator.KindNetwork, fmt.Errorf("agent: wakeword connection closed"))
			}
			a.onWakeword(ctx, ev)

		case msg, ok := <-a.wakeword.Errors():
			if ok {
				a.log.Error("agent: wakeword service error: %s", msg)
			}
		}
	}
}

// onWakeword cancels any in-flight turn and starts a new one (spec §4.6
// cancellation: "a new wakeword during the LLM/TTS stages aborts TTS
// playback ... and begins a new utterance capture").
func (a *Agent) onWakeword(ctx context.Context, ev wwproto.WakewordEvent) {
	a.interrupt()

	turnCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.turnCancel = cancel
	a.mu.Unlock()

	a.log.Info("agent: wakeword %q fired (confidence=%.3f), starting session %s", ev.Model, ev.Confidence, ev.SessionID)
	go a.runTurn(turnCtx, ev.SessionID)
}

// interrupt cancels the current turn's context and aborts its playback
// stream, following ManagedStream.internalInterrupt's "retrieve under
// lock, cancel outside the lock" shape.
func (a *Agent) interrupt() {
	a.mu.Lock()
	cancel := a.turnCancel
	streamID := a.currentStreamID
	a.turnCancel = nil
	a.currentStreamID = ""
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if streamID != "" {
		if err := a.broker.AbortPlayback(streamID); err != nil {
			a.log.Warn("agent: abort playback stream %s: %v", streamID, err)
		}
	}
	a.echo.ClearEchoBuffer()
}

// runTurn drives one utterance through STT, LLM and TTS. An empty
// transcript is a silent cancel (spec §9's standardized resolution of
// the source's empty-transcript ambiguity), not an error.
func (a *Agent) runTurn(ctx context.Context, sessionID string) {
	if err := a.wakeword.SubscribeUtterance(sessionID); err != nil {
		a.log.Error("agent: subscribe utterance %s: %v", sessionID, err)
		return
	}

	chunks := make(chan []byte, AudioChunkQueueCap)
	eos := make(chan struct{})
	relayDone := make(chan struct{})
	go a.relayUtterance(ctx, sessionID, chunks, eos, relayDone)

	transcript, err := a.bridge.Session(ctx, sessionID, chunks, eos)
	<-relayDone
	if err != nil {
		if ctx.Err() == nil {
			a.log.Error("agent: stt session %s failed: %v", sessionID, err)
		}
		return
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		a.log.Info("agent: session %s produced no speech, silent cancel", sessionID)
		return
	}

	a.session.AddMessage("user", transcript)
	response, err := a.orch.GenerateResponse(ctx, a.session)
	if err != nil {
		a.log.Error("agent: llm generation failed for session %s: %v", sessionID, err)
		return
	}
	a.session.AddMessage("assistant", response)

	a.speak(ctx, sessionID, response)
}

// relayUtterance drains the wakewordclient's shared chunk/end-of-speech
// channels, forwarding only messages tagged with sessionID onto the
// per-turn channels the STT bridge reads. It exits (and closes chunks)
// on end-of-speech, context cancellation, or channel closure.
func (a *Agent) relayUtterance(ctx context.Context, sessionID string, chunks chan<- []byte, eos chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			close(chunks)
			return

		case c, ok := <-a.wakeword.AudioChunks():
			if !ok {
				close(chunks)
				return
			}
			if c.SessionID != sessionID {
				continue
			}
			if a.echo.IsEcho(c.AudioData) {
				a.log.Debug("agent: session %s dropped mic frame correlated with tts output", sessionID)
				continue
			}
			select {
			case chunks <- c.AudioData:
			default:
				a.log.Warn("agent: dropped audio chunk for session %s, consumer slow", sessionID)
			}

		case e, ok := <-a.wakeword.EndOfSpeech():
			if !ok {
				close(chunks)
				return
			}
			if e.SessionID != sessionID {
				continue
			}
			close(chunks)
			close(eos)
			return
		}
	}
}

// speak synthesizes response and streams it to the broker under a
// stream id the agent can later abort (spec §4.6's PlayAudio/EndStream
// sequencing).
func (a *Agent) speak(ctx context.Context, sessionID, response string) {
	streamID := "tts-" + sessionID
	a.mu.Lock()
	a.currentStreamID = streamID
	a.mu.Unlock()

	err := a.orch.SynthesizeStream(ctx, response, a.session.GetCurrentVoice(), a.session.GetCurrentLanguage(), func(chunk []byte) error {
		a.echo.RecordPlayedAudio(chunk)
		return a.broker.PlayAudio(streamID, chunk)
	})
	if err != nil && ctx.Err() == nil {
		a.log.Error("agent: tts synthesis failed for session %s: %v", sessionID, err)
	}
	if chunksPlayed, endErr := a.broker.EndStream(streamID); endErr != nil {
		a.log.Warn("agent: end stream %s: %v", streamID, endErr)
	} else {
		a.log.Debug("agent: stream %s played %d chunks", streamID, chunksPlayed)
	}

	a.mu.Lock()
	if a.currentStreamID == streamID {
		a.currentStreamID = ""
	}
	if a.turnCancel != nil {
		a.turnCancel = nil
	}
	a.mu.Unlock()
}

// Close releases the broker and wakeword client connections.
func (a *Agent) Close() error {
	wErr := a.wakeword.Close()
	bErr := a.broker.Close()
	if wErr != nil {
		return wErr
	}
	return bErr
}
