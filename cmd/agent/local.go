// --local-mic mode is the teacher's original single-process pipeline kept
// alive as a fallback: one malgo duplex device feeding a
// pkg/orchestrator.ManagedStream directly, instead of dialing the Audio
// Broker and Wakeword services over TCP. Useful for a single-machine
// deployment or for exercising ManagedStream without standing up three
// binaries.
//
// The device loop is grounded on pkg/broker.Broker's onSamples/onCapture
// split (same malgo.Duplex config, same Data-callback shape), adapted
// here to feed ManagedStream.Write directly instead of reframing into
// canonical broker frames, and on the teacher's cmd/agent/main.go RMS
// echo-guard: while TTS audio was played in the last 200ms the capture
// threshold is raised so speaker bleed picked up by the mic doesn't
// re-trigger the VAD.
package main

import (
	"context"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/voxedge/agent/pkg/orchestrator"
)

const (
	localMicQuietThreshold   = 0.02
	localMicPlayingThreshold = 0.15
	localMicPlayingWindow    = 200 * time.Millisecond
)

// runLocalMic drives orch's ManagedStream off one malgo duplex device at
// deviceRate. It blocks until ctx is cancelled.
func runLocalMic(ctx context.Context, deviceRate int, orch *orchestrator.Orchestrator, session *orchestrator.ConversationSession, log orchestrator.Logger) int {
	stream := orch.NewManagedStream(ctx, session)
	defer stream.Close()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Error("agent: local-mic malgo init: %v", err)
		return 2
	}
	defer mctx.Uninit()

	var (
		playbackMu    sync.Mutex
		playbackBytes []byte
		lastPlayedAt  time.Time
	)

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if len(pInput) > 0 {
			threshold := localMicQuietThreshold
			playbackMu.Lock()
			playing := time.Since(lastPlayedAt) < localMicPlayingWindow
			playbackMu.Unlock()
			if playing {
				threshold = localMicPlayingThreshold
			}
			if orchestrator.RMSAmplitude(pInput) > threshold {
				_ = stream.Write(pInput)
			} else {
				_ = stream.Write(make([]byte, len(pInput)))
			}
		}
		if len(pOutput) > 0 {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			if n > 0 {
				lastPlayedAt = time.Now()
			}
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
			playbackMu.Unlock()
		}
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = 1
	devCfg.SampleRate = uint32(deviceRate)
	devCfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Error("agent: local-mic device init: %v", err)
		return 2
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Error("agent: local-mic device start: %v", err)
		return 2
	}
	defer device.Stop()

	go func() {
		for event := range stream.Events() {
			switch event.Type {
			case orchestrator.TranscriptFinal:
				log.Info("agent: transcript: %s", event.Data.(string))
			case orchestrator.BotResponse:
				log.Info("agent: response: %s", event.Data.(string))
			case orchestrator.AudioChunk:
				chunk := event.Data.([]byte)
				playbackMu.Lock()
				playbackBytes = append(playbackBytes, chunk...)
				playbackMu.Unlock()
			case orchestrator.Interrupted:
				log.Info("agent: interrupted by user barge-in")
				playbackMu.Lock()
				playbackBytes = nil
				playbackMu.Unlock()
			case orchestrator.ErrorEvent:
				log.Error("agent: %v", event.Data)
			}
		}
	}()

	log.Info("agent: local-mic mode ready at %dHz, no audio broker or wakeword service required", deviceRate)
	<-ctx.Done()
	return 0
}
