// Package broker implements the Audio Broker: the only component that
// touches the physical audio device. It captures at device-native
// rate/format, reframes into the canonical 16kHz mono s16le 1280-sample
// frame, and fans out to subscribers; it accepts named playback streams,
// resamples and mixes them, and writes the result to the speaker.
//
// Device I/O is grounded on the teacher's cmd/agent/main.go malgo duplex
// setup (one Data callback serving both capture and playback); the
// subscriber table and non-blocking fan-out are generalized from
// ManagedStream's channel-based event delivery
// (pkg/orchestrator/managed_stream.go emit/drainAudioChunks).
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/voxedge/agent/pkg/audio"
	"github.com/voxedge/agent/pkg/orchestrator"
)

// SubscriberQueueCap bounds each subscriber's inbound frame queue.
const SubscriberQueueCap = 32

// ReopenBackoffMin and ReopenBackoffMax bound the device reopen backoff
// on a device error (spec §4.1 failure model).
const (
	ReopenBackoffMin = 50 * time.Millisecond
	ReopenBackoffMax = 2 * time.Second
)

// Frame is one canonical capture frame handed to subscribers.
type Frame struct {
	TimestampMs uint64
	Data        []byte
}

// Subscriber receives canonical frames via a bounded channel; a full
// channel drops the frame and increments Dropped rather than blocking
// the capture path.
type Subscriber struct {
	ID      string
	frames  chan Frame
	Dropped int

	mu sync.Mutex
}

func newSubscriber(id string) *Subscriber {
	return &Subscriber{ID: id, frames: make(chan Frame, SubscriberQueueCap)}
}

// Frames returns the channel to drain for this subscriber's audio.
func (s *Subscriber) Frames() <-chan Frame { return s.frames }

func (s *Subscriber) push(f Frame) {
	select {
	case s.frames <- f:
	default:
		s.mu.Lock()
		s.Dropped++
		s.mu.Unlock()
	}
}

func (s *Subscriber) close() {
	close(s.frames)
}

// Broker owns the audio device and the subscriber/playback tables.
type Broker struct {
	log        orchestrator.Logger
	deviceRate int

	mu          sync.Mutex
	subscribers map[string]*Subscriber
	playback    *playbackTable

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	captureAccum     []byte
	captureResampler *StreamResampler
	frameCount       uint64

	mixedMu  sync.Mutex
	mixedBuf []byte
}

// New constructs a Broker. deviceRate is the native device sample rate
// (e.g. 44100 or 48000); capture is reframed from this rate down to the
// canonical 16kHz.
func New(deviceRate int, log orchestrator.Logger) *Broker {
	if log == nil {
		log = &orchestrator.NoOpLogger{}
	}
	return &Broker{
		log:         log,
		deviceRate:  deviceRate,
		subscribers: make(map[string]*Subscriber),
		playback:    newPlaybackTable(deviceRate),
	}
}

// Subscribe registers a new subscriber and returns it; the caller must
// eventually call Unsubscribe.
func (b *Broker) Subscribe(id string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := newSubscriber(id)
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe removes and closes a subscriber's queue.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Start opens the duplex device and begins the capture/playback loop.
// It blocks until ctx is cancelled or the device cannot be recovered.
func (b *Broker) Start(ctx context.Context) error {
	backoff := ReopenBackoffMin
	for {
		err := b.runDevice(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Error("broker: device error, reopening in %s: %v", backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > ReopenBackoffMax {
			backoff = ReopenBackoffMax
		}
	}
}

func (b *Broker) runDevice(ctx context.Context) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return err
	}
	defer mctx.Uninit()

	devCfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = audio.CanonicalChannels
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = audio.CanonicalChannels
	devCfg.SampleRate = uint32(b.deviceRate)
	devCfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: b.onSamples,
	})
	if err != nil {
		return err
	}
	defer device.Uninit()

	resampler, err := NewStreamResampler(b.deviceRate, audio.CanonicalSampleRate)
	if err != nil {
		return fmt.Errorf("broker: capture resampler: %w", err)
	}
	defer resampler.Close()

	b.mu.Lock()
	b.mctx = mctx
	b.device = device
	b.captureResampler = resampler
	b.mu.Unlock()

	if err := device.Start(); err != nil {
		return err
	}
	defer device.Stop()

	<-ctx.Done()
	return ctx.Err()
}

func (b *Broker) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if len(pInput) > 0 {
		b.onCapture(pInput)
	}
	if len(pOutput) > 0 {
		b.onPlayback(pOutput)
	}
}

func (b *Broker) onCapture(raw []byte) {
	b.mu.Lock()
	resampler := b.captureResampler
	b.mu.Unlock()

	pcm := raw
	if resampler != nil {
		out, err := resampler.Push(raw)
		if err != nil {
			b.log.Error("broker: capture resample: %v", err)
			return
		}
		pcm = out
	}

	b.captureAccum = append(b.captureAccum, pcm...)
	for len(b.captureAccum) >= audio.CanonicalFrameBytes {
		frameBytes := make([]byte, audio.CanonicalFrameBytes)
		copy(frameBytes, b.captureAccum[:audio.CanonicalFrameBytes])
		n := copy(b.captureAccum, b.captureAccum[audio.CanonicalFrameBytes:])
		b.captureAccum = b.captureAccum[:n]

		b.frameCount++
		ts := b.frameCount * uint64(audio.CanonicalFrameSamples) * 1000 / uint64(audio.CanonicalSampleRate)

		b.mu.Lock()
		subs := make([]*Subscriber, 0, len(b.subscribers))
		for _, s := range b.subscribers {
			subs = append(subs, s)
		}
		b.mu.Unlock()

		for _, s := range subs {
			s.push(Frame{TimestampMs: ts, Data: frameBytes})
		}
	}
}

func (b *Broker) onPlayback(pOutput []byte) {
	b.mixedMu.Lock()
	defer b.mixedMu.Unlock()
	n := copy(pOutput, b.mixedBuf)
	b.mixedBuf = b.mixedBuf[n:]
	for i := n; i < len(pOutput); i++ {
		pOutput[i] = 0
	}
}

// RunMixer drains every active playback stream on a tick aligned to the
// canonical frame duration, mixes them with a saturating clamp, and
// stages the result for the device callback to drain. Run this in its
// own goroutine; it returns when ctx is cancelled.
func (b *Broker) RunMixer(ctx context.Context) {
	tick := time.Duration(audio.CanonicalFrameSamples) * time.Second / time.Duration(audio.CanonicalSampleRate)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mixed := b.playback.drainMixed()
			if len(mixed) == 0 {
				continue
			}
			b.mixedMu.Lock()
			b.mixedBuf = append(b.mixedBuf, mixed...)
			b.mixedMu.Unlock()
		}
	}
}

// Playback exposes the playback-stream table to the TCP server layer.
func (b *Broker) Playback() *playbackTable { return b.playback }
