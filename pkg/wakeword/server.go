package wakeword

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/voxedge/agent/pkg/brokerclient"
	"github.com/voxedge/agent/pkg/orchestrator"
	"github.com/voxedge/agent/pkg/protocol"
	wwproto "github.com/voxedge/agent/pkg/protocol/wakeword"
	"github.com/voxedge/agent/pkg/utterance"
	"github.com/voxedge/agent/pkg/vad"
)

var sessionSeq atomic.Uint64

// ScorerFactory builds a fresh VAD speech scorer for one utterance
// session; sessions don't share scorer state.
type ScorerFactory func() (vad.SpeechScorer, error)

// Service hosts both the Wakeword Detector and Utterance Capture
// modules behind one TCP listener, matching spec §6's single wakeword
// service bind. It consumes canonical frames from the Audio Broker via
// brokerclient, runs them through a Pipeline, and on each detection
// opens an utterance.Session seeded from a rolling pre-roll buffer.
type Service struct {
	pipeline      *Pipeline
	broker        *brokerclient.Client
	preRoll       *utterance.PreRollRing
	newScorer     ScorerFactory
	vadCfg        vad.Config
	log           orchestrator.Logger

	mu            sync.Mutex
	wakewordConns map[string]connWriter
	sessions      map[string]*utterance.Session
	sessionConns  map[string]map[string]connWriter
}

type connWriter func(msgType wwproto.MessageType, v any) error

// NewService wires a Pipeline to a broker subscription.
func NewService(pipeline *Pipeline, broker *brokerclient.Client, scorerFactory ScorerFactory, vadCfg vad.Config, log orchestrator.Logger) *Service {
	if log == nil {
		log = &orchestrator.NoOpLogger{}
	}
	return &Service{
		pipeline:      pipeline,
		broker:        broker,
		preRoll:       utterance.NewPreRollRing(),
		newScorer:     scorerFactory,
		vadCfg:        vadCfg,
		log:           log,
		wakewordConns: make(map[string]connWriter),
		sessions:      make(map[string]*utterance.Session),
		sessionConns:  make(map[string]map[string]connWriter),
	}
}

// Run drains the broker subscription and feeds the pipeline until ctx is
// cancelled or the broker connection closes.
func (s *Service) Run(ctx context.Context) error {
	if err := s.broker.SubscribeAudio(); err != nil {
		return fmt.Errorf("wakeword: subscribe to broker: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-s.broker.Frames():
			if !ok {
				return fmt.Errorf("wakeword: broker connection closed")
			}
			s.preRoll.Push(frame.AudioData)
			detections, err := s.pipeline.Process(frame.AudioData, frame.TimestampMs)
			if err != nil {
				s.log.Error("wakeword: pipeline error: %v", err)
				continue
			}
			for _, d := range detections {
				s.onDetection(ctx, d)
			}
			s.feedSessions(frame.AudioData, frame.TimestampMs)
		}
	}
}

func (s *Service) onDetection(ctx context.Context, d Detection) {
	sessionID := fmt.Sprintf("sess-%d", sessionSeq.Add(1))
	scorer, err := s.newScorer()
	if err != nil {
		s.log.Error("wakeword: scorer init failed: %v", err)
		return
	}
	proc := vad.NewProcessor(scorer, s.vadCfg)
	session := utterance.NewSession(sessionID, proc, s.preRoll.Snapshot())

	sessCtx, cancel := context.WithCancel(ctx)
	session.SetCancel(cancel)

	s.mu.Lock()
	s.sessions[sessionID] = session
	s.sessionConns[sessionID] = make(map[string]connWriter)
	conns := make([]connWriter, 0, len(s.wakewordConns))
	for _, w := range s.wakewordConns {
		conns = append(conns, w)
	}
	s.mu.Unlock()

	for _, w := range conns {
		_ = w(wwproto.WakewordEventMsg, wwproto.WakewordEvent{
			Model: d.Model, Confidence: d.Confidence, TimestampMs: d.TimestampMs, SessionID: sessionID,
		})
	}

	go s.relaySession(sessCtx, session)
}

func (s *Service) relaySession(ctx context.Context, session *utterance.Session) {
	preRoll := session.PreRoll()
	s.broadcastSession(session.ID, wwproto.UtteranceSessionStarted, wwproto.UtteranceSessionStartedEvent{
		SessionID: session.ID, PreRoll: preRoll,
	})

	var totalChunks int
	for chunk := range session.Chunks() {
		totalChunks++
		s.broadcastSession(session.ID, wwproto.AudioChunkMsg, wwproto.UtteranceAudioChunk{
			SessionID: session.ID, TimestampMs: chunk.TimestampMs, AudioData: chunk.Data,
		})
	}

	s.broadcastSession(session.ID, wwproto.EndOfSpeechMsg, wwproto.EndOfSpeechEvent{
		SessionID: session.ID, Reason: endReasonWire(session.LastEndReason()), DurationMs: uint64(totalChunks) * 80,
	})

	s.mu.Lock()
	delete(s.sessions, session.ID)
	delete(s.sessionConns, session.ID)
	s.mu.Unlock()
}

func endReasonWire(r utterance.EndReason) wwproto.EosReason {
	switch r {
	case utterance.EndTimeout:
		return wwproto.EosTimeout
	case utterance.EndManual:
		return wwproto.EosManual
	case utterance.EndError:
		return wwproto.EosError
	default:
		return wwproto.EosVadSilence
	}
}

func (s *Service) broadcastSession(sessionID string, msgType wwproto.MessageType, v any) {
	s.mu.Lock()
	conns := s.sessionConns[sessionID]
	writers := make([]connWriter, 0, len(conns))
	for _, w := range conns {
		writers = append(writers, w)
	}
	s.mu.Unlock()
	for _, w := range writers {
		_ = w(msgType, v)
	}
}

func (s *Service) feedSessions(chunk []byte, timestampMs uint64) {
	s.mu.Lock()
	sessions := make([]*utterance.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		if sess.State() == utterance.Ended {
			continue
		}
		if _, err := sess.Feed(chunk, timestampMs); err != nil {
			s.log.Error("wakeword: session %s feed error: %v", sess.ID, err)
		}
	}
}

// ListenAndServe binds addr and serves the wakeword/utterance protocol.
func (s *Service) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wakeword: listen %s: %w", addr, err)
	}
	defer ln.Close()
	s.log.Info("wakeword: listening on %s", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("wakeword: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Service) handleConn(conn net.Conn) {
	defer conn.Close()
	connID := fmt.Sprintf("conn-%d", sessionSeq.Add(1))

	var writeMu sync.Mutex
	write := func(msgType wwproto.MessageType, v any) error {
		payload, err := wwproto.Encode(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return protocol.WriteMessage(conn, byte(msgType), payload)
	}

	subscribedWakeword := false
	subscribedSessions := make(map[string]bool)

	defer func() {
		s.mu.Lock()
		if subscribedWakeword {
			delete(s.wakewordConns, connID)
		}
		for sid := range subscribedSessions {
			if conns, ok := s.sessionConns[sid]; ok {
				delete(conns, connID)
			}
		}
		s.mu.Unlock()
	}()

	for {
		msgType, payload, err := protocol.ReadMessage(conn)
		if err != nil {
			return
		}
		switch wwproto.MessageType(msgType) {
		case wwproto.SubscribeWakeword:
			var req wwproto.SubscribeWakewordRequest
			_ = wwproto.Decode(payload, &req)
			s.mu.Lock()
			s.wakewordConns[connID] = write
			s.mu.Unlock()
			subscribedWakeword = true
			_ = write(wwproto.SubscribeResponse, wwproto.SubscribeResponseMsg{Success: true})

		case wwproto.UnsubscribeWakeword:
			s.mu.Lock()
			delete(s.wakewordConns, connID)
			s.mu.Unlock()
			subscribedWakeword = false
			_ = write(wwproto.UnsubscribeResponseMsg, wwproto.SubscribeResponseMsg{Success: true})

		case wwproto.SubscribeUtterance:
			var req wwproto.SubscribeUtteranceRequest
			if err := wwproto.Decode(payload, &req); err != nil {
				_ = write(wwproto.ErrorResponse, wwproto.ErrorResponseMsg{Message: err.Error()})
				continue
			}
			s.mu.Lock()
			conns, ok := s.sessionConns[req.SessionID]
			if ok {
				conns[connID] = write
			}
			s.mu.Unlock()
			subscribedSessions[req.SessionID] = true
			_ = write(wwproto.SubscribeResponse, wwproto.SubscribeResponseMsg{Success: ok})

		case wwproto.UnsubscribeUtterance:
			var req wwproto.SubscribeUtteranceRequest
			_ = wwproto.Decode(payload, &req)
			s.mu.Lock()
			if conns, ok := s.sessionConns[req.SessionID]; ok {
				delete(conns, connID)
			}
			s.mu.Unlock()
			delete(subscribedSessions, req.SessionID)
			_ = write(wwproto.UnsubscribeResponseMsg, wwproto.SubscribeResponseMsg{Success: true})

		default:
			_ = write(wwproto.ErrorResponse, wwproto.ErrorResponseMsg{Message: "wakeword: unknown message type"})
			return
		}
	}
}
