// Package live bridges /v1/live websocket connections to the voice
// pipeline: inbound frames feed the orchestrator, pipeline events flow
// back out through a single writer goroutine.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voicelane/voicelane/pkg/catalog"
	"github.com/voicelane/voicelane/pkg/core/pipeline"
	"github.com/voicelane/voicelane/pkg/core/pipeline/sessions"
	"github.com/voicelane/voicelane/pkg/core/types"
	"github.com/voicelane/voicelane/pkg/core/voice/gen"
	"github.com/voicelane/voicelane/pkg/core/voice/stt"
	"github.com/voicelane/voicelane/pkg/core/voice/tts"
	"github.com/voicelane/voicelane/pkg/gateway/config"
	"github.com/voicelane/voicelane/pkg/gateway/live/protocol"
	"github.com/voicelane/voicelane/pkg/gateway/metrics"
)

// Handler serves /v1/live.
type Handler struct {
	Config   config.Config
	Logger   *slog.Logger
	Sessions *sessions.Manager
	Catalog  catalog.Lookup
	Metrics  *metrics.Metrics

	STT stt.Provider
	Gen gen.Provider
	TTS tts.Provider
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	hello, ok := h.handshake(conn)
	if !ok {
		return
	}

	grounding, err := h.Catalog.GroundingFor(r.Context(), hello.Grounding.StoreID, hello.Grounding.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			h.writeWSError(conn, "not_found", "unknown store or product", true)
		} else {
			logger.Error("grounding lookup failed", "error", err)
			h.writeWSError(conn, "internal", "grounding lookup failed", true)
		}
		return
	}

	sessionID := sessions.NewSessionID()
	logger = logger.With("session_id", sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 32)
	normal := make(chan outboundFrame, 256)

	bridge := &eventBridge{
		ctx:      ctx,
		priority: priority,
		normal:   normal,
		features: hello.Features,
		metrics:  h.Metrics,
	}

	pcfg := pipelineConfig(h.Config)
	pcfg.STTOpts.Language = hello.Language
	pcfg.TTSOpts.Voice = firstNonEmpty(hello.Voice, h.Config.TTSVoice)

	orch, err := pipeline.New(pcfg, pipeline.Dependencies{
		STT:    h.STT,
		Gen:    h.Gen,
		TTS:    h.TTS,
		Logger: logger,
		Events: bridge,
	})
	if err != nil {
		logger.Error("orchestrator init failed", "error", err)
		h.writeWSError(conn, "internal", "session init failed", true)
		return
	}
	orch.SetGrounding(grounding)

	unregister := h.Sessions.Register(sessionID, sessions.Handle{
		Cancel: cancel,
		Warn: func(code, message string) error {
			return bridge.sendPriority(protocol.ServerError{
				Type: "error", Code: code, Message: message,
			})
		},
	})
	defer unregister()

	if h.Metrics != nil {
		h.Metrics.RecordSessionStart()
	}
	sessionStart := time.Now()
	sessionStatus := "completed"
	defer func() {
		if h.Metrics != nil {
			h.Metrics.RecordSessionEnd(sessionStatus, time.Since(sessionStart))
		}
	}()

	writer := &outboundWriter{
		ws:           conn,
		ctx:          ctx,
		pingInterval: h.Config.LiveWSPingInterval,
		writeTimeout: h.Config.LiveWSWriteTimeout,
		priority:     priority,
		normal:       normal,
	}
	writerDone := make(chan error, 1)
	go func() { writerDone <- writer.Run() }()

	orchDone := make(chan error, 1)
	go func() { orchDone <- orch.Run(ctx) }()

	_ = bridge.sendPriority(protocol.ServerSessionReady{
		Type:            "session_ready",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		AudioIn:         hello.AudioIn,
		AudioOut: protocol.AudioFormat{
			Encoding:     "pcm_s16le",
			SampleRateHz: pcfg.TTSOpts.SampleRate,
			Channels:     1,
		},
		StoreName: grounding.StoreName,
	})

	logger.Info("session started", "store_id", grounding.StoreID)

	h.readLoop(ctx, conn, orch, bridge, sessionID, &sessionStatus, logger)

	cancel()
	select {
	case <-orchDone:
	case <-time.After(2 * time.Second):
	}
	select {
	case <-writerDone:
	case <-time.After(2 * time.Second):
	}
	logger.Info("session ended", "status", sessionStatus)
}

// handshake reads and validates the hello frame.
func (h Handler) handshake(conn *websocket.Conn) (protocol.ClientHello, bool) {
	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", true)
		return protocol.ClientHello{}, false
	}
	_ = conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", true)
		return protocol.ClientHello{}, false
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		h.writeWSError(conn, "bad_request", err.Error(), true)
		return protocol.ClientHello{}, false
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", true)
		return protocol.ClientHello{}, false
	}
	if strings.TrimSpace(hello.ProtocolVersion) != protocol.ProtocolVersion1 {
		h.writeWSError(conn, "unsupported_version", "unsupported protocol_version", true)
		return protocol.ClientHello{}, false
	}
	if hello.AudioIn.SampleRateHz != 16000 || hello.AudioIn.Channels != 1 {
		h.writeWSError(conn, "unsupported", "audio_in must be pcm_s16le @16000Hz mono", true)
		return protocol.ClientHello{}, false
	}
	return hello, true
}

func (h Handler) readLoop(ctx context.Context, conn *websocket.Conn, orch *pipeline.Orchestrator, bridge *eventBridge, sessionID string, sessionStatus *string, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				*sessionStatus = "dropped"
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.Sessions.Touch(sessionID)

		decoded, err := protocol.DecodeClientMessage(data)
		if err != nil {
			var decodeErr *protocol.DecodeError
			code := "bad_request"
			if errors.As(err, &decodeErr) {
				code = decodeErr.Code
			}
			_ = bridge.sendPriority(protocol.ServerError{Type: "error", Code: code, Message: err.Error()})
			continue
		}

		switch msg := decoded.(type) {
		case protocol.ClientAudioFrame:
			h.handleAudioFrame(orch, bridge, msg)
		case protocol.ClientSetProduct:
			g, err := h.Catalog.GroundingFor(ctx, orch.Grounding().StoreID, msg.ProductID)
			if err != nil {
				_ = bridge.sendPriority(protocol.ServerError{Type: "error", Code: "not_found", Message: "unknown product"})
				continue
			}
			orch.SetGrounding(g)
		case protocol.ClientEndSession:
			return
		case protocol.ClientHello:
			_ = bridge.sendPriority(protocol.ServerError{Type: "error", Code: "bad_request", Message: "duplicate hello"})
		}
	}
}

func (h Handler) handleAudioFrame(orch *pipeline.Orchestrator, bridge *eventBridge, msg protocol.ClientAudioFrame) {
	var pcm []byte
	if msg.DataB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(msg.DataB64)
		if err != nil {
			_ = bridge.sendPriority(protocol.ServerError{Type: "error", Code: "bad_request", Message: "audio_frame.data_b64 is not valid base64"})
			return
		}
		if h.Config.LiveMaxAudioFrameBytes > 0 && len(decoded) > h.Config.LiveMaxAudioFrameBytes {
			_ = bridge.sendPriority(protocol.ServerError{Type: "error", Code: "too_large", Message: "audio frame exceeds size limit"})
			return
		}
		pcm = decoded
	}
	if h.Metrics != nil {
		h.Metrics.RecordAudio("in", len(pcm))
	}

	err := orch.Push(types.AudioChunk{
		Seq:            msg.Seq,
		Data:           pcm,
		CapturedAt:     time.Now(),
		EndOfUtterance: msg.EndOfUtterance,
	})
	if errors.Is(err, pipeline.ErrBufferOverrun) {
		_ = bridge.sendPriority(protocol.ServerError{Type: "error", Code: "buffer_overrun", Message: "audio arriving faster than it can be processed; frame dropped"})
	}
}

func (h Handler) writeWSError(conn *websocket.Conn, code, message string, closeAfter bool) {
	payload, err := json.Marshal(protocol.ServerError{Type: "error", Code: code, Message: message, Close: closeAfter})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	if closeAfter {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
	}
}

// eventBridge adapts pipeline events to protocol frames on the writer
// channels. Deltas and audio ride the normal lane; state changes and turn
// boundaries ride the priority lane so barge-in feedback is never stuck
// behind queued audio.
type eventBridge struct {
	ctx      context.Context
	priority chan<- outboundFrame
	normal   chan<- outboundFrame
	features protocol.HelloFeatures
	metrics  *metrics.Metrics

	audioSeq atomic.Int64
}

func (b *eventBridge) send(ch chan<- outboundFrame, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case ch <- outboundFrame{payload: payload}:
		return nil
	case <-b.ctx.Done():
		return b.ctx.Err()
	}
}

func (b *eventBridge) sendPriority(msg any) error { return b.send(b.priority, msg) }

func (b *eventBridge) StateChanged(s pipeline.State) {
	_ = b.sendPriority(protocol.ServerStateChanged{Type: "state", State: s.String()})
}

func (b *eventBridge) TranscriptDelta(text string, final bool) {
	if !final && !b.features.WantPartialTranscripts {
		return
	}
	_ = b.send(b.normal, protocol.ServerTranscript{Type: "transcript", Text: text, IsFinal: final})
}

func (b *eventBridge) AgentTextDelta(text string) {
	if !b.features.WantAgentText {
		return
	}
	_ = b.send(b.normal, protocol.ServerAgentText{Type: "agent_text", Text: text})
}

func (b *eventBridge) AudioChunk(chunk []byte) {
	if b.metrics != nil {
		b.metrics.RecordAudio("out", len(chunk))
	}
	_ = b.send(b.normal, protocol.ServerAudioChunk{
		Type:     "audio_chunk",
		Seq:      b.audioSeq.Add(1),
		AudioB64: base64.StdEncoding.EncodeToString(chunk),
	})
}

func (b *eventBridge) TurnCommitted(t types.Turn) {
	if b.metrics != nil {
		b.metrics.RecordTurn(string(t.Status), t.CommittedAt.Sub(t.StartedAt))
		if t.Interrupted {
			b.metrics.RecordInterrupt()
		}
		if stage, ok := strings.CutPrefix(string(t.Status), "failed:"); ok {
			b.metrics.RecordStageError(stage)
		}
	}
	_ = b.sendPriority(protocol.ServerTurnStatus{
		Type:        "turn_status",
		Status:      string(t.Status),
		UserText:    t.UserText,
		AgentText:   t.AgentText,
		Interrupted: t.Interrupted,
	})
}

// pipelineConfig maps gateway config onto the pipeline tuning knobs.
func pipelineConfig(cfg config.Config) pipeline.Config {
	pcfg := pipeline.DefaultConfig()
	pcfg.Ingest.MaxBufferedMs = int(cfg.MaxBufferedDuration / time.Millisecond)
	pcfg.Ingest.SilenceWindowMs = int(cfg.SilenceCommitDuration / time.Millisecond)
	pcfg.Ingest.SilenceEnergy = cfg.SilenceEnergy
	pcfg.Ingest.SeqGapTolerance = int64(cfg.SeqGapTolerance)
	pcfg.BargeInEnergy = cfg.BargeInEnergy
	pcfg.TranscribeTimeout = cfg.TranscribeTimeout
	pcfg.GenerateTimeout = cfg.GenerateTimeout
	pcfg.SynthesizeTimeout = cfg.SynthesizeTimeout
	pcfg.ContextDepth = cfg.ContextDepth
	pcfg.ReplyMaxTokens = cfg.ReplyMaxTokens
	pcfg.STTOpts.Model = cfg.STTModel
	pcfg.STTOpts.SampleRate = 16000
	pcfg.STTOpts.Channels = 1
	pcfg.TTSOpts.Voice = cfg.TTSVoice
	pcfg.TTSOpts.Format = "pcm"
	pcfg.TTSOpts.SampleRate = 16000
	return pcfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
