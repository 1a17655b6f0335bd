package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/voicelane/voicelane/pkg/core/types"
	"github.com/voicelane/voicelane/pkg/core/voice/gen"
	"github.com/voicelane/voicelane/pkg/core/voice/stt"
	"github.com/voicelane/voicelane/pkg/core/voice/tts"
)

// Config tunes one session's pipeline.
type Config struct {
	Ingest IngestConfig

	// BargeInEnergy is the RMS level of inbound audio that interrupts an
	// in-flight reply. Higher than the silence threshold so breathing and
	// room noise do not cut the agent off. Default: 0.05.
	BargeInEnergy float64

	// Stage deadlines.
	TranscribeTimeout time.Duration // default 8s
	GenerateTimeout   time.Duration // default 15s
	SynthesizeTimeout time.Duration // default 20s

	// ContextDepth is how many committed turns feed generation.
	ContextDepth int

	// ReplyMaxTokens caps generated reply length. Default: 150.
	ReplyMaxTokens int

	STTOpts stt.TranscribeOptions
	TTSOpts tts.SynthesizeOptions
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		Ingest:            DefaultIngestConfig(),
		BargeInEnergy:     0.05,
		TranscribeTimeout: 8 * time.Second,
		GenerateTimeout:   15 * time.Second,
		SynthesizeTimeout: 20 * time.Second,
		ContextDepth:      DefaultContextDepth,
		ReplyMaxTokens:    150,
	}
}

func (c Config) withDefaults() Config {
	if c.BargeInEnergy <= 0 {
		c.BargeInEnergy = 0.05
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 8 * time.Second
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 15 * time.Second
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = 20 * time.Second
	}
	if c.ReplyMaxTokens <= 0 {
		c.ReplyMaxTokens = 150
	}
	return c
}

// Dependencies carries everything an Orchestrator needs.
type Dependencies struct {
	STT    stt.Provider
	Gen    gen.Provider
	TTS    tts.Provider
	Logger *slog.Logger
	Events Events
	Now    func() time.Time
}

type turnResult struct {
	id   int64
	turn types.Turn
	err  error
}

// turnProgress is the worker/loop handoff for one turn. The worker fills
// it in as stages complete; on interrupt the loop reads whatever is there
// to commit a partial turn.
type turnProgress struct {
	mu        sync.Mutex
	startedAt time.Time
	grounding types.Grounding
	userText  string
	agentText strings.Builder
	audioRef  string
	audioB    int
}

func (p *turnProgress) setUserText(text string) {
	p.mu.Lock()
	p.userText = text
	p.mu.Unlock()
}

func (p *turnProgress) appendAgentText(text string) {
	p.mu.Lock()
	p.agentText.WriteString(text)
	p.mu.Unlock()
}

func (p *turnProgress) resetReply() {
	p.mu.Lock()
	p.agentText.Reset()
	p.audioRef = ""
	p.audioB = 0
	p.mu.Unlock()
}

func (p *turnProgress) addAudio(ref string, n int) {
	p.mu.Lock()
	p.audioRef = ref
	p.audioB += n
	p.mu.Unlock()
}

func (p *turnProgress) turn(status types.TerminalStatus) types.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.Turn{
		UserText:   p.userText,
		Grounding:  p.grounding,
		AgentText:  p.agentText.String(),
		AudioRef:   p.audioRef,
		AudioBytes: p.audioB,
		Status:     status,
		StartedAt:  p.startedAt,
	}
}

// Orchestrator drives one session's voice pipeline: audio in, transcript,
// grounded reply, audio out. All turn lifecycle decisions happen on the
// single goroutine running Run; Push is the only entry point intended for
// another goroutine (the transport's read loop).
type Orchestrator struct {
	cfg    Config
	stt    stt.Provider
	gen    gen.Provider
	tts    tts.Provider
	logger *slog.Logger
	events Events
	now    func() time.Time

	buffer  *IngestBuffer
	history *ContextStore

	state    atomic.Int64
	liveTurn atomic.Int64

	kickCh   chan struct{}
	bargeCh  chan struct{}
	resyncCh chan int64
	resultCh chan turnResult
}

// New creates an orchestrator. STT, Gen, and TTS are required.
func New(cfg Config, deps Dependencies) (*Orchestrator, error) {
	if deps.STT == nil {
		return nil, fmt.Errorf("stt provider is required")
	}
	if deps.Gen == nil {
		return nil, fmt.Errorf("gen provider is required")
	}
	if deps.TTS == nil {
		return nil, fmt.Errorf("tts provider is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = NopEvents{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:      cfg,
		stt:      deps.STT,
		gen:      deps.Gen,
		tts:      deps.TTS,
		logger:   deps.Logger,
		events:   deps.Events,
		now:      deps.Now,
		buffer:   NewIngestBuffer(cfg.Ingest),
		history:  NewContextStore(cfg.ContextDepth),
		kickCh:   make(chan struct{}, 1),
		bargeCh:  make(chan struct{}, 1),
		resyncCh: make(chan int64, 1),
		resultCh: make(chan turnResult, 2),
	}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// SetGrounding updates the session's store/product grounding. Takes effect
// from the next turn; the in-flight turn keeps its snapshot.
func (o *Orchestrator) SetGrounding(g types.Grounding) {
	o.history.SetGrounding(g)
}

// Grounding returns the current grounding.
func (o *Orchestrator) Grounding() types.Grounding {
	return o.history.Grounding()
}

// History returns a copy of the committed turns and current grounding.
func (o *Orchestrator) History() types.ContextSnapshot {
	return o.history.Snapshot()
}

// Push accepts one inbound audio chunk. Safe to call from the transport's
// read goroutine while Run is looping. Inbound speech loud enough to count
// as barge-in interrupts the in-flight reply before the chunk is buffered.
func (o *Orchestrator) Push(c types.AudioChunk) error {
	if o.State().Interruptible() && len(c.Data) > 0 && RMSEnergy(c.Data) >= o.cfg.BargeInEnergy {
		select {
		case o.bargeCh <- struct{}{}:
		default:
		}
	}

	err := o.buffer.Push(c)
	if errors.Is(err, ErrSequenceGap) {
		select {
		case o.resyncCh <- c.Seq:
		default:
		}
		return err
	}
	if err != nil {
		return err
	}

	select {
	case o.kickCh <- struct{}{}:
	default:
	}
	return nil
}

// Run is the session event loop. It returns when ctx is canceled. Only one
// Run per orchestrator.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setState(StateIdle)

	var wg sync.WaitGroup
	defer wg.Wait()

	var (
		turnID       int64
		activeCancel context.CancelFunc
		active       *turnProgress
	)
	defer func() {
		if activeCancel != nil {
			activeCancel()
		}
	}()

	var capture *utteranceCapture

	closeCapture := func() {
		if capture != nil && capture.stream != nil {
			_ = capture.stream.Close()
		}
		capture = nil
	}
	defer closeCapture()

	// feed opens the live transcription stream for the utterance being
	// captured and forwards newly buffered frames into it. Interim
	// transcripts flow back through forwardInterim while the user is still
	// speaking. A provider without a live mode, or a stream that errors,
	// degrades to batch transcription at end of utterance.
	feed := func() {
		if State(o.state.Load()).Busy() || o.buffer.Empty() {
			return
		}
		if capture == nil {
			capture = &utteranceCapture{}
			s, err := o.stt.NewStream(ctx, o.cfg.STTOpts)
			if err != nil {
				o.logger.Warn("live transcription unavailable, will transcribe at end of utterance", "error", err)
			} else {
				capture.stream = s
				go o.forwardInterim(s)
			}
		}
		if capture.stream == nil {
			return
		}
		for _, frame := range o.buffer.FramesSince(capture.fed) {
			if err := capture.stream.SendAudio(frame); err != nil {
				o.logger.Warn("live transcription send failed, will transcribe at end of utterance", "error", err)
				_ = capture.stream.Close()
				capture.stream = nil
				return
			}
			capture.fed++
		}
	}

	interrupt := func() {
		if activeCancel == nil {
			return
		}
		o.liveTurn.Store(0)
		activeCancel()
		activeCancel = nil

		// The canceled worker is abandoned, never awaited. Whatever it
		// produced so far becomes a partial turn.
		t := active.turn(types.StatusPartial)
		t.Interrupted = true
		active = nil
		o.commit(t)
		o.setState(StateListening)
	}

	maybeStart := func() {
		if State(o.state.Load()).Busy() || o.buffer.Empty() {
			return
		}
		if State(o.state.Load()) == StateIdle {
			o.setState(StateListening)
		}
		if !o.buffer.EndOfUtterance() {
			return
		}

		turnID++
		id := turnID
		prog := &turnProgress{startedAt: o.now(), grounding: o.history.Grounding()}
		snap := o.history.Snapshot()

		// The worker takes over the capture stream; the loop starts a fresh
		// one for the next utterance.
		uc := capture
		capture = nil
		var frames [][]byte
		for frame := range o.buffer.Drain() {
			frames = append(frames, frame)
		}

		turnCtx, cancel := context.WithCancel(ctx)
		activeCancel = cancel
		active = prog
		o.liveTurn.Store(id)

		wg.Add(1)
		go func() {
			defer wg.Done()
			turn, err := o.runTurn(turnCtx, id, uc, frames, snap, prog)
			select {
			case o.resultCh <- turnResult{id: id, turn: turn, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.bargeCh:
			interrupt()
		case seq := <-o.resyncCh:
			o.buffer.Resync(seq)
			closeCapture()
			o.logger.Warn("audio sequence gap, resynchronized", "next_seq", seq)
		case <-o.kickCh:
			feed()
			maybeStart()
		case res := <-o.resultCh:
			if res.id != turnID || activeCancel == nil {
				continue // stale result from an interrupted turn
			}
			o.liveTurn.Store(0)
			activeCancel()
			activeCancel = nil
			active = nil

			o.commit(res.turn)
			if res.err != nil {
				o.logger.Error("turn failed",
					"status", string(res.turn.Status),
					"error", res.err)
			}
			o.setState(StateIdle)
			// Audio may have queued up while the turn was running.
			feed()
			maybeStart()
		}
	}
}

// RunOnce executes a single turn synchronously: one utterance in, one
// committed turn out. It is the engine behind the one-shot HTTP endpoint
// and must not be mixed with a concurrent Run.
func (o *Orchestrator) RunOnce(ctx context.Context, audio []byte, g types.Grounding) (types.Turn, error) {
	o.history.SetGrounding(g)
	prog := &turnProgress{startedAt: o.now(), grounding: g}
	snap := o.history.Snapshot()

	o.liveTurn.Store(1)
	defer o.liveTurn.Store(0)

	turn, err := o.runTurn(ctx, 1, nil, [][]byte{audio}, snap, prog)
	o.commit(turn)
	o.setState(StateIdle)
	return turn, err
}

// RunOnceText is RunOnce for an utterance that arrives already as text.
// Transcription is skipped; generation and synthesis run as usual.
func (o *Orchestrator) RunOnceText(ctx context.Context, text string, g types.Grounding) (types.Turn, error) {
	o.history.SetGrounding(g)
	prog := &turnProgress{startedAt: o.now(), grounding: g}
	snap := o.history.Snapshot()

	o.liveTurn.Store(1)
	defer o.liveTurn.Store(0)

	prog.setUserText(text)
	var turn types.Turn
	var err error
	if strings.TrimSpace(text) == "" {
		turn = prog.turn(types.StatusCompleted)
	} else {
		turn, err = o.answer(ctx, 1, text, snap, prog)
	}
	o.commit(turn)
	o.setState(StateIdle)
	return turn, err
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int64(s))
	o.events.StateChanged(s)
}

// turnState transitions state on behalf of a worker, unless the turn has
// been interrupted in the meantime.
func (o *Orchestrator) turnState(id int64, s State) {
	if o.liveTurn.Load() != id {
		return
	}
	o.setState(s)
}

func (o *Orchestrator) turnIsLive(id int64) bool {
	return o.liveTurn.Load() == id
}

func (o *Orchestrator) commit(t types.Turn) {
	t.CommittedAt = o.now()
	o.history.Commit(t)
	o.events.TurnCommitted(t)
}

// utteranceCapture is the live transcription stream for the utterance
// currently being spoken. The event loop feeds frames as they arrive so
// interim transcripts reach the client before the utterance ends; the
// turn worker finalizes it for the settled text.
type utteranceCapture struct {
	stream *stt.Stream
	fed    int
}

// forwardInterim relays interim transcript updates from a capture stream.
// Final text is emitted by the turn worker once, never from here.
func (o *Orchestrator) forwardInterim(s *stt.Stream) {
	for d := range s.Deltas() {
		if !d.IsFinal {
			o.events.TranscriptDelta(d.Text, false)
		}
	}
}

// runTurn executes transcription, generation, and synthesis for one
// utterance. It runs on a worker goroutine; all emissions are guarded by
// the turn id so an interrupted turn goes quiet immediately.
func (o *Orchestrator) runTurn(ctx context.Context, id int64, capture *utteranceCapture, frames [][]byte, snap types.ContextSnapshot, prog *turnProgress) (types.Turn, error) {
	o.turnState(id, StateTranscribing)
	transcript, err := o.transcribeUtterance(ctx, capture, frames)
	if err != nil {
		serr := failStage(StageTranscription, err)
		return prog.turn(serr.Status()), serr
	}
	prog.setUserText(transcript.Text)
	if o.turnIsLive(id) {
		o.events.TranscriptDelta(transcript.Text, true)
	}
	if strings.TrimSpace(transcript.Text) == "" {
		// Nothing intelligible. Not a failure, just nothing to answer.
		return prog.turn(types.StatusCompleted), nil
	}

	return o.answer(ctx, id, transcript.Text, snap, prog)
}

// answer runs generation and synthesis for a settled utterance.
func (o *Orchestrator) answer(ctx context.Context, id int64, utterance string, snap types.ContextSnapshot, prog *turnProgress) (types.Turn, error) {
	// Generation streams into synthesis; the reply is spoken as it is
	// written. One same-input retry on transient provider failure; refusals
	// and deadline overruns are final.
	o.turnState(id, StateGenerating)
	synthErr, err := o.generateAndSpeak(ctx, id, utterance, snap, prog)
	if err != nil && retryableGeneration(ctx, err) {
		o.logger.Warn("generation failed, retrying once", "error", err)
		prog.resetReply()
		synthErr, err = o.generateAndSpeak(ctx, id, utterance, snap, prog)
	}
	if err != nil {
		serr := failStage(StageGeneration, err)
		return prog.turn(serr.Status()), serr
	}

	if synthErr != nil {
		// The text made it, the audio did not. Degrade rather than fail.
		o.logger.Warn("synthesis failed, returning text-only turn", "error", synthErr)
		t := prog.turn(types.StatusPartial)
		return t, nil
	}
	return prog.turn(types.StatusCompleted), nil
}

// transcribeUtterance finalizes the live capture stream when one
// survived, falling back to batch transcription of the buffered frames
// when streaming was unavailable or failed.
func (o *Orchestrator) transcribeUtterance(ctx context.Context, capture *utteranceCapture, frames [][]byte) (*stt.Transcript, error) {
	if capture != nil && capture.stream != nil {
		t, err := o.finalizeCapture(ctx, capture, frames)
		if err == nil {
			return t, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warn("live transcription finalize failed, retrying as batch", "error", err)
	}
	var audio []byte
	for _, f := range frames {
		audio = append(audio, f...)
	}
	return o.transcribe(ctx, audio)
}

func (o *Orchestrator) finalizeCapture(ctx context.Context, capture *utteranceCapture, frames [][]byte) (*stt.Transcript, error) {
	defer capture.stream.Close()

	tctx, cancel := context.WithTimeout(ctx, o.cfg.TranscribeTimeout)
	defer cancel()

	// Frames that landed between the loop's last feed and the drain.
	for _, f := range frames[min(capture.fed, len(frames)):] {
		if err := capture.stream.SendAudio(f); err != nil {
			return nil, err
		}
	}
	return capture.stream.Finalize(tctx)
}

// transcribeBackoff yields the transcription retry schedule, 300ms then
// 900ms, and stops after the second retry.
func transcribeBackoff() retry.Backoff {
	schedule := []time.Duration{300 * time.Millisecond, 900 * time.Millisecond}
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if attempt >= len(schedule) {
			return 0, true
		}
		d := schedule[attempt]
		attempt++
		return d, false
	})
}

func (o *Orchestrator) transcribe(ctx context.Context, audio []byte) (*stt.Transcript, error) {
	tctx, cancel := context.WithTimeout(ctx, o.cfg.TranscribeTimeout)
	defer cancel()

	var transcript *stt.Transcript
	err := retry.Do(tctx, transcribeBackoff(), func(ctx context.Context) error {
		t, err := o.stt.Transcribe(ctx, audio, o.cfg.STTOpts)
		if err != nil {
			return retry.RetryableError(err)
		}
		transcript = t
		return nil
	})
	if err == nil {
		return transcript, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrTranscriptionTimeout
	}
	return nil, fmt.Errorf("%w: %v", ErrTranscriptionUnavailable, err)
}

func retryableGeneration(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, ErrGenerationRefused) && !errors.Is(err, ErrGenerationTimeout)
}

// generateAndSpeak runs the model and feeds its output into TTS as deltas
// arrive. Returns a synthesis error if audio delivery failed after the
// reply completed, and a generation error if the reply itself failed.
func (o *Orchestrator) generateAndSpeak(ctx context.Context, id int64, utterance string, snap types.ContextSnapshot, prog *turnProgress) (error, error) {
	gctx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()

	stream, err := o.gen.Generate(gctx, gen.Request{
		Utterance: utterance,
		Context:   snap,
		MaxTokens: o.cfg.ReplyMaxTokens,
	})
	if err != nil {
		if errors.Is(err, gen.ErrRefused) {
			return nil, ErrGenerationRefused
		}
		return nil, err
	}
	defer stream.Close()

	sctx, scancel := context.WithTimeout(ctx, o.cfg.SynthesizeTimeout)
	defer scancel()

	var spoke atomic.Bool
	speech, synthErr := o.tts.NewStream(sctx, o.cfg.TTSOpts)
	var audioDone chan error
	if synthErr == nil {
		defer speech.Close()
		audioRef := fmt.Sprintf("turn-%d", id)
		audioDone = make(chan error, 1)
		go func() {
			for {
				select {
				case chunk, ok := <-speech.Audio():
					if !ok {
						audioDone <- speech.Err()
						return
					}
					if spoke.CompareAndSwap(false, true) {
						o.turnState(id, StateSpeaking)
					}
					prog.addAudio(audioRef, len(chunk))
					if o.turnIsLive(id) {
						o.events.AudioChunk(chunk)
					}
				case <-sctx.Done():
					audioDone <- sctx.Err()
					return
				}
			}
		}()
	}

	var reply strings.Builder
	var sentText bool
	for delta := range stream.Deltas() {
		prog.appendAgentText(delta)
		reply.WriteString(delta)
		if o.turnIsLive(id) {
			o.events.AgentTextDelta(delta)
		}
		if synthErr == nil {
			if !sentText {
				sentText = true
				o.turnState(id, StateSynthesizing)
			}
			if err := speech.SendText(delta, false); err != nil {
				synthErr = err
			}
		}
	}
	if err := stream.Err(); err != nil {
		if errors.Is(err, gen.ErrRefused) {
			return nil, ErrGenerationRefused
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrGenerationTimeout
		}
		return nil, err
	}
	if strings.TrimSpace(reply.String()) == "" {
		return nil, ErrGenerationRefused
	}

	if synthErr == nil {
		if err := speech.Flush(); err != nil {
			synthErr = err
		} else {
			select {
			case err := <-audioDone:
				synthErr = err
			case <-ctx.Done():
				synthErr = ctx.Err()
			}
		}
	}
	if synthErr != nil {
		synthErr = fmt.Errorf("%w: %v", ErrSynthesisUnavailable, synthErr)
	}
	return synthErr, nil
}
