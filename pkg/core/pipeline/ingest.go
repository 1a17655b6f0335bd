package pipeline

import (
	"iter"
	"sync"

	"github.com/voicelane/voicelane/pkg/core/types"
)

// IngestConfig tunes the inbound audio buffer.
type IngestConfig struct {
	Audio AudioConfig

	// MaxBufferedMs is the unconsumed-audio threshold beyond which Push
	// fails with ErrBufferOverrun. Default: 10000 (10s).
	MaxBufferedMs int

	// SilenceWindowMs is how much trailing below-threshold audio counts
	// as end of utterance. Default: 700.
	SilenceWindowMs int

	// SilenceEnergy is the RMS level below which a chunk counts as
	// silence. Default: 0.02.
	SilenceEnergy float64

	// SeqGapTolerance is the largest accepted jump in sequence numbers.
	// A wider gap fails Push with ErrSequenceGap. Default: 3.
	SeqGapTolerance int64
}

// DefaultIngestConfig returns the standard ingestion thresholds.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Audio:           DefaultAudioConfig(),
		MaxBufferedMs:   10_000,
		SilenceWindowMs: 700,
		SilenceEnergy:   0.02,
		SeqGapTolerance: 3,
	}
}

func (c IngestConfig) withDefaults() IngestConfig {
	if c.Audio.SampleRate <= 0 {
		c.Audio = DefaultAudioConfig()
	}
	if c.MaxBufferedMs <= 0 {
		c.MaxBufferedMs = 10_000
	}
	if c.SilenceWindowMs <= 0 {
		c.SilenceWindowMs = 700
	}
	if c.SilenceEnergy <= 0 {
		c.SilenceEnergy = 0.02
	}
	if c.SeqGapTolerance <= 0 {
		c.SeqGapTolerance = 3
	}
	return c
}

// IngestBuffer accepts inbound audio chunks, enforces backpressure and
// sequence ordering, and reassembles them into frames ready for
// transcription. It also computes the silence-based end-of-utterance signal
// so the caller does not have to.
//
// The buffer is owned by one session; the mutex only guards the handoff
// between the connection read path and the session's event loop.
type IngestBuffer struct {
	cfg IngestConfig

	mu        sync.Mutex
	frames    [][]byte
	bufferedB int
	nextSeq   int64
	haveSeq   bool
	speech    bool
	silenceMs int
	eou       bool
}

// NewIngestBuffer creates an empty buffer.
func NewIngestBuffer(cfg IngestConfig) *IngestBuffer {
	return &IngestBuffer{cfg: cfg.withDefaults()}
}

// Push accepts one chunk. It fails with ErrBufferOverrun while the buffered
// duration exceeds the configured threshold, and with ErrSequenceGap when
// the chunk's sequence number jumps past the tolerance. Duplicate or stale
// sequence numbers are dropped silently (returning nil): retransmits are
// not an error.
func (b *IngestBuffer) Push(c types.AudioChunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.haveSeq {
		switch {
		case c.Seq < b.nextSeq:
			return nil // stale retransmit
		case c.Seq > b.nextSeq+b.cfg.SeqGapTolerance:
			return ErrSequenceGap
		}
	}

	if b.cfg.Audio.DurationMs(b.bufferedB+len(c.Data)) > b.cfg.MaxBufferedMs {
		return ErrBufferOverrun
	}

	b.nextSeq = c.Seq + 1
	b.haveSeq = true

	if len(c.Data) > 0 {
		frame := make([]byte, len(c.Data))
		copy(frame, c.Data)
		b.frames = append(b.frames, frame)
		b.bufferedB += len(frame)
		b.observeEnergy(frame)
	}
	// An explicit boundary only makes sense when there is an utterance to
	// end; a stray flag on an empty buffer would latch onto the next one.
	if c.EndOfUtterance && len(b.frames) > 0 {
		b.eou = true
	}
	return nil
}

func (b *IngestBuffer) observeEnergy(frame []byte) {
	if RMSEnergy(frame) >= b.cfg.SilenceEnergy {
		b.speech = true
		b.silenceMs = 0
		return
	}
	b.silenceMs += b.cfg.Audio.DurationMs(len(frame))
	if b.speech && b.silenceMs >= b.cfg.SilenceWindowMs {
		b.eou = true
	}
}

// EndOfUtterance reports whether an utterance boundary has been reached,
// either by explicit flag or by the silence heuristic.
func (b *IngestBuffer) EndOfUtterance() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eou
}

// BufferedMs returns the unconsumed audio duration.
func (b *IngestBuffer) BufferedMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Audio.DurationMs(b.bufferedB)
}

// Empty reports whether any audio is buffered.
func (b *IngestBuffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames) == 0
}

// FramesSince returns the frames buffered after the first n, without
// consuming them. The numbering restarts from zero at every Drain or
// Resync. Callers feeding a live transcription stream use it to pick up
// where their last feed left off.
func (b *IngestBuffer) FramesSince(n int) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n >= len(b.frames) {
		return nil
	}
	return append([][]byte(nil), b.frames[n:]...)
}

// Drain removes all buffered frames and returns them as a lazy sequence.
// The returned sequence iterates a snapshot, so it can be ranged more than
// once; each Drain call produces a fresh sequence. Draining clears the
// utterance state, so Push is accepted again immediately.
func (b *IngestBuffer) Drain() iter.Seq[[]byte] {
	b.mu.Lock()
	frames := b.frames
	b.frames = nil
	b.bufferedB = 0
	b.speech = false
	b.silenceMs = 0
	b.eou = false
	b.mu.Unlock()

	return func(yield func([]byte) bool) {
		for _, f := range frames {
			if !yield(f) {
				return
			}
		}
	}
}

// Resync discards all buffered audio and realigns the expected sequence
// number. The orchestrator calls this after ErrSequenceGap rather than
// stalling on audio that will never arrive.
func (b *IngestBuffer) Resync(nextSeq int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.bufferedB = 0
	b.speech = false
	b.silenceMs = 0
	b.eou = false
	b.nextSeq = nextSeq
	b.haveSeq = true
}
