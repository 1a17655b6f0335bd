package pipeline

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/voicelane/voicelane/pkg/core/types"
)

// pcmFrame builds ms milliseconds of 16-bit mono PCM at the default sample
// rate, every sample set to amp.
func pcmFrame(ms int, amp int16) []byte {
	cfg := DefaultAudioConfig()
	buf := make([]byte, cfg.BytesForDurationMs(ms))
	for i := 0; i+1 < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(amp))
	}
	return buf
}

func TestIngestBufferPushAndDrain(t *testing.T) {
	b := NewIngestBuffer(DefaultIngestConfig())

	want := [][]byte{pcmFrame(20, 3000), pcmFrame(20, 2500), pcmFrame(20, 2000)}
	for i, f := range want {
		if err := b.Push(types.AudioChunk{Seq: int64(i), Data: f}); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}

	if got := b.BufferedMs(); got != 60 {
		t.Errorf("BufferedMs = %d, want 60", got)
	}

	var got [][]byte
	for f := range b.Drain() {
		got = append(got, f)
	}
	if len(got) != len(want) {
		t.Fatalf("drained %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Errorf("frame %d: length %d, want %d", i, len(got[i]), len(want[i]))
		}
	}
	if !b.Empty() {
		t.Error("buffer not empty after drain")
	}
}

func TestIngestBufferSequenceHandling(t *testing.T) {
	tests := []struct {
		name    string
		seqs    []int64
		wantErr error
		frames  int
	}{
		{name: "in order", seqs: []int64{0, 1, 2}, frames: 3},
		{name: "duplicate dropped", seqs: []int64{0, 1, 1, 2}, frames: 3},
		{name: "stale dropped", seqs: []int64{0, 1, 2, 0}, frames: 3},
		{name: "small gap accepted", seqs: []int64{0, 3}, frames: 2},
		{name: "wide gap rejected", seqs: []int64{0, 5}, wantErr: ErrSequenceGap, frames: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewIngestBuffer(DefaultIngestConfig())
			var lastErr error
			for _, seq := range tt.seqs {
				lastErr = b.Push(types.AudioChunk{Seq: seq, Data: pcmFrame(10, 1000)})
			}
			if !errors.Is(lastErr, tt.wantErr) {
				t.Fatalf("last Push error = %v, want %v", lastErr, tt.wantErr)
			}
			n := 0
			for range b.Drain() {
				n++
			}
			if n != tt.frames {
				t.Errorf("buffered %d frames, want %d", n, tt.frames)
			}
		})
	}
}

func TestIngestBufferOverrun(t *testing.T) {
	cfg := DefaultIngestConfig()
	cfg.MaxBufferedMs = 100
	b := NewIngestBuffer(cfg)

	if err := b.Push(types.AudioChunk{Seq: 0, Data: pcmFrame(100, 1000)}); err != nil {
		t.Fatalf("Push within budget: %v", err)
	}
	err := b.Push(types.AudioChunk{Seq: 1, Data: pcmFrame(20, 1000)})
	if !errors.Is(err, ErrBufferOverrun) {
		t.Fatalf("Push over budget error = %v, want ErrBufferOverrun", err)
	}

	// Draining frees the budget again.
	for range b.Drain() {
	}
	if err := b.Push(types.AudioChunk{Seq: 1, Data: pcmFrame(20, 1000)}); err != nil {
		t.Fatalf("Push after drain: %v", err)
	}
}

func TestIngestBufferEndOfUtterance(t *testing.T) {
	t.Run("explicit flag", func(t *testing.T) {
		b := NewIngestBuffer(DefaultIngestConfig())
		b.Push(types.AudioChunk{Seq: 0, Data: pcmFrame(20, 3000)})
		if b.EndOfUtterance() {
			t.Fatal("EndOfUtterance before flag")
		}
		b.Push(types.AudioChunk{Seq: 1, EndOfUtterance: true})
		if !b.EndOfUtterance() {
			t.Fatal("EndOfUtterance not set by flag")
		}
	})

	t.Run("trailing silence", func(t *testing.T) {
		b := NewIngestBuffer(DefaultIngestConfig())
		b.Push(types.AudioChunk{Seq: 0, Data: pcmFrame(200, 3000)})
		for i := int64(1); i <= 7; i++ {
			b.Push(types.AudioChunk{Seq: i, Data: pcmFrame(100, 0)})
		}
		if !b.EndOfUtterance() {
			t.Fatal("EndOfUtterance not reached after 700ms of silence")
		}
	})

	t.Run("stray flag on empty buffer ignored", func(t *testing.T) {
		b := NewIngestBuffer(DefaultIngestConfig())
		b.Push(types.AudioChunk{Seq: 0, EndOfUtterance: true})
		if b.EndOfUtterance() {
			t.Fatal("EndOfUtterance latched with nothing buffered")
		}
		b.Push(types.AudioChunk{Seq: 1, Data: pcmFrame(20, 3000)})
		if b.EndOfUtterance() {
			t.Fatal("stray flag carried over to the next utterance")
		}
	})

	t.Run("silence without speech does not end utterance", func(t *testing.T) {
		b := NewIngestBuffer(DefaultIngestConfig())
		for i := int64(0); i < 10; i++ {
			b.Push(types.AudioChunk{Seq: i, Data: pcmFrame(100, 0)})
		}
		if b.EndOfUtterance() {
			t.Fatal("EndOfUtterance on silence-only audio")
		}
	})

	t.Run("speech resets silence window", func(t *testing.T) {
		b := NewIngestBuffer(DefaultIngestConfig())
		b.Push(types.AudioChunk{Seq: 0, Data: pcmFrame(100, 3000)})
		b.Push(types.AudioChunk{Seq: 1, Data: pcmFrame(500, 0)})
		b.Push(types.AudioChunk{Seq: 2, Data: pcmFrame(100, 3000)})
		b.Push(types.AudioChunk{Seq: 3, Data: pcmFrame(500, 0)})
		if b.EndOfUtterance() {
			t.Fatal("EndOfUtterance despite interleaved speech")
		}
	})
}

func TestIngestBufferFramesSince(t *testing.T) {
	b := NewIngestBuffer(DefaultIngestConfig())
	b.Push(types.AudioChunk{Seq: 0, Data: pcmFrame(20, 3000)})
	b.Push(types.AudioChunk{Seq: 1, Data: pcmFrame(20, 2500)})

	if got := len(b.FramesSince(0)); got != 2 {
		t.Fatalf("FramesSince(0) = %d frames, want 2", got)
	}
	if got := len(b.FramesSince(2)); got != 0 {
		t.Fatalf("FramesSince(2) = %d frames, want 0", got)
	}

	b.Push(types.AudioChunk{Seq: 2, Data: pcmFrame(20, 2000)})
	if got := len(b.FramesSince(2)); got != 1 {
		t.Fatalf("FramesSince(2) after push = %d frames, want 1", got)
	}

	// Peeking does not consume.
	n := 0
	for range b.Drain() {
		n++
	}
	if n != 3 {
		t.Fatalf("drained %d frames, want 3", n)
	}
	if got := len(b.FramesSince(0)); got != 0 {
		t.Fatalf("FramesSince(0) after drain = %d frames, want 0", got)
	}
}

func TestIngestBufferResync(t *testing.T) {
	b := NewIngestBuffer(DefaultIngestConfig())
	b.Push(types.AudioChunk{Seq: 0, Data: pcmFrame(20, 3000)})
	if err := b.Push(types.AudioChunk{Seq: 50, Data: pcmFrame(20, 3000)}); !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("wide gap error = %v, want ErrSequenceGap", err)
	}

	b.Resync(50)
	if !b.Empty() {
		t.Error("buffer not cleared by Resync")
	}
	if err := b.Push(types.AudioChunk{Seq: 50, Data: pcmFrame(20, 3000)}); err != nil {
		t.Fatalf("Push after Resync: %v", err)
	}
}
