// Package tts provides text-to-speech functionality.
package tts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStreamClosed is returned when sending text to a closed stream.
var ErrStreamClosed = errors.New("tts stream closed")

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts a complete text to audio in one call.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)

	// NewStream opens an incremental synthesis session. Text is sent in
	// fragments as generation produces them, and audio streams back.
	NewStream(ctx context.Context, opts SynthesizeOptions) (*Stream, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Model      string  // Provider-specific model
	Voice      string  // Voice identifier
	Speed      float64 // Speed multiplier (0.6-1.5, default 1.0)
	Format     string  // Output format: "pcm", "wav", or "mp3"
	SampleRate int     // Output sample rate in Hz
}

// Synthesis is the result of one-shot synthesis.
type Synthesis struct {
	Audio    []byte  // Audio data
	Format   string  // Audio format
	Duration float64 // Duration in seconds (if available)
}

// Stream manages an incremental synthesis session. Text fragments go in via
// SendText, audio chunks come out on Audio.
type Stream struct {
	audio     chan []byte
	errMu     sync.Mutex
	err       error
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	// For implementations to use
	SendFunc  func(text string, isFinal bool) error
	CloseFunc func() error
}

// NewStream creates a stream shell for a provider implementation.
func NewStream() *Stream {
	return &Stream{
		audio: make(chan []byte, 100),
		done:  make(chan struct{}),
	}
}

// SendText sends a text fragment. Set isFinal=true on the last fragment to
// signal completion.
func (s *Stream) SendText(text string, isFinal bool) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if s.SendFunc != nil {
		return s.SendFunc(text, isFinal)
	}
	return nil
}

// Flush signals that all text has been sent.
func (s *Stream) Flush() error {
	return s.SendText("", true)
}

// Audio returns the channel of synthesized audio chunks. It closes when
// synthesis finishes or fails; check Err after drain.
func (s *Stream) Audio() <-chan []byte {
	return s.audio
}

// Err returns any error that occurred on the session.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close tears the session down.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.CloseFunc != nil {
			err = s.CloseFunc()
		}
		close(s.done)
	})
	return err
}

// Done returns a channel that's closed when the stream is done.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Internal methods for implementations

// PushAudio delivers one audio chunk. Returns false if closed.
func (s *Stream) PushAudio(chunk []byte) bool {
	select {
	case s.audio <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// SetError records the session error.
func (s *Stream) SetError(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// FinishAudio closes the audio channel.
func (s *Stream) FinishAudio() {
	close(s.audio)
}
