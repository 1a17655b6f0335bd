// Package stt provides speech-to-text functionality.
package stt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts a complete utterance to text in one call.
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*Transcript, error)

	// NewStream opens a streaming transcription session. Audio is pushed
	// incrementally and the final transcript is collected with Finalize.
	NewStream(ctx context.Context, opts TranscribeOptions) (*Stream, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model      string // Provider-specific model
	Language   string // ISO language code (default: "en")
	SampleRate int    // Audio sample rate in Hz
	Channels   int    // Channel count (default: 1)
}

// Transcript is the result of transcription.
type Transcript struct {
	Text       string  // Full transcribed text
	Confidence float64 // Provider confidence, 0 when not reported
	Language   string  // Detected or specified language
	Duration   float64 // Audio duration in seconds
}

// Delta is a streaming transcript update.
type Delta struct {
	Text    string // Partial transcript
	IsFinal bool   // True if this is a final segment
}

// ErrStreamClosed is returned when pushing audio to a closed stream.
var ErrStreamClosed = errors.New("stt stream closed")

// Stream manages an incremental transcription session. Audio is pushed via
// SendAudio, interim updates arrive on Deltas, and Finalize flushes the
// session and returns the full transcript.
type Stream struct {
	deltas    chan Delta
	errMu     sync.Mutex
	err       error
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	// For implementations to use
	SendFunc     func(audio []byte) error
	FinalizeFunc func(ctx context.Context) (*Transcript, error)
	CloseFunc    func() error
}

// NewStream creates a stream shell for a provider implementation.
func NewStream() *Stream {
	return &Stream{
		deltas: make(chan Delta, 64),
		done:   make(chan struct{}),
	}
}

// SendAudio pushes one audio frame into the session.
func (s *Stream) SendAudio(frame []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if s.SendFunc != nil {
		return s.SendFunc(frame)
	}
	return nil
}

// Finalize signals that all audio has been sent and waits for the complete
// transcript, honoring ctx's deadline.
func (s *Stream) Finalize(ctx context.Context) (*Transcript, error) {
	if s.closed.Load() {
		return nil, ErrStreamClosed
	}
	if s.FinalizeFunc != nil {
		return s.FinalizeFunc(ctx)
	}
	return &Transcript{}, nil
}

// Deltas returns the channel of interim transcript updates.
func (s *Stream) Deltas() <-chan Delta {
	return s.deltas
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

// PushDelta delivers an interim update. Returns false if closed.
func (s *Stream) PushDelta(d Delta) bool {
	select {
	case s.deltas <- d:
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

// FinishDeltas closes the delta channel.
func (s *Stream) FinishDeltas() {
	close(s.deltas)
}
