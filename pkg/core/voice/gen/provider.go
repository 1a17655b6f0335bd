// Package gen produces grounded agent replies from finalized transcripts.
package gen

import (
	"context"
	"errors"
	"sync"

	"github.com/voicelane/voicelane/pkg/core/types"
)

// ErrRefused is returned when the model declines to answer. The caller
// reports the turn as failed rather than synthesizing a refusal.
var ErrRefused = errors.New("gen: model refused request")

// Provider is the interface for response generation services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Generate streams a reply for the utterance, conditioned on the
	// session history and product grounding in the request.
	Generate(ctx context.Context, req Request) (*Stream, error)
}

// Request carries one utterance plus everything the model may condition on.
type Request struct {
	Utterance string
	Context   types.ContextSnapshot

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int
}

// Stream delivers the reply incrementally. Deltas closes when the reply is
// complete or the stream fails; check Err after drain.
type Stream struct {
	deltas chan string
	errMu  sync.Mutex
	err    error
	done   chan struct{}
	once   sync.Once
}

// NewStream creates a stream shell for a provider implementation.
func NewStream() *Stream {
	return &Stream{
		deltas: make(chan string, 64),
		done:   make(chan struct{}),
	}
}

// Deltas returns the channel of reply text fragments.
func (s *Stream) Deltas() <-chan string {
	return s.deltas
}

// Err returns the stream error, if any.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close abandons the stream. Safe to call more than once.
func (s *Stream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Done returns a channel that's closed when the stream is abandoned.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Internal methods for implementations

// Push delivers one fragment. Returns false if the consumer went away.
func (s *Stream) Push(text string) bool {
	select {
	case s.deltas <- text:
		return true
	case <-s.done:
		return false
	}
}

// SetError records the stream error.
func (s *Stream) SetError(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// Finish closes the delta channel.
func (s *Stream) Finish() {
	close(s.deltas)
}
