package pipeline

import (
	"errors"
	"fmt"

	"github.com/voicelane/voicelane/pkg/core/types"
)

// Ingestion-level conditions. These are handled locally by the orchestrator
// (drop, resynchronize) and never terminate the session.
var (
	// ErrBufferOverrun is returned by Push when unconsumed audio exceeds
	// the configured duration threshold. The caller must drop or
	// renegotiate flow; Push accepts again once the buffer drains below
	// the threshold.
	ErrBufferOverrun = errors.New("ingest: buffer overrun")

	// ErrSequenceGap is returned by Push when a chunk's sequence number
	// jumps past the configured tolerance.
	ErrSequenceGap = errors.New("ingest: sequence gap")
)

// Stage-level conditions, wrapped into a StageError when they end a cycle.
var (
	ErrTranscriptionTimeout     = errors.New("transcription deadline exceeded")
	ErrTranscriptionUnavailable = errors.New("transcription provider unavailable")
	ErrGenerationTimeout        = errors.New("generation deadline exceeded")
	ErrGenerationRefused        = errors.New("generation refused by provider policy")
	ErrSynthesisUnavailable     = errors.New("synthesis provider unavailable")
)

// Stage identifies a pipeline stage for failure reporting.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageGeneration    Stage = "generation"
	StageSynthesis     Stage = "synthesis"
)

// StageError is the aggregate, terminal-for-the-cycle failure: a stage
// failed after its local retry budget was exhausted. It ends the current
// cycle and returns the session to Idle; it never crashes the session.
type StageError struct {
	Stage Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failure at %s: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// Status returns the terminal status reported to the caller.
func (e *StageError) Status() types.TerminalStatus {
	return types.StatusFailed(string(e.Stage))
}

func failStage(stage Stage, cause error) *StageError {
	return &StageError{Stage: stage, Cause: cause}
}
