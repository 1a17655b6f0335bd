// Package types defines the shared data model for the voice pipeline.
package types

import "time"

// TerminalStatus is the outcome reported to the caller for each utterance.
// Every pipeline cycle ends with exactly one terminal status.
type TerminalStatus string

const (
	StatusCompleted TerminalStatus = "completed"
	StatusPartial   TerminalStatus = "partial"
)

// StatusFailed returns the terminal status for a failure in the named stage,
// e.g. "failed:transcription".
func StatusFailed(stage string) TerminalStatus {
	return TerminalStatus("failed:" + stage)
}

// AudioChunk is one inbound frame of caller audio. Chunks are transient:
// they are owned by the ingestion buffer until drained for transcription.
type AudioChunk struct {
	// Seq is monotonic per session. Gaps beyond the configured tolerance
	// trigger resynchronization.
	Seq int64

	// Data is raw PCM (16-bit signed little-endian unless negotiated
	// otherwise).
	Data []byte

	// CapturedAt is the client capture timestamp, if provided.
	CapturedAt time.Time

	// EndOfUtterance marks an explicit end-of-utterance signal from the
	// caller. Absent the flag, the ingestion buffer detects end of
	// utterance from trailing silence.
	EndOfUtterance bool
}

// Transcript is the output of the transcription stage. A session holds at
// most one non-final transcript at a time; a final transcript is immutable.
type Transcript struct {
	Text       string
	Confidence float64
	Final      bool
}

// ProductFacts are the grounding facts for a scanned product, supplied to
// response generation as factual context.
type ProductFacts struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Brand          string   `json:"brand"`
	Price          float64  `json:"price"`
	Stock          int      `json:"stock"`
	Ingredients    string   `json:"ingredients"`
	Variants       []string `json:"variants,omitempty"`
	ComparisonTags []string `json:"comparison_tags,omitempty"`
	ShelfLocation  string   `json:"shelf_location"`
}

// Grounding is the store/product context a pipeline cycle was started with.
// A cycle keeps the grounding it snapshotted; changes apply to the next
// cycle only.
type Grounding struct {
	StoreID   string        `json:"store_id"`
	StoreName string        `json:"store_name,omitempty"`
	Location  string        `json:"location,omitempty"`
	Product   *ProductFacts `json:"product,omitempty"`
}

// Turn is one complete user-utterance/agent-response cycle, including
// partial and interrupted outcomes. Turns are never mutated after they are
// appended to a session's history.
type Turn struct {
	UserText    string         `json:"user_text"`
	Grounding   Grounding      `json:"grounding"`
	AgentText   string         `json:"agent_text"`
	AudioRef    string         `json:"audio_ref,omitempty"`
	AudioBytes  int            `json:"audio_bytes"`
	Interrupted bool           `json:"interrupted"`
	Status      TerminalStatus `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CommittedAt time.Time      `json:"committed_at"`
}

// ContextSnapshot is the immutable view of a session's conversation state
// handed to response generation. It is a copy: generation never races a
// concurrent history mutation.
type ContextSnapshot struct {
	Turns     []Turn
	Grounding Grounding
}
