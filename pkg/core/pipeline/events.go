package pipeline

import (
	"github.com/voicelane/voicelane/pkg/core/types"
)

// Events is how the orchestrator reports progress to the transport layer.
// Callbacks fire from the session's event loop or from the active turn's
// worker goroutine; implementations must not block for long, the loop is
// shared with barge-in handling.
type Events interface {
	// StateChanged fires on every lifecycle transition.
	StateChanged(s State)

	// TranscriptDelta delivers interim transcription updates.
	TranscriptDelta(text string, final bool)

	// AgentTextDelta delivers reply text as generation produces it.
	AgentTextDelta(text string)

	// AudioChunk delivers one synthesized audio chunk.
	AudioChunk(chunk []byte)

	// TurnCommitted fires exactly once per turn, after the turn has been
	// appended to session history. Status says how the turn ended.
	TurnCommitted(t types.Turn)
}

// NopEvents discards all callbacks. Useful for tests and one-shot runs
// that only want the final turn.
type NopEvents struct{}

func (NopEvents) StateChanged(State)                {}
func (NopEvents) TranscriptDelta(string, bool)      {}
func (NopEvents) AgentTextDelta(string)             {}
func (NopEvents) AudioChunk([]byte)                 {}
func (NopEvents) TurnCommitted(types.Turn)          {}
