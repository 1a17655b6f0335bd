package pipeline

// State is where a session currently sits in the voice turn lifecycle.
type State int

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateGenerating
	StateSynthesizing
	StateSpeaking
	StateInterrupted
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateListening:    "listening",
	StateTranscribing: "transcribing",
	StateGenerating:   "generating",
	StateSynthesizing: "synthesizing",
	StateSpeaking:     "speaking",
	StateInterrupted:  "interrupted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Interruptible reports whether user speech in this state triggers a
// barge-in. Only outbound-audio states qualify; talking over your own
// question is just more of the question.
func (s State) Interruptible() bool {
	return s == StateSynthesizing || s == StateSpeaking
}

// Busy reports whether a turn is in flight.
func (s State) Busy() bool {
	return s != StateIdle && s != StateListening
}
