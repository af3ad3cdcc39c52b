package dialog

// TurnState is the per-call conversation state. Exactly one is active at a
// time, which rules out contradictory combinations like "speaking while
// processing".
type TurnState int

const (
	// StateIdle: no playback, capture, or remote work in flight.
	StateIdle TurnState = iota
	// StateSpeaking: assistant audio is playing; the barge-in window is open.
	StateSpeaking
	// StateListening: capturing the user's utterance.
	StateListening
	// StateProcessing: transcribing/generating; capture results are stale here.
	StateProcessing
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// TurnEvent is an occurrence that may advance the turn state.
type TurnEvent int

const (
	// EventSpeakStarted: assistant playback began.
	EventSpeakStarted TurnEvent = iota
	// EventCaptureStarted: voice activity detected on the inbound leg.
	EventCaptureStarted
	// EventPlaybackDone: assistant playback drained without interruption.
	EventPlaybackDone
	// EventUtteranceEnded: the user's utterance finished; transcription starts.
	EventUtteranceEnded
	// EventTurnComplete: the reply for this turn is ready (or the turn was
	// abandoned); the engine is back to idle.
	EventTurnComplete
)

func (e TurnEvent) String() string {
	switch e {
	case EventSpeakStarted:
		return "speak_started"
	case EventCaptureStarted:
		return "capture_started"
	case EventPlaybackDone:
		return "playback_done"
	case EventUtteranceEnded:
		return "utterance_ended"
	case EventTurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// Transition returns the state after applying event in state, and whether
// the event was legal there. Illegal events leave the state unchanged and
// must be treated as no-ops by the caller, never as errors: late capture
// results after a barge-in and duplicate playback marks land here.
func Transition(state TurnState, event TurnEvent) (TurnState, bool) {
	switch state {
	case StateIdle:
		if event == EventSpeakStarted {
			return StateSpeaking, true
		}
		if event == EventCaptureStarted {
			// User started talking between turns.
			return StateListening, true
		}
	case StateSpeaking:
		switch event {
		case EventCaptureStarted:
			// Barge-in: playback must be stopped by the caller; any previous
			// turn's processing is abandoned with this transition.
			return StateListening, true
		case EventPlaybackDone:
			return StateListening, true
		}
	case StateListening:
		if event == EventUtteranceEnded {
			return StateProcessing, true
		}
	case StateProcessing:
		if event == EventTurnComplete {
			return StateIdle, true
		}
	}
	return state, false
}
