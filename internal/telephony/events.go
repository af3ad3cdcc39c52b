package telephony

import (
	"fmt"
	"strings"
)

// Event is a normalized call-progress notification. Provider-specific status
// strings are mapped here once so the rest of the system never sees them.
type Event int

const (
	EventRinging Event = iota
	EventAnswered
	EventBusy
	EventNoAnswer
	EventHangup
	EventError
)

func (e Event) String() string {
	switch e {
	case EventRinging:
		return "ringing"
	case EventAnswered:
		return "answered"
	case EventBusy:
		return "busy"
	case EventNoAnswer:
		return "no_answer"
	case EventHangup:
		return "hangup"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseEvent maps a provider status string to an Event. Providers are not
// consistent about naming, so common aliases are accepted.
func ParseEvent(s string) (Event, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ringing", "initiated":
		return EventRinging, nil
	case "answered", "in-progress", "in_progress":
		return EventAnswered, nil
	case "busy":
		return EventBusy, nil
	case "no_answer", "no-answer", "noanswer", "unanswered":
		return EventNoAnswer, nil
	case "hangup", "completed", "disconnected":
		return EventHangup, nil
	case "error", "failed", "failure":
		return EventError, nil
	default:
		return EventError, fmt.Errorf("unknown telephony event %q", s)
	}
}
