package call

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of one outbound call attempt.
type Status int

const (
	StatusCreated Status = iota
	StatusDialing
	StatusInProgress
	StatusNoAnswer
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusDialing:
		return "dialing"
	case StatusInProgress:
		return "in_progress"
	case StatusNoAnswer:
		return "no_answer"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusNoAnswer || s == StatusCompleted || s == StatusFailed
}

// Disposition is the post-call classification of caller interest.
type Disposition string

const (
	DispositionInterested    Disposition = "interested"
	DispositionNotInterested Disposition = "not_interested"
	DispositionCallLater     Disposition = "call_later"
	DispositionNeutral       Disposition = "neutral"
	DispositionUnknown       Disposition = "unknown"
)

// ParseDisposition maps free-form classifier output onto a known disposition.
func ParseDisposition(s string) (Disposition, bool) {
	switch Disposition(s) {
	case DispositionInterested, DispositionNotInterested,
		DispositionCallLater, DispositionNeutral, DispositionUnknown:
		return Disposition(s), true
	}
	return DispositionNeutral, false
}

// Speaker identifies which party produced a dialog turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// DialogTurn is one utterance in the conversation transcript.
type DialogTurn struct {
	Speaker     Speaker   `json:"speaker" bson:"speaker"`
	Text        string    `json:"text" bson:"text"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	Interrupted bool      `json:"interrupted,omitempty" bson:"interrupted,omitempty"`
}

// Session is one outbound call attempt. It is owned by the Manager for its
// whole lifetime; the dialog engine holds a reference only while the session
// is in progress. The transcript is append-only during the call and
// read-only after finalization.
type Session struct {
	ID           string
	PhoneNumber  string
	SystemPrompt string
	Greeting     string

	mu          sync.Mutex
	status      Status
	disposition Disposition
	summary     string
	failReason  string
	startedAt   time.Time
	endedAt     time.Time
	transcript  []DialogTurn

	// ctx covers the session's in-flight remote work; cancel fires on any
	// terminal transition so late provider results are suppressed.
	ctx    context.Context
	cancel context.CancelFunc

	events    chan sessionEvent
	finalized bool
}

// NewSession constructs a session in the Created state. Most callers go
// through Manager.CreateCall, which also registers the session and dials.
func NewSession(id, phone, systemPrompt, greeting string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:           id,
		PhoneNumber:  phone,
		SystemPrompt: systemPrompt,
		Greeting:     greeting,
		status:       StatusCreated,
		disposition:  DispositionUnknown,
		ctx:          ctx,
		cancel:       cancel,
		events:       make(chan sessionEvent, 32),
	}
}

// Context returns the session-scoped context. It is cancelled on any
// terminal transition.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// setStatus moves the lifecycle state. Terminal states are absorbing: a
// racing non-terminal write (the dial goroutine losing to an early busy
// callback) never resurrects a finished session.
func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = st
}

// Disposition returns the finalized classification.
func (s *Session) Disposition() Disposition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposition
}

// Summary returns the finalized call summary.
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

func (s *Session) setOutcome(d Disposition, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposition = d
	s.summary = summary
}

// FailReason returns the diagnostic recorded on the failed path, if any.
func (s *Session) FailReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failReason
}

func (s *Session) setFailReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReason = reason
}

// StartedAt is when the call was answered; zero if it never was.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Session) markAnswered(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		s.startedAt = now
	}
}

// EndedAt is when the session reached a terminal state.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

func (s *Session) markEnded(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		s.endedAt = now
	}
}

// Duration is the answered talk time. Zero when the call was never answered.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() || s.endedAt.IsZero() {
		return 0
	}
	return s.endedAt.Sub(s.startedAt)
}

// AppendTurn records one utterance on the transcript.
func (s *Session) AppendTurn(turn DialogTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, turn)
}

// MarkLastAssistantInterrupted flags the most recent assistant turn as cut
// off by barge-in.
func (s *Session) MarkLastAssistantInterrupted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Speaker == SpeakerAssistant {
			s.transcript[i].Interrupted = true
			return
		}
	}
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []DialogTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DialogTurn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// UserTurnCount counts user utterances; turn limits are enforced on it.
func (s *Session) UserTurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.transcript {
		if t.Speaker == SpeakerUser {
			n++
		}
	}
	return n
}
