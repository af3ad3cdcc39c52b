package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/internal/telephony"
	"github.com/halovoice/voice-caller/pkg/errors"
	"github.com/halovoice/voice-caller/pkg/logger"
	"github.com/halovoice/voice-caller/pkg/metrics"
	"github.com/halovoice/voice-caller/pkg/validation"
)

// DialogRunner drives one answered call's conversation to completion. A nil
// return means the conversation ended cleanly (closing line spoken, hangup
// requested); a non-nil return is an internal fatal error that fails the
// session.
type DialogRunner interface {
	RunDialog(ctx context.Context, sess *Session) error
}

type eventKind int

const (
	evTelephony eventKind = iota
	evDialFailed
	evEngineDone
	evEngineFailed
)

type sessionEvent struct {
	kind   eventKind
	tel    telephony.Event
	reason string
}

// Options configure the Manager.
type Options struct {
	DefaultSystemPrompt string
	DefaultGreeting     string

	// MaxConcurrentDials bounds in-flight dial requests to the provider.
	MaxConcurrentDials int

	// OnEvicted runs after a session has been finalized and removed; used to
	// release per-call gateway state.
	OnEvicted func(callID string)
}

// Manager owns the per-call lifecycle state machine. Each session gets one
// event-loop goroutine consuming an ordered queue, so events for one call id
// apply strictly in arrival order while different calls never block each
// other.
type Manager struct {
	registry  *Registry
	adapter   telephony.Adapter
	dialog    DialogRunner
	finalizer *Finalizer
	opts      Options
	dialSem   chan struct{}
}

func NewManager(registry *Registry, adapter telephony.Adapter, dialog DialogRunner, finalizer *Finalizer, opts Options) *Manager {
	if opts.MaxConcurrentDials <= 0 {
		opts.MaxConcurrentDials = 60
	}
	return &Manager{
		registry:  registry,
		adapter:   adapter,
		dialog:    dialog,
		finalizer: finalizer,
		opts:      opts,
		dialSem:   make(chan struct{}, opts.MaxConcurrentDials),
	}
}

// Registry exposes active sessions for read-only lookups.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// CreateCall validates the destination, registers a new session, and starts
// dialing asynchronously. Rejected numbers never allocate a session.
func (m *Manager) CreateCall(phone, systemPrompt, greeting string) (*Session, error) {
	if err := validation.ValidateE164(phone); err != nil {
		return nil, errors.E(errors.KindInvalidArgument, err)
	}

	if systemPrompt == "" {
		systemPrompt = m.opts.DefaultSystemPrompt
	}
	if greeting == "" {
		greeting = m.opts.DefaultGreeting
	}

	sess := NewSession(uuid.NewString(), phone, systemPrompt, greeting)
	if !m.registry.Add(sess) {
		return nil, errors.Ef(errors.KindUnknown, "session id collision for %s", sess.ID)
	}

	metrics.CallCreated()
	logger.CallEvent(sess.ID, "created",
		logger.MaskPhone("phone", phone),
	)

	go m.eventLoop(sess)
	go m.dial(sess)
	return sess, nil
}

// HandleTelephonyEvent routes one provider notification to its session. An
// unknown id yields a session-not-found error for the caller to log; it is
// never an operational failure.
func (m *Manager) HandleTelephonyEvent(id string, ev telephony.Event, reason string) error {
	sess, ok := m.registry.Get(id)
	if !ok {
		return errors.Ef(errors.KindSessionNotFound, "no active session for call %s", id)
	}
	m.enqueue(sess, sessionEvent{kind: evTelephony, tel: ev, reason: reason})
	return nil
}

// enqueue preserves per-session arrival order while the session is alive.
// After a terminal transition the session context is cancelled and late
// events are dropped here.
func (m *Manager) enqueue(sess *Session, ev sessionEvent) {
	select {
	case sess.events <- ev:
	case <-sess.ctx.Done():
		logger.CallEvent(sess.ID, "event_dropped_after_terminal",
			zap.String("telephony_event", ev.tel.String()),
		)
	}
}

func (m *Manager) dial(sess *Session) {
	select {
	case m.dialSem <- struct{}{}:
		defer func() { <-m.dialSem }()
	case <-sess.ctx.Done():
		return
	}

	sess.setStatus(StatusDialing)
	logger.CallEvent(sess.ID, "dialing")

	if _, err := m.adapter.InitiateCall(sess.ctx, sess.ID, sess.PhoneNumber); err != nil {
		m.enqueue(sess, sessionEvent{kind: evDialFailed, reason: err.Error()})
	}
}

// eventLoop is the single goroutine that mutates this session's lifecycle
// state. It exits once a terminal transition has been finalized.
func (m *Manager) eventLoop(sess *Session) {
	for ev := range sess.events {
		if m.apply(sess, ev) {
			return
		}
	}
}

// apply executes exactly one transition and reports whether the session
// reached a terminal state. Events that are illegal in the current state are
// logged no-ops, which makes duplicate or out-of-order terminal
// notifications harmless.
func (m *Manager) apply(sess *Session, ev sessionEvent) bool {
	status := sess.Status()
	if status.Terminal() {
		return false
	}

	switch ev.kind {
	case evDialFailed:
		logger.CallEvent(sess.ID, "dial_failed", zap.String("reason", ev.reason))
		return m.terminate(sess, StatusFailed, ev.reason)

	case evEngineDone:
		// Conversation ended from our side; completes the session unless the
		// provider's hangup notification got here first.
		return m.terminate(sess, StatusCompleted, "")

	case evEngineFailed:
		m.hangupQuietly(sess)
		return m.terminate(sess, StatusFailed, ev.reason)

	case evTelephony:
		return m.applyTelephony(sess, status, ev)
	}
	return false
}

func (m *Manager) applyTelephony(sess *Session, status Status, ev sessionEvent) bool {
	switch ev.tel {
	case telephony.EventRinging:
		logger.CallEvent(sess.ID, "ringing")
		return false

	case telephony.EventAnswered:
		if status != StatusDialing {
			logger.CallEvent(sess.ID, "answered_ignored", zap.String("status", status.String()))
			return false
		}
		sess.markAnswered(time.Now())
		sess.setStatus(StatusInProgress)
		logger.CallEvent(sess.ID, "answered")
		go m.runDialog(sess)
		return false

	case telephony.EventBusy, telephony.EventNoAnswer:
		logger.CallEvent(sess.ID, ev.tel.String(), zap.String("reason", ev.reason))
		return m.terminate(sess, StatusNoAnswer, ev.reason)

	case telephony.EventHangup:
		if status == StatusInProgress {
			return m.terminate(sess, StatusCompleted, "")
		}
		// Hung up before anyone answered.
		return m.terminate(sess, StatusNoAnswer, ev.reason)

	case telephony.EventError:
		logger.CallEvent(sess.ID, "provider_error", zap.String("reason", ev.reason))
		return m.terminate(sess, StatusFailed, ev.reason)
	}
	return false
}

// terminate performs the one-and-only terminal transition: stop all in-flight
// work, finalize, evict.
func (m *Manager) terminate(sess *Session, st Status, reason string) bool {
	if sess.finalized {
		return true
	}
	sess.finalized = true

	sess.setStatus(st)
	if reason != "" {
		sess.setFailReason(reason)
	}
	sess.markEnded(time.Now())
	sess.cancel()

	m.finalizer.Finalize(sess)
	m.registry.Remove(sess.ID)
	if m.opts.OnEvicted != nil {
		m.opts.OnEvicted(sess.ID)
	}
	return true
}

func (m *Manager) runDialog(sess *Session) {
	err := m.dialog.RunDialog(sess.ctx, sess)
	if err != nil {
		if sess.ctx.Err() != nil {
			// Session already torn down underneath the engine; nothing to report.
			return
		}
		m.enqueue(sess, sessionEvent{kind: evEngineFailed, reason: err.Error()})
		return
	}
	m.enqueue(sess, sessionEvent{kind: evEngineDone})
}

// hangupQuietly tears down the provider leg on the failure path. The session
// context is about to be cancelled, so this uses its own deadline.
func (m *Manager) hangupQuietly(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.adapter.Hangup(ctx, sess.ID); err != nil {
		logger.Log.Warn("hangup after failure did not complete",
			zap.String("call_id", sess.ID),
			zap.Error(err),
		)
	}
}
