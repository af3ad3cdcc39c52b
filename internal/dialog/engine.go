package dialog

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/internal/call"
	"github.com/halovoice/voice-caller/internal/telephony"
	"github.com/halovoice/voice-caller/pkg/audio"
	"github.com/halovoice/voice-caller/pkg/logger"
	"github.com/halovoice/voice-caller/pkg/metrics"
	"github.com/halovoice/voice-caller/pkg/otel"
	"github.com/halovoice/voice-caller/pkg/retry"
)

// SpeechClient is the remote speech/LLM surface the engine drives. Each
// method bounds its own request timeout; the engine additionally retries
// transient failures.
type SpeechClient interface {
	// Transcribe turns a WAV-wrapped utterance into text.
	Transcribe(ctx context.Context, wavAudio []byte) (string, error)
	// Generate produces the assistant's next line from the conversation so
	// far. The boolean reports the model's explicit end-of-conversation
	// signal.
	Generate(ctx context.Context, systemPrompt string, turns []call.DialogTurn) (string, bool, error)
	// Synthesize renders text as PCM16 mono 8kHz ready for the media stream.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config bounds one conversation.
type Config struct {
	MaxDuration     time.Duration
	MaxTurns        int
	ContextWindow   int // recent turns handed to generation; older ones drop off
	CaptureTimeout  time.Duration
	PlaybackTimeout time.Duration

	ClosingLine  string
	ApologyLine  string
	RepromptLine string
}

func (c *Config) applyDefaults() {
	if c.MaxDuration == 0 {
		c.MaxDuration = 2 * time.Minute
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = 12
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = 10
	}
	if c.CaptureTimeout == 0 {
		c.CaptureTimeout = 10 * time.Second
	}
	if c.PlaybackTimeout == 0 {
		c.PlaybackTimeout = 60 * time.Second
	}
	if c.ClosingLine == "" {
		c.ClosingLine = "Thank you for your time. Goodbye!"
	}
	if c.ApologyLine == "" {
		c.ApologyLine = "I'm sorry, I'm having technical difficulties. Goodbye."
	}
	if c.RepromptLine == "" {
		c.RepromptLine = "I didn't catch that, please repeat."
	}
}

// Engine runs the conversation loop for answered calls. One Engine serves
// all sessions; per-call state lives in a run allocated per RunDialog call.
type Engine struct {
	speech   SpeechClient
	adapter  telephony.Adapter
	media    telephony.MediaSource
	cfg      Config
	retryCfg retry.Config
}

func NewEngine(speech SpeechClient, adapter telephony.Adapter, media telephony.MediaSource, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		speech:   speech,
		adapter:  adapter,
		media:    media,
		cfg:      cfg,
		retryCfg: retry.DefaultConfig(),
	}
}

var (
	errTimeLimit    = stderrors.New("call duration limit reached")
	errStreamClosed = stderrors.New("media stream closed")
)

// run is the per-call conversation state. It is touched only by the single
// goroutine executing RunDialog, so no locking is needed beyond what the
// session itself does for its transcript.
type run struct {
	e      *Engine
	sess   *call.Session
	events <-chan telephony.MediaEvent
	state  TurnState

	// phase paces the current wait: generous while speaking, short while
	// waiting for the user to start and finish talking.
	phase *time.Timer
}

// RunDialog drives capture, transcription, generation, synthesis, and
// playback for one answered call until a limit is hit, the model ends the
// conversation, the callee hangs up, or a fatal provider error occurs. A nil
// return means the closing line was spoken and hangup requested.
func (e *Engine) RunDialog(ctx context.Context, sess *call.Session) error {
	r := &run{
		e:      e,
		sess:   sess,
		events: e.media.MediaEvents(sess.ID),
		state:  StateIdle,
		phase:  time.NewTimer(e.cfg.PlaybackTimeout),
	}
	defer r.phase.Stop()

	err := r.loop(ctx)
	if err != nil && ctx.Err() == nil {
		// Fatal path: apologize if we still can, then surface the error so
		// the session is marked failed.
		r.speakLine(ctx, e.cfg.ApologyLine)
		return err
	}
	return err
}

func (r *run) loop(ctx context.Context) error {
	deadline := time.NewTimer(r.e.cfg.MaxDuration)
	defer deadline.Stop()

	assistantText := r.sess.Greeting
	if assistantText == "" {
		assistantText = "Hello! Do you have a moment to talk?"
	}
	reprompted := false

	for {
		raw, err := r.speakAndCapture(ctx, deadline.C, assistantText)
		switch {
		case stderrors.Is(err, errTimeLimit):
			return r.closeCall(ctx, r.e.cfg.ClosingLine)
		case stderrors.Is(err, errStreamClosed):
			// Callee is gone; the hangup notification finalizes the session.
			return nil
		case err != nil:
			return err
		}

		userText, err := r.transcribe(ctx, raw)
		if err != nil {
			return err
		}
		r.turnComplete()

		if strings.TrimSpace(userText) == "" {
			if !reprompted {
				reprompted = true
				assistantText = r.e.cfg.RepromptLine
				continue
			}
			// Two silent rounds in a row; stop holding the line open.
			return r.closeCall(ctx, r.e.cfg.ClosingLine)
		}
		reprompted = false

		r.sess.AppendTurn(call.DialogTurn{
			Speaker:   call.SpeakerUser,
			Text:      userText,
			Timestamp: time.Now(),
		})

		if r.sess.UserTurnCount() >= r.e.cfg.MaxTurns {
			return r.closeCall(ctx, r.e.cfg.ClosingLine)
		}
		select {
		case <-deadline.C:
			return r.closeCall(ctx, r.e.cfg.ClosingLine)
		default:
		}

		reply, endOfCall, err := r.generate(ctx)
		if err != nil {
			return err
		}
		if endOfCall {
			return r.closeCall(ctx, reply)
		}
		assistantText = reply
	}
}

// speakAndCapture speaks one assistant line and returns the next user
// utterance as raw PCM. Barge-in during playback stops the audio and flips
// straight to listening; the interrupted line is marked as such on the
// transcript.
func (r *run) speakAndCapture(ctx context.Context, deadlineC <-chan time.Time, text string) ([]byte, error) {
	if err := r.speak(ctx, text); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	r.resetPhase(r.e.cfg.PlaybackTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadlineC:
			return nil, errTimeLimit
		case <-r.phase.C:
			if r.state == StateListening {
				if buf.Len() > 0 {
					// VAD never saw trailing silence; take what we have.
					r.transition(EventUtteranceEnded)
					return buf.Bytes(), nil
				}
				return nil, nil // nothing heard this round
			}
			// Playback mark never came back; fall through to listening
			// rather than wedging the call.
			r.transition(EventPlaybackDone)
			r.resetPhase(r.e.cfg.CaptureTimeout)

		case ev, ok := <-r.events:
			if !ok {
				return nil, errStreamClosed
			}
			done, utterance, err := r.handleMediaEvent(ctx, ev, &buf)
			if err != nil {
				return nil, err
			}
			if done {
				return utterance, nil
			}
		}
	}
}

func (r *run) handleMediaEvent(ctx context.Context, ev telephony.MediaEvent, buf *bytes.Buffer) (bool, []byte, error) {
	switch ev.Type {
	case telephony.MediaCaptureStart:
		wasSpeaking := r.state == StateSpeaking
		if !r.transition(EventCaptureStarted) {
			return false, nil, nil
		}
		if wasSpeaking {
			// Barge-in: kill playback before buffering the interruption.
			if err := r.e.adapter.StopPlayback(ctx, r.sess.ID); err != nil {
				logger.Log.Warn("stop playback failed on barge-in",
					zap.String("call_id", r.sess.ID),
					zap.Error(err),
				)
			}
			r.sess.MarkLastAssistantInterrupted()
			metrics.BargeIn()
			logger.CallEvent(r.sess.ID, "barge_in")
		}
		buf.Reset()
		r.resetPhase(r.e.cfg.CaptureTimeout)

	case telephony.MediaAudioFrame:
		if r.state == StateListening {
			buf.Write(ev.Frame)
		}

	case telephony.MediaCaptureEnd:
		if r.transition(EventUtteranceEnded) {
			return true, buf.Bytes(), nil
		}

	case telephony.MediaPlaybackDone:
		if r.transition(EventPlaybackDone) {
			buf.Reset()
			r.resetPhase(r.e.cfg.CaptureTimeout)
		}

	case telephony.MediaStreamClosed:
		return false, nil, errStreamClosed
	}
	return false, nil, nil
}

// speak synthesizes and starts playback of one assistant line, recording it
// on the transcript.
func (r *run) speak(ctx context.Context, text string) error {
	var pcm []byte
	err := otel.WithStageSpan(ctx, r.sess.ID, "synthesize", func(ctx context.Context) error {
		return retry.Do(ctx, r.e.retryCfg, func() error {
			var err error
			pcm, err = r.e.speech.Synthesize(ctx, text)
			return err
		})
	})
	if err != nil {
		return err
	}

	r.sess.AppendTurn(call.DialogTurn{
		Speaker:   call.SpeakerAssistant,
		Text:      text,
		Timestamp: time.Now(),
	})

	if err := r.e.adapter.Play(ctx, r.sess.ID, pcm); err != nil {
		return err
	}
	r.transition(EventSpeakStarted)
	return nil
}

// speakLine is the best-effort variant used for the apology on the fatal
// path; errors are logged and swallowed.
func (r *run) speakLine(ctx context.Context, text string) {
	speakCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pcm, err := r.e.speech.Synthesize(speakCtx, text)
	if err != nil {
		logger.Log.Warn("could not synthesize line",
			zap.String("call_id", r.sess.ID),
			zap.Error(err),
		)
		return
	}
	r.sess.AppendTurn(call.DialogTurn{
		Speaker:   call.SpeakerAssistant,
		Text:      text,
		Timestamp: time.Now(),
	})
	if err := r.e.adapter.Play(speakCtx, r.sess.ID, pcm); err != nil {
		logger.Log.Warn("could not play line",
			zap.String("call_id", r.sess.ID),
			zap.Error(err),
		)
		return
	}
	r.awaitPlaybackDone(speakCtx)
}

// closeCall speaks the closing line to completion and hangs up. The closing
// utterance is never cut off by our own teardown.
func (r *run) closeCall(ctx context.Context, closing string) error {
	if err := r.speak(ctx, closing); err != nil {
		logger.Log.Warn("closing line not spoken",
			zap.String("call_id", r.sess.ID),
			zap.Error(err),
		)
	} else {
		r.awaitPlaybackDone(ctx)
	}

	if err := r.e.adapter.Hangup(ctx, r.sess.ID); err != nil && ctx.Err() == nil {
		logger.Log.Warn("hangup request failed",
			zap.String("call_id", r.sess.ID),
			zap.Error(err),
		)
	}
	return nil
}

// awaitPlaybackDone waits for the current utterance to drain, bounded by the
// playback timeout. Barge-in during a closing line is ignored; the call is
// ending regardless.
func (r *run) awaitPlaybackDone(ctx context.Context) {
	timer := time.NewTimer(r.e.cfg.PlaybackTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			if ev.Type == telephony.MediaPlaybackDone || ev.Type == telephony.MediaStreamClosed {
				return
			}
		}
	}
}

func (r *run) transcribe(ctx context.Context, raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	// Upsample the 8kHz telephony audio before handing it to recognition.
	wav := audio.WrapPCMInWAV(audio.Resample8kTo16k(raw), 16000)

	var text string
	err := otel.WithStageSpan(ctx, r.sess.ID, "transcribe", func(ctx context.Context) error {
		return retry.Do(ctx, r.e.retryCfg, func() error {
			var err error
			text, err = r.e.speech.Transcribe(ctx, wav)
			return err
		})
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (r *run) generate(ctx context.Context) (string, bool, error) {
	turns := r.sess.Transcript()
	if len(turns) > r.e.cfg.ContextWindow {
		turns = turns[len(turns)-r.e.cfg.ContextWindow:]
	}

	var (
		reply     string
		endOfCall bool
	)
	err := otel.WithStageSpan(ctx, r.sess.ID, "generate", func(ctx context.Context) error {
		return retry.Do(ctx, r.e.retryCfg, func() error {
			var err error
			reply, endOfCall, err = r.e.speech.Generate(ctx, r.sess.SystemPrompt, turns)
			return err
		})
	})
	if err != nil {
		return "", false, err
	}
	return reply, endOfCall, nil
}

// transition applies one turn-state event; illegal events are logged no-ops.
func (r *run) transition(ev TurnEvent) bool {
	next, ok := Transition(r.state, ev)
	if !ok {
		logger.Log.Debug("turn event ignored",
			zap.String("call_id", r.sess.ID),
			zap.String("state", r.state.String()),
			zap.String("event", ev.String()),
		)
		return false
	}
	r.state = next
	return true
}

func (r *run) turnComplete() {
	if r.state == StateProcessing {
		r.transition(EventTurnComplete)
	} else {
		r.state = StateIdle
	}
}

func (r *run) resetPhase(d time.Duration) {
	if !r.phase.Stop() {
		select {
		case <-r.phase.C:
		default:
		}
	}
	r.phase.Reset(d)
}
