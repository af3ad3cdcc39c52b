package dialog

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/internal/call"
	"github.com/halovoice/voice-caller/internal/telephony"
	"github.com/halovoice/voice-caller/pkg/errors"
	"github.com/halovoice/voice-caller/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

type scriptedReply struct {
	text string
	end  bool
}

type fakeSpeech struct {
	mu          sync.Mutex
	transcripts []string
	replies     []scriptedReply
	genErr      error
	synthesized []string
}

func (f *fakeSpeech) Transcribe(ctx context.Context, wav []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transcripts) == 0 {
		return "", nil
	}
	text := f.transcripts[0]
	f.transcripts = f.transcripts[1:]
	return text, nil
}

func (f *fakeSpeech) Generate(ctx context.Context, systemPrompt string, turns []call.DialogTurn) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.genErr != nil {
		return "", false, f.genErr
	}
	if len(f.replies) == 0 {
		return "Anything else?", false, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.text, r.end, nil
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	f.synthesized = append(f.synthesized, text)
	f.mu.Unlock()
	return []byte("pcm:" + text), nil
}

type fakeAdapter struct {
	mu      sync.Mutex
	played  chan string
	stops   int
	hangups int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{played: make(chan string, 16)}
}

func (a *fakeAdapter) InitiateCall(ctx context.Context, callID, phone string) (string, error) {
	return "sid-" + callID, nil
}

func (a *fakeAdapter) Play(ctx context.Context, callID string, pcm []byte) error {
	a.played <- strings.TrimPrefix(string(pcm), "pcm:")
	return nil
}

func (a *fakeAdapter) StopPlayback(ctx context.Context, callID string) error {
	a.mu.Lock()
	a.stops++
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) SendAudio(ctx context.Context, callID string, frame []byte) error {
	return nil
}

func (a *fakeAdapter) Hangup(ctx context.Context, callID string) error {
	a.mu.Lock()
	a.hangups++
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) stopCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stops
}

func (a *fakeAdapter) hangupCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hangups
}

type fakeMedia struct {
	events chan telephony.MediaEvent
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{events: make(chan telephony.MediaEvent, 64)}
}

func (m *fakeMedia) MediaEvents(callID string) <-chan telephony.MediaEvent {
	return m.events
}

func (m *fakeMedia) send(t telephony.MediaEventType) {
	m.events <- telephony.MediaEvent{Type: t}
}

func (m *fakeMedia) sendFrame(b []byte) {
	m.events <- telephony.MediaEvent{Type: telephony.MediaAudioFrame, Frame: b}
}

func testConfig() Config {
	return Config{
		MaxDuration:     5 * time.Second,
		MaxTurns:        12,
		ContextWindow:   10,
		CaptureTimeout:  2 * time.Second,
		PlaybackTimeout: 2 * time.Second,
	}
}

// awaitPlay fails the test if the engine does not start playback in time.
func awaitPlay(t *testing.T, a *fakeAdapter) string {
	t.Helper()
	select {
	case text := <-a.played:
		return text
	case <-time.After(3 * time.Second):
		t.Fatal("engine never played audio")
		return ""
	}
}

// userSpeaks simulates one captured utterance: frames then trailing silence.
func userSpeaks(m *fakeMedia) {
	m.sendFrame([]byte{1, 2, 3, 4})
	m.send(telephony.MediaCaptureEnd)
}

func TestConversationEndsOnModelSignal(t *testing.T) {
	speech := &fakeSpeech{
		transcripts: []string{"not interested, thanks"},
		replies:     []scriptedReply{{text: "Understood, have a great day.", end: true}},
	}
	adapter := newFakeAdapter()
	media := newFakeMedia()
	engine := NewEngine(speech, adapter, media, testConfig())
	sess := call.NewSession("c1", "+15551230000", "be brief", "Hello!")

	done := make(chan error, 1)
	go func() { done <- engine.RunDialog(context.Background(), sess) }()

	if got := awaitPlay(t, adapter); got != "Hello!" {
		t.Fatalf("first utterance = %q, want greeting", got)
	}
	media.send(telephony.MediaPlaybackDone)
	userSpeaks(media)

	// The end-of-call reply doubles as the closing line.
	if got := awaitPlay(t, adapter); got != "Understood, have a great day." {
		t.Fatalf("closing utterance = %q", got)
	}
	media.send(telephony.MediaPlaybackDone)

	if err := <-done; err != nil {
		t.Fatalf("RunDialog returned error: %v", err)
	}
	if adapter.hangupCount() != 1 {
		t.Errorf("hangups = %d, want 1", adapter.hangupCount())
	}

	transcript := sess.Transcript()
	if len(transcript) != 3 {
		t.Fatalf("transcript length = %d, want 3 (greeting, user, closing)", len(transcript))
	}
	if transcript[1].Speaker != call.SpeakerUser || transcript[1].Text != "not interested, thanks" {
		t.Errorf("user turn = %+v", transcript[1])
	}
}

func TestMaxTurnsNeverExceeded(t *testing.T) {
	speech := &fakeSpeech{
		transcripts: []string{"tell me more", "sounds good", "should not be reached"},
	}
	adapter := newFakeAdapter()
	media := newFakeMedia()

	cfg := testConfig()
	cfg.MaxTurns = 2
	engine := NewEngine(speech, adapter, media, cfg)
	sess := call.NewSession("c2", "+15551230000", "", "")

	done := make(chan error, 1)
	go func() { done <- engine.RunDialog(context.Background(), sess) }()

	// greeting -> user turn 1 -> reply -> user turn 2 -> closing
	for i := 0; i < 2; i++ {
		awaitPlay(t, adapter)
		media.send(telephony.MediaPlaybackDone)
		userSpeaks(media)
	}
	closing := awaitPlay(t, adapter)
	media.send(telephony.MediaPlaybackDone)

	if err := <-done; err != nil {
		t.Fatalf("RunDialog returned error: %v", err)
	}
	if closing != engine.cfg.ClosingLine {
		t.Errorf("final utterance = %q, want closing line", closing)
	}
	if n := sess.UserTurnCount(); n != 2 {
		t.Errorf("user turns = %d, want exactly 2", n)
	}
	if adapter.hangupCount() != 1 {
		t.Errorf("hangups = %d, want 1", adapter.hangupCount())
	}
}

func TestBargeInDuringGreeting(t *testing.T) {
	speech := &fakeSpeech{
		transcripts: []string{"wait, who is this?"},
		replies:     []scriptedReply{{text: "This is an automated assistant. Goodbye.", end: true}},
	}
	adapter := newFakeAdapter()
	media := newFakeMedia()
	engine := NewEngine(speech, adapter, media, testConfig())
	sess := call.NewSession("c3", "+15551230000", "", "Hello, long greeting!")

	done := make(chan error, 1)
	go func() { done <- engine.RunDialog(context.Background(), sess) }()

	awaitPlay(t, adapter)
	// User interrupts mid-greeting: no playback-done was ever delivered.
	media.send(telephony.MediaCaptureStart)
	userSpeaks(media)

	awaitPlay(t, adapter)
	media.send(telephony.MediaPlaybackDone)

	if err := <-done; err != nil {
		t.Fatalf("RunDialog returned error: %v", err)
	}
	if adapter.stopCount() != 1 {
		t.Errorf("playback stops = %d, want 1", adapter.stopCount())
	}

	transcript := sess.Transcript()
	if !transcript[0].Interrupted {
		t.Error("interrupted greeting not marked as such")
	}
	// The recognition result after barge-in was accepted, not discarded.
	if transcript[1].Speaker != call.SpeakerUser || transcript[1].Text != "wait, who is this?" {
		t.Errorf("barged-in user turn = %+v", transcript[1])
	}
}

func TestEmptyTranscriptRepromptsOnce(t *testing.T) {
	speech := &fakeSpeech{
		transcripts: []string{"   ", "yes, interested"},
		replies:     []scriptedReply{{text: "Great, goodbye!", end: true}},
	}
	adapter := newFakeAdapter()
	media := newFakeMedia()
	engine := NewEngine(speech, adapter, media, testConfig())
	sess := call.NewSession("c4", "+15551230000", "", "Hi!")

	done := make(chan error, 1)
	go func() { done <- engine.RunDialog(context.Background(), sess) }()

	awaitPlay(t, adapter) // greeting
	media.send(telephony.MediaPlaybackDone)
	userSpeaks(media) // transcribes to whitespace

	reprompt := awaitPlay(t, adapter)
	if reprompt != engine.cfg.RepromptLine {
		t.Fatalf("second utterance = %q, want re-prompt", reprompt)
	}
	media.send(telephony.MediaPlaybackDone)
	userSpeaks(media) // real answer this time

	awaitPlay(t, adapter) // closing
	media.send(telephony.MediaPlaybackDone)

	if err := <-done; err != nil {
		t.Fatalf("RunDialog returned error: %v", err)
	}
	if n := sess.UserTurnCount(); n != 1 {
		t.Errorf("user turns = %d, want 1 (empty utterance not recorded)", n)
	}
}

func TestSilenceTwiceEndsCall(t *testing.T) {
	speech := &fakeSpeech{}
	adapter := newFakeAdapter()
	media := newFakeMedia()

	cfg := testConfig()
	cfg.CaptureTimeout = 100 * time.Millisecond
	engine := NewEngine(speech, adapter, media, cfg)
	sess := call.NewSession("c5", "+15551230000", "", "Hi!")

	done := make(chan error, 1)
	go func() { done <- engine.RunDialog(context.Background(), sess) }()

	awaitPlay(t, adapter) // greeting
	media.send(telephony.MediaPlaybackDone)
	// say nothing: capture times out

	awaitPlay(t, adapter) // re-prompt
	media.send(telephony.MediaPlaybackDone)
	// still nothing

	closing := awaitPlay(t, adapter)
	media.send(telephony.MediaPlaybackDone)

	if err := <-done; err != nil {
		t.Fatalf("RunDialog returned error: %v", err)
	}
	if closing != engine.cfg.ClosingLine {
		t.Errorf("final utterance = %q, want closing line", closing)
	}
	if adapter.hangupCount() != 1 {
		t.Errorf("hangups = %d, want 1", adapter.hangupCount())
	}
}

func TestDurationLimitSpeaksClosingThenHangsUp(t *testing.T) {
	speech := &fakeSpeech{}
	adapter := newFakeAdapter()
	media := newFakeMedia()

	cfg := testConfig()
	cfg.MaxDuration = 150 * time.Millisecond
	engine := NewEngine(speech, adapter, media, cfg)
	sess := call.NewSession("c6", "+15551230000", "", "Hi!")

	done := make(chan error, 1)
	go func() { done <- engine.RunDialog(context.Background(), sess) }()

	awaitPlay(t, adapter) // greeting; then the clock runs out mid-wait

	closing := awaitPlay(t, adapter)
	media.send(telephony.MediaPlaybackDone)

	if err := <-done; err != nil {
		t.Fatalf("RunDialog returned error: %v", err)
	}
	if closing != engine.cfg.ClosingLine {
		t.Errorf("final utterance = %q, want closing line", closing)
	}
	if adapter.hangupCount() != 1 {
		t.Errorf("hangups = %d, want 1 (hangup must follow the closing line)", adapter.hangupCount())
	}
}

func TestFatalProviderErrorSpeaksApology(t *testing.T) {
	speech := &fakeSpeech{
		transcripts: []string{"hello?"},
		genErr:      errors.Ef(errors.KindProviderFatal, "auth rejected"),
	}
	adapter := newFakeAdapter()
	media := newFakeMedia()

	cfg := testConfig()
	cfg.PlaybackTimeout = 200 * time.Millisecond
	engine := NewEngine(speech, adapter, media, cfg)
	sess := call.NewSession("c7", "+15551230000", "", "Hi!")

	done := make(chan error, 1)
	go func() { done <- engine.RunDialog(context.Background(), sess) }()

	awaitPlay(t, adapter) // greeting
	media.send(telephony.MediaPlaybackDone)
	userSpeaks(media)

	apology := awaitPlay(t, adapter)
	media.send(telephony.MediaPlaybackDone)

	err := <-done
	if err == nil {
		t.Fatal("RunDialog succeeded despite fatal provider error")
	}
	if !errors.IsFatal(err) {
		t.Errorf("error kind = %v, want provider fatal", errors.KindOf(err))
	}
	if apology != engine.cfg.ApologyLine {
		t.Errorf("final utterance = %q, want apology", apology)
	}
}

func TestHangupMidCallCancelsEngine(t *testing.T) {
	speech := &fakeSpeech{}
	adapter := newFakeAdapter()
	media := newFakeMedia()
	engine := NewEngine(speech, adapter, media, testConfig())
	sess := call.NewSession("c8", "+15551230000", "", "Hi!")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.RunDialog(ctx, sess) }()

	awaitPlay(t, adapter)
	cancel() // session torn down underneath the engine

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("RunDialog error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on cancellation")
	}
}
