package telephony

import "context"

// Adapter is the control surface the call manager and dialog engine use to
// drive a call. Implementations own the provider REST API and the media
// stream; callers never touch either directly.
type Adapter interface {
	// InitiateCall dials phone and returns the provider's call identifier.
	// The callID is passed through to the provider so status callbacks and
	// the media stream can be correlated back to the session.
	InitiateCall(ctx context.Context, callID, phone string) (string, error)

	// Play streams synthesized PCM audio to the callee. Returns once the
	// audio has been handed to the media stream, not once playback finishes;
	// completion is signaled by MediaPlaybackDone.
	Play(ctx context.Context, callID string, pcm []byte) error

	// StopPlayback discards any audio queued for the callee. Used on barge-in.
	StopPlayback(ctx context.Context, callID string) error

	// SendAudio sends a single raw PCM frame to the callee.
	SendAudio(ctx context.Context, callID string, frame []byte) error

	// Hangup terminates the call at the provider.
	Hangup(ctx context.Context, callID string) error
}

// MediaEventType classifies events arriving on a call's media stream.
type MediaEventType int

const (
	// MediaCaptureStart fires when voice activity begins on the inbound leg.
	MediaCaptureStart MediaEventType = iota
	// MediaAudioFrame carries one inbound PCM frame.
	MediaAudioFrame
	// MediaCaptureEnd fires when voice activity ends (trailing silence).
	MediaCaptureEnd
	// MediaPlaybackDone fires when outbound audio has fully played out.
	MediaPlaybackDone
	// MediaStreamClosed fires when the provider closes the media stream.
	MediaStreamClosed
)

func (t MediaEventType) String() string {
	switch t {
	case MediaCaptureStart:
		return "capture_start"
	case MediaAudioFrame:
		return "audio_frame"
	case MediaCaptureEnd:
		return "capture_end"
	case MediaPlaybackDone:
		return "playback_done"
	case MediaStreamClosed:
		return "stream_closed"
	default:
		return "unknown"
	}
}

// MediaEvent is one event on a call's media stream. Frame is set only for
// MediaAudioFrame.
type MediaEvent struct {
	Type  MediaEventType
	Frame []byte
}

// MediaSource exposes the per-call media event stream to the dialog engine.
type MediaSource interface {
	MediaEvents(callID string) <-chan MediaEvent
}
