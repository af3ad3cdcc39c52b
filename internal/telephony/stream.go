package telephony

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/pkg/audio"
	"github.com/halovoice/voice-caller/pkg/logger"
)

const (
	playbackMarkName = "playback-done"
	mediaEventBuffer = 256
	writeTimeout     = 5 * time.Second
)

// wsMessage is the bidirectional media-stream frame format. The provider
// sends start/media/mark/stop; we send media/mark/clear.
type wsMessage struct {
	Event string `json:"event"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// mediaStream is the per-call media channel. The events channel exists from
// session creation; the websocket attaches later, when the provider connects.
type mediaStream struct {
	callID string
	events chan MediaEvent

	mu   sync.Mutex // guards conn and writes to it
	conn *websocket.Conn

	vad *voiceDetector
}

// StreamHub owns all live media streams, keyed by call id. The dialog engine
// subscribes to events before the provider's websocket ever connects, so
// Register and Attach are separate steps.
type StreamHub struct {
	mu      sync.RWMutex
	streams map[string]*mediaStream
}

func NewStreamHub() *StreamHub {
	return &StreamHub{streams: make(map[string]*mediaStream)}
}

// Register creates the media event channel for a call. Idempotent.
func (h *StreamHub) Register(callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[callID]; ok {
		return
	}
	h.streams[callID] = &mediaStream{
		callID: callID,
		events: make(chan MediaEvent, mediaEventBuffer),
		vad:    newVoiceDetector(),
	}
}

// Unregister drops a call's media stream and closes its websocket if attached.
func (h *StreamHub) Unregister(callID string) {
	h.mu.Lock()
	s, ok := h.streams[callID]
	delete(h.streams, callID)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

// MediaEvents returns the event channel for a call, registering it if needed.
func (h *StreamHub) MediaEvents(callID string) <-chan MediaEvent {
	h.Register(callID)
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.streams[callID].events
}

// Attach binds an accepted provider websocket to a call and blocks reading
// media frames until the connection closes. Intended to be called from the
// websocket HTTP handler's goroutine.
func (h *StreamHub) Attach(callID string, conn *websocket.Conn) {
	h.Register(callID)
	h.mu.RLock()
	s := h.streams[callID]
	h.mu.RUnlock()

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	logger.Log.Info("media stream attached", zap.String("call_id", callID))
	s.readLoop()
}

func (s *mediaStream) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.emit(MediaEvent{Type: MediaStreamClosed})
			logger.Log.Info("media stream closed",
				zap.String("call_id", s.callID),
				zap.Error(err),
			)
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Log.Warn("malformed media stream message",
				zap.String("call_id", s.callID),
				zap.Error(err),
			)
			continue
		}

		switch msg.Event {
		case "media":
			if msg.Media == nil {
				continue
			}
			frame, err := audio.DecodeBase64PCM(msg.Media.Payload)
			if err != nil {
				logger.Log.Warn("bad media payload",
					zap.String("call_id", s.callID),
					zap.Error(err),
				)
				continue
			}
			s.handleFrame(frame)
		case "mark":
			if msg.Mark != nil && msg.Mark.Name == playbackMarkName {
				s.emit(MediaEvent{Type: MediaPlaybackDone})
			}
		case "stop":
			s.emit(MediaEvent{Type: MediaStreamClosed})
			return
		case "start", "connected":
			// informational
		}
	}
}

// handleFrame runs voice activity detection and forwards the frame. The
// capture-start event must precede the frame that triggered it so the engine
// switches to listening before buffering audio.
func (s *mediaStream) handleFrame(frame []byte) {
	started, ended := s.vad.process(frame)
	if started {
		s.emit(MediaEvent{Type: MediaCaptureStart})
	}
	s.emit(MediaEvent{Type: MediaAudioFrame, Frame: frame})
	if ended {
		s.emit(MediaEvent{Type: MediaCaptureEnd})
	}
}

// emit delivers an event without ever blocking the read loop. A full channel
// means the consumer is gone or wedged; dropping frames is preferable to
// stalling every stream behind one slow session.
func (s *mediaStream) emit(ev MediaEvent) {
	select {
	case s.events <- ev:
	default:
		logger.Log.Warn("media event dropped",
			zap.String("call_id", s.callID),
			zap.String("event", ev.Type.String()),
		)
	}
}

// writeJSON serializes one outbound frame to the attached websocket.
func (s *mediaStream) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrStreamNotAttached
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// sendAudio writes one PCM frame as a base64 media message.
func (s *mediaStream) sendAudio(frame []byte) error {
	return s.writeJSON(map[string]interface{}{
		"event": "media",
		"media": map[string]string{
			"payload": audio.EncodePCMChunkToBase64(frame),
		},
	})
}

// sendMark asks the provider to echo a mark back once queued audio drains.
func (s *mediaStream) sendMark(name string) error {
	return s.writeJSON(map[string]interface{}{
		"event": "mark",
		"mark":  map[string]string{"name": name},
	})
}

// sendClear discards all audio queued at the provider.
func (s *mediaStream) sendClear() error {
	return s.writeJSON(map[string]string{"event": "clear"})
}

func (h *StreamHub) stream(callID string) (*mediaStream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.streams[callID]
	return s, ok
}
