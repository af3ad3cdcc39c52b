package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/pkg/logger"
)

// RealtimeEventType classifies events from the streaming speech session.
type RealtimeEventType int

const (
	// RealtimeTranscript carries an incremental or final user transcript.
	RealtimeTranscript RealtimeEventType = iota
	// RealtimeAudioDelta carries a chunk of synthesized reply audio.
	RealtimeAudioDelta
	// RealtimeResponseDone marks the end of one generated reply.
	RealtimeResponseDone
	// RealtimeError carries a server-reported error.
	RealtimeError
	// RealtimeClosed marks the end of the session.
	RealtimeClosed
)

// RealtimeEvent is one event from the streaming session.
type RealtimeEvent struct {
	Type       RealtimeEventType
	Transcript string
	Audio      []byte
	Err        error
}

// RealtimeConfig configures the persistent bidirectional speech session used
// by the low-latency dialog variant.
type RealtimeConfig struct {
	APIKey       string
	URL          string // override for tests
	Model        string
	Voice        string
	Instructions string
}

// RealtimeSession is a persistent bidirectional streaming connection: caller
// audio goes up as it is captured, transcripts and synthesized reply audio
// come back as server events.
type RealtimeSession struct {
	conn   *websocket.Conn
	events chan RealtimeEvent

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// ConnectRealtime dials the streaming endpoint and starts the event reader.
func ConnectRealtime(ctx context.Context, cfg RealtimeConfig) (*RealtimeSession, error) {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-realtime-preview"
	}
	url := cfg.URL
	if url == "" {
		url = "wss://api.openai.com/v1/realtime?model=" + cfg.Model
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}

	s := &RealtimeSession{
		conn:   conn,
		events: make(chan RealtimeEvent, 64),
	}

	if err := s.send(map[string]interface{}{
		"type": "session.update",
		"session": map[string]interface{}{
			"voice":        cfg.Voice,
			"instructions": cfg.Instructions,
			"modalities":   []string{"audio", "text"},
		},
	}); err != nil {
		conn.Close()
		return nil, err
	}

	go s.readLoop()
	return s, nil
}

// Events returns the server event stream. Closed when the session ends.
func (s *RealtimeSession) Events() <-chan RealtimeEvent {
	return s.events
}

// SendAudio appends one captured PCM frame to the input buffer.
func (s *RealtimeSession) SendAudio(frame []byte) error {
	return s.send(map[string]interface{}{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(frame),
	})
}

// CommitAudio marks the current input buffer as one finished utterance.
func (s *RealtimeSession) CommitAudio() error {
	return s.send(map[string]string{"type": "input_audio_buffer.commit"})
}

// CreateResponse asks the server to generate a reply to committed audio.
func (s *RealtimeSession) CreateResponse() error {
	return s.send(map[string]string{"type": "response.create"})
}

// Close tears down the session. Safe to call more than once.
func (s *RealtimeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *RealtimeSession) send(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

type realtimeServerEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *RealtimeSession) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.events <- RealtimeEvent{Type: RealtimeClosed}
			return
		}

		var ev realtimeServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Log.Warn("malformed realtime event", zap.Error(err))
			continue
		}

		switch {
		case ev.Type == "conversation.item.input_audio_transcription.completed":
			s.events <- RealtimeEvent{Type: RealtimeTranscript, Transcript: ev.Transcript}
		case ev.Type == "response.audio.delta":
			audio, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil {
				logger.Log.Warn("bad realtime audio delta", zap.Error(err))
				continue
			}
			s.events <- RealtimeEvent{Type: RealtimeAudioDelta, Audio: audio}
		case ev.Type == "response.done":
			s.events <- RealtimeEvent{Type: RealtimeResponseDone}
		case ev.Type == "error":
			s.events <- RealtimeEvent{Type: RealtimeError,
				Err: fmt.Errorf("realtime server error: %s", ev.Error.Message)}
		case strings.HasPrefix(ev.Type, "session."):
			// session lifecycle acks
		}
	}
}
