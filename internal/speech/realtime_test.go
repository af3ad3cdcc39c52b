package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// realtimeTestServer upgrades incoming connections and hands them to fn.
func realtimeTestServer(t *testing.T, fn func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("OpenAI-Beta header = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		fn(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readClientEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading client event: %v", err)
	}
	return msg
}

func awaitEvent(t *testing.T, sess *RealtimeSession, want RealtimeEventType) RealtimeEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %v", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v", want)
		}
	}
}

func TestRealtimeSessionHandshake(t *testing.T) {
	gotUpdate := make(chan map[string]interface{}, 1)
	srv := realtimeTestServer(t, func(conn *websocket.Conn) {
		gotUpdate <- readClientEvent(t, conn)
		// Keep the connection open until the client closes it.
		conn.ReadMessage()
	})
	defer srv.Close()

	sess, err := ConnectRealtime(context.Background(), RealtimeConfig{
		APIKey:       "test-key",
		URL:          wsURL(srv),
		Voice:        "alloy",
		Instructions: "keep replies short",
	})
	if err != nil {
		t.Fatalf("ConnectRealtime failed: %v", err)
	}
	defer sess.Close()

	update := <-gotUpdate
	if update["type"] != "session.update" {
		t.Fatalf("first client event type = %v, want session.update", update["type"])
	}
	session, ok := update["session"].(map[string]interface{})
	if !ok {
		t.Fatal("session.update missing session payload")
	}
	if session["voice"] != "alloy" {
		t.Errorf("voice = %v, want alloy", session["voice"])
	}
	if session["instructions"] != "keep replies short" {
		t.Errorf("instructions = %v", session["instructions"])
	}
}

func TestRealtimeServerEvents(t *testing.T) {
	audioChunk := []byte{0x01, 0x02, 0x03, 0x04}
	srv := realtimeTestServer(t, func(conn *websocket.Conn) {
		readClientEvent(t, conn) // session.update

		events := []map[string]interface{}{
			{"type": "session.updated"},
			{"type": "conversation.item.input_audio_transcription.completed", "transcript": "hello there"},
			{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(audioChunk)},
			{"type": "response.done"},
		}
		for _, ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				t.Errorf("writing server event: %v", err)
				return
			}
		}
		conn.ReadMessage()
	})
	defer srv.Close()

	sess, err := ConnectRealtime(context.Background(), RealtimeConfig{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("ConnectRealtime failed: %v", err)
	}
	defer sess.Close()

	ev := awaitEvent(t, sess, RealtimeTranscript)
	if ev.Transcript != "hello there" {
		t.Errorf("transcript = %q, want %q", ev.Transcript, "hello there")
	}

	ev = awaitEvent(t, sess, RealtimeAudioDelta)
	if string(ev.Audio) != string(audioChunk) {
		t.Errorf("audio delta = %v, want %v", ev.Audio, audioChunk)
	}

	awaitEvent(t, sess, RealtimeResponseDone)
}

func TestRealtimeAudioUpload(t *testing.T) {
	frame := []byte{0x10, 0x20, 0x30}
	type received struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	got := make(chan received, 3)
	srv := realtimeTestServer(t, func(conn *websocket.Conn) {
		readClientEvent(t, conn) // session.update
		for i := 0; i < 3; i++ {
			conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				t.Errorf("reading upload: %v", err)
				return
			}
			var msg received
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Errorf("decoding upload: %v", err)
				return
			}
			got <- msg
		}
		conn.ReadMessage()
	})
	defer srv.Close()

	sess, err := ConnectRealtime(context.Background(), RealtimeConfig{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("ConnectRealtime failed: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio(frame); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	if err := sess.CommitAudio(); err != nil {
		t.Fatalf("CommitAudio failed: %v", err)
	}
	if err := sess.CreateResponse(); err != nil {
		t.Fatalf("CreateResponse failed: %v", err)
	}

	appendMsg := <-got
	if appendMsg.Type != "input_audio_buffer.append" {
		t.Errorf("first upload type = %q", appendMsg.Type)
	}
	decoded, err := base64.StdEncoding.DecodeString(appendMsg.Audio)
	if err != nil || string(decoded) != string(frame) {
		t.Errorf("uploaded audio = %q (decode err %v)", appendMsg.Audio, err)
	}
	if msg := <-got; msg.Type != "input_audio_buffer.commit" {
		t.Errorf("second upload type = %q", msg.Type)
	}
	if msg := <-got; msg.Type != "response.create" {
		t.Errorf("third upload type = %q", msg.Type)
	}
}

func TestRealtimeCloseEndsEventStream(t *testing.T) {
	srv := realtimeTestServer(t, func(conn *websocket.Conn) {
		readClientEvent(t, conn)
		conn.ReadMessage() // blocks until the client closes
	})
	defer srv.Close()

	sess, err := ConnectRealtime(context.Background(), RealtimeConfig{URL: wsURL(srv)})
	if err != nil {
		t.Fatalf("ConnectRealtime failed: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := sess.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	awaitEvent(t, sess, RealtimeClosed)
}
