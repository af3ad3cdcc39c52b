package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/internal/call"
	"github.com/halovoice/voice-caller/pkg/env"
	"github.com/halovoice/voice-caller/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

type stubAdapter struct{}

func (stubAdapter) InitiateCall(ctx context.Context, callID, phone string) (string, error) {
	return "sid-" + callID, nil
}
func (stubAdapter) Play(ctx context.Context, callID string, pcm []byte) error        { return nil }
func (stubAdapter) StopPlayback(ctx context.Context, callID string) error            { return nil }
func (stubAdapter) SendAudio(ctx context.Context, callID string, frame []byte) error { return nil }
func (stubAdapter) Hangup(ctx context.Context, callID string) error                  { return nil }

type stubRunner struct{}

func (stubRunner) RunDialog(ctx context.Context, sess *call.Session) error {
	<-ctx.Done()
	return ctx.Err()
}

type stubClassifier struct{}

func (stubClassifier) ClassifyCall(ctx context.Context, transcript []call.DialogTurn) (call.Disposition, string, error) {
	return call.DispositionNeutral, "stub", nil
}

type stubRecorder struct{}

func (stubRecorder) RecordCallResult(ctx context.Context, sess *call.Session) error { return nil }

func newTestHandler() *Handler {
	cfg := &env.Config{
		DefaultCountryCode:     "+7",
		TelephonyWebhookSecret: "test-webhook-secret",
	}
	finalizer := call.NewFinalizer(stubClassifier{}, stubRecorder{}, 5*time.Second)
	manager := call.NewManager(call.NewRegistry(), stubAdapter{}, stubRunner{}, finalizer, call.Options{
		DefaultGreeting: "Hello!",
	})
	return NewHandler(cfg, nil, nil, manager, nil, nil)
}

func TestCreateCall(t *testing.T) {
	h := newTestHandler()
	router := gin.New()
	router.POST("/api/calls", h.CreateCall)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid international", `{"phone": "+15551230000"}`, http.StatusCreated},
		{"local number normalized", `{"phone": "89161234567"}`, http.StatusCreated},
		{"with prompt and greeting", `{"phone": "+15551230001", "systemPrompt": "be brief", "greeting": "Hi!"}`, http.StatusCreated},
		{"missing phone", `{}`, http.StatusBadRequest},
		{"garbage phone", `{"phone": "not a number"}`, http.StatusBadRequest},
		{"malformed json", `{"phone": `, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/calls", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusCreated {
				return
			}

			var resp CreateCallResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.CallID == "" {
				t.Error("response missing callId")
			}
			if _, ok := h.manager.Registry().Get(resp.CallID); !ok {
				t.Error("created call not in registry")
			}
		})
	}
}

func TestGetCallLiveSession(t *testing.T) {
	h := newTestHandler()
	sess, err := h.manager.CreateCall("+15551230000", "", "")
	if err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}
	sess.AppendTurn(call.DialogTurn{
		Speaker:   call.SpeakerAssistant,
		Text:      "Hello!",
		Timestamp: time.Now(),
	})

	router := gin.New()
	router.GET("/api/calls/:callId", h.GetCall)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/calls/"+sess.ID, nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp CallStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.CallID != sess.ID {
		t.Errorf("callId = %q, want %q", resp.CallID, sess.ID)
	}
	if len(resp.Transcript) != 1 {
		t.Errorf("transcript length = %d, want 1", len(resp.Transcript))
	}
	if resp.Phone == "+15551230000" {
		t.Error("phone number returned unmasked")
	}
}
