package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/halovoice/voice-caller/internal/call"
	"github.com/halovoice/voice-caller/internal/telephony"
)

func postWebhook(h *Handler, body []byte, sign bool) *httptest.ResponseRecorder {
	router := gin.New()
	router.POST("/webhooks/telephony", h.TelephonyStatus)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set("X-Signature", telephony.SignPayload(h.cfg.TelephonyWebhookSecret, body))
	}
	router.ServeHTTP(w, req)
	return w
}

func statusPayload(t *testing.T, callID, status string) []byte {
	t.Helper()
	body, err := json.Marshal(telephony.StatusCallback{
		CallID:      callID,
		ProviderSID: "sid-1",
		Status:      status,
	})
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	return body
}

func TestTelephonyStatusDrivesSession(t *testing.T) {
	h := newTestHandler()
	sess, err := h.manager.CreateCall("+15551230000", "", "")
	if err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}

	w := postWebhook(h, statusPayload(t, sess.ID, "ringing"), true)
	if w.Code != http.StatusOK {
		t.Fatalf("ringing callback status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Accepted {
		t.Error("callback for live session not accepted")
	}
}

func TestTelephonyStatusUnknownSessionAcknowledged(t *testing.T) {
	h := newTestHandler()

	w := postWebhook(h, statusPayload(t, "f0f0f0f0-0000-0000-0000-000000000000", "hangup"), true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the provider stops retrying", w.Code)
	}

	var resp struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Accepted {
		t.Error("unknown session reported as accepted")
	}
}

func TestTelephonyStatusRejectsBadSignature(t *testing.T) {
	h := newTestHandler()
	body := statusPayload(t, "some-call", "ringing")

	w := postWebhook(h, body, false)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned callback status = %d, want 401", w.Code)
	}

	router := gin.New()
	router.POST("/webhooks/telephony", h.TelephonyStatus)
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony", bytes.NewReader(body))
	req.Header.Set("X-Signature", "deadbeef")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("forged callback status = %d, want 401", w.Code)
	}
}

func TestTelephonyStatusRejectsMalformedPayloads(t *testing.T) {
	h := newTestHandler()

	tests := []struct {
		name string
		body string
	}{
		{"not json", "status=completed&sid=123"},
		{"missing callId", `{"status": "hangup"}`},
		{"unknown status", `{"callId": "abc", "status": "teleported"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postWebhook(h, []byte(tt.body), true)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestHangupCallbackCompletesCall(t *testing.T) {
	h := newTestHandler()
	sess, err := h.manager.CreateCall("+15551230000", "", "")
	if err != nil {
		t.Fatalf("CreateCall failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for sess.Status() != call.StatusDialing && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	postWebhook(h, statusPayload(t, sess.ID, "answered"), true)
	postWebhook(h, statusPayload(t, sess.ID, "hangup"), true)

	for time.Now().Before(deadline) {
		if sess.Status() == call.StatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sess.Status() != call.StatusCompleted {
		t.Fatalf("status = %v, want completed", sess.Status())
	}
	if _, ok := h.manager.Registry().Get(sess.ID); ok {
		t.Error("completed session still in registry")
	}
}
