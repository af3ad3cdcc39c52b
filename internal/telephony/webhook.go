package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// StatusCallback is the JSON body the provider posts on call-progress changes.
type StatusCallback struct {
	CallID      string `json:"callId"`      // our session id, echoed from CustomField
	ProviderSID string `json:"sid"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

// ParseStatusCallback decodes and validates a status callback payload.
func ParseStatusCallback(body []byte) (*StatusCallback, Event, error) {
	var cb StatusCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, EventError, fmt.Errorf("malformed status callback: %w", err)
	}
	if cb.CallID == "" {
		return nil, EventError, fmt.Errorf("status callback missing callId")
	}

	ev, err := ParseEvent(cb.Status)
	if err != nil {
		return nil, EventError, err
	}
	return &cb, ev, nil
}

// SignPayload computes the hex HMAC-SHA256 signature for a webhook body.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	expected := SignPayload(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
