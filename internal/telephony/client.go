package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/pkg/circuitbreaker"
	"github.com/halovoice/voice-caller/pkg/errors"
	"github.com/halovoice/voice-caller/pkg/logger"
	"github.com/halovoice/voice-caller/pkg/metrics"
	"github.com/halovoice/voice-caller/pkg/utils"
)

// ClientConfig carries provider credentials and callback endpoints.
type ClientConfig struct {
	Subdomain     string // e.g. "api.provider.com"
	AccountSID    string
	APIKey        string
	APIToken      string
	CallerID      string
	MediaBaseURL  string // public base URL for status callbacks and the media websocket
	DialTimeout   time.Duration
	HangupTimeout time.Duration
}

// Client talks to the telephony provider's REST API: placing calls and
// tearing them down. In-call audio goes over the media stream, not here.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.HangupTimeout == 0 {
		cfg.HangupTimeout = 5 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.DialTimeout},
		breaker:    circuitbreaker.New("telephony", circuitbreaker.DefaultConfig()),
	}
}

type dialResponse struct {
	Call struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	} `json:"call"`
}

// Dial places an outbound call. The callID rides along as a custom field so
// the provider's status callbacks and media stream can name our session.
func (c *Client) Dial(ctx context.Context, callID, phone string) (string, error) {
	form := url.Values{}
	form.Set("From", c.cfg.CallerID)
	form.Set("To", phone)
	form.Set("CustomField", callID)
	form.Set("StatusCallback", c.cfg.MediaBaseURL+"/webhooks/telephony")
	form.Set("StatusCallbackEvents", "ringing,answered,completed")
	form.Set("MediaStreamUrl", mediaStreamURL(c.cfg.MediaBaseURL, callID))

	endpoint := fmt.Sprintf("https://%s/v1/Accounts/%s/Calls/connect.json",
		c.cfg.Subdomain, c.cfg.AccountSID)

	var providerSID string
	err := c.breaker.Execute(ctx, func() error {
		start := time.Now()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
			strings.NewReader(form.Encode()))
		if err != nil {
			return errors.E(errors.KindProviderFatal, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(c.cfg.APIKey, c.cfg.APIToken)

		resp, err := c.httpClient.Do(req)
		metrics.RecordServiceCall("dial", err == nil, time.Since(start))
		if err != nil {
			return errors.Ef(errors.KindProviderTransient, "dial request failed: %v", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := classifyStatus(resp.StatusCode, body); err != nil {
			return err
		}

		var dr dialResponse
		if err := json.Unmarshal(body, &dr); err != nil {
			return errors.Ef(errors.KindProviderFatal, "malformed dial response: %v", err)
		}
		providerSID = dr.Call.Sid
		return nil
	})
	if err != nil {
		return "", err
	}

	logger.Log.Info("outbound call placed",
		zap.String("call_id", callID),
		zap.String("provider_sid", providerSID),
		zap.String("phone", utils.MaskPhoneNumber(phone)),
	)
	return providerSID, nil
}

// HangupCall terminates a call at the provider.
func (c *Client) HangupCall(ctx context.Context, providerSID string) error {
	endpoint := fmt.Sprintf("https://%s/v1/Accounts/%s/Calls/%s.json",
		c.cfg.Subdomain, c.cfg.AccountSID, providerSID)

	form := url.Values{}
	form.Set("Status", "completed")

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HangupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return errors.E(errors.KindProviderFatal, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APIToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RecordServiceCall("hangup", err == nil, time.Since(start))
	if err != nil {
		return errors.Ef(errors.KindProviderTransient, "hangup request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return classifyStatus(resp.StatusCode, body)
}

// classifyStatus maps provider HTTP status codes onto the error taxonomy.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.Ef(errors.KindProviderTransient,
			"telephony provider returned %d: %s", status, truncate(body, 200))
	default:
		return errors.Ef(errors.KindProviderFatal,
			"telephony provider returned %d: %s", status, truncate(body, 200))
	}
}

func mediaStreamURL(base, callID string) string {
	wsBase := strings.Replace(base, "https://", "wss://", 1)
	wsBase = strings.Replace(wsBase, "http://", "ws://", 1)
	return wsBase + "/ws/media/" + callID
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
