package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/halovoice/voice-caller/internal/call"
	"github.com/halovoice/voice-caller/pkg/audio"
	"github.com/halovoice/voice-caller/pkg/circuitbreaker"
	"github.com/halovoice/voice-caller/pkg/errors"
	"github.com/halovoice/voice-caller/pkg/metrics"
)

const apiBase = "https://api.openai.com/v1"

// EndCallMarker is the token the model is instructed to append when the
// conversation should end. It is stripped from the spoken reply.
const EndCallMarker = "[END_CALL]"

const endCallInstruction = "\n\nWhen the conversation has reached its natural end, " +
	"or the person asks to stop, append the exact token " + EndCallMarker +
	" to the end of your reply."

// Config carries provider credentials, model choices, and the per-operation
// timeouts that bound every remote call.
type Config struct {
	APIKey    string
	BaseURL   string // override for tests; defaults to the public API
	Model     string
	MaxTokens int

	WhisperModel string
	Language     string
	TTSModel     string
	Voice        string

	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	SynthesizeTimeout time.Duration
	ClassifyTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = apiBase
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 200
	}
	if c.WhisperModel == "" {
		c.WhisperModel = "whisper-1"
	}
	if c.TTSModel == "" {
		c.TTSModel = "tts-1"
	}
	if c.Voice == "" {
		c.Voice = "alloy"
	}
	if c.TranscribeTimeout == 0 {
		c.TranscribeTimeout = 10 * time.Second
	}
	if c.GenerateTimeout == 0 {
		c.GenerateTimeout = 5 * time.Second
	}
	if c.SynthesizeTimeout == 0 {
		c.SynthesizeTimeout = 5 * time.Second
	}
	if c.ClassifyTimeout == 0 {
		c.ClassifyTimeout = 10 * time.Second
	}
}

// Client wraps the remote speech/LLM service: recognition, generation,
// synthesis, and post-call classification.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		breaker:    circuitbreaker.New("openai", circuitbreaker.DefaultConfig()),
	}
}

// Transcribe sends WAV audio to the recognition endpoint and returns the
// recognized text. An empty string for silence is not an error.
func (c *Client) Transcribe(ctx context.Context, wavAudio []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TranscribeTimeout)
	defer cancel()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", errors.E(errors.KindProviderFatal, err)
	}
	if _, err := part.Write(wavAudio); err != nil {
		return "", errors.E(errors.KindProviderFatal, err)
	}
	w.WriteField("model", c.cfg.WhisperModel)
	if c.cfg.Language != "" {
		w.WriteField("language", c.cfg.Language)
	}
	w.Close()

	var out struct {
		Text string `json:"text"`
	}
	err = c.do(ctx, "transcribe", http.MethodPost, "/audio/transcriptions",
		w.FormDataContentType(), &body, &out)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate produces the assistant's next reply from the conversation window.
// The returned boolean reports the model's explicit end-of-conversation
// signal.
func (c *Client) Generate(ctx context.Context, systemPrompt string, turns []call.DialogTurn) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
	defer cancel()

	messages := make([]chatMessage, 0, len(turns)+1)
	messages = append(messages, chatMessage{
		Role:    "system",
		Content: systemPrompt + endCallInstruction,
	})
	for _, t := range turns {
		role := "user"
		if t.Speaker == call.SpeakerAssistant {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: t.Text})
	}

	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0.7,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", false, errors.E(errors.KindProviderFatal, err)
	}

	var out chatResponse
	if err := c.do(ctx, "generate", http.MethodPost, "/chat/completions",
		"application/json", bytes.NewReader(payload), &out); err != nil {
		return "", false, err
	}
	if len(out.Choices) == 0 {
		return "", false, errors.Ef(errors.KindProviderFatal, "generation returned no choices")
	}

	reply := strings.TrimSpace(out.Choices[0].Message.Content)
	endOfCall := strings.Contains(reply, EndCallMarker)
	reply = strings.TrimSpace(strings.ReplaceAll(reply, EndCallMarker, ""))
	return reply, endOfCall, nil
}

// Synthesize renders text to speech and converts it to PCM16 mono 8kHz for
// the media stream.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SynthesizeTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]interface{}{
		"model":           c.cfg.TTSModel,
		"voice":           c.cfg.Voice,
		"input":           text,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, errors.E(errors.KindProviderFatal, err)
	}

	mp3, err := c.doRaw(ctx, "synthesize", http.MethodPost, "/audio/speech",
		"application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	pcm, err := audio.ConvertMP3ToPCM(mp3)
	if err != nil {
		return nil, errors.E(errors.KindProviderFatal, err)
	}
	return pcm, nil
}

const classifyPrompt = `You review a transcript of an outbound sales call. Respond with a single JSON object and nothing else:
{"disposition": one of "interested", "not_interested", "call_later", "neutral", "unknown", "summary": a one or two sentence summary of the call}`

// ClassifyCall determines the post-call disposition and summary from the
// full transcript.
func (c *Client) ClassifyCall(ctx context.Context, transcript []call.DialogTurn) (call.Disposition, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ClassifyTimeout)
	defer cancel()

	var sb strings.Builder
	for _, t := range transcript {
		fmt.Fprintf(&sb, "%s: %s\n", t.Speaker, t.Text)
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: classifyPrompt},
			{Role: "user", Content: sb.String()},
		},
		MaxTokens:   300,
		Temperature: 0,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return call.DispositionUnknown, "", errors.E(errors.KindProviderFatal, err)
	}

	var out chatResponse
	if err := c.do(ctx, "classify", http.MethodPost, "/chat/completions",
		"application/json", bytes.NewReader(payload), &out); err != nil {
		return call.DispositionUnknown, "", err
	}
	if len(out.Choices) == 0 {
		return call.DispositionUnknown, "", errors.Ef(errors.KindProviderFatal, "classification returned no choices")
	}

	var verdict struct {
		Disposition string `json:"disposition"`
		Summary     string `json:"summary"`
	}
	raw := stripMarkdownFences(out.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return call.DispositionUnknown, "", errors.Ef(errors.KindProviderFatal,
			"unparseable classification: %v", err)
	}

	// An off-menu disposition string degrades to neutral rather than failing
	// the finalize step.
	disposition, _ := call.ParseDisposition(verdict.Disposition)
	return disposition, verdict.Summary, nil
}

// stripMarkdownFences removes a ```json ... ``` wrapper the model sometimes
// adds despite instructions.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// do executes one API call and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out interface{}) error {
	raw, err := c.doRaw(ctx, op, method, path, contentType, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Ef(errors.KindProviderFatal, "malformed %s response: %v", op, err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, op, method, path, contentType string, body io.Reader) ([]byte, error) {
	var raw []byte
	err := c.breaker.Execute(ctx, func() error {
		start := time.Now()

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
		if err != nil {
			return errors.E(errors.KindProviderFatal, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		metrics.RecordServiceCall(op, err == nil, time.Since(start))
		if err != nil {
			// Timeouts and connection failures are worth a retry.
			return errors.Ef(errors.KindProviderTransient, "%s request failed: %v", op, err)
		}
		defer resp.Body.Close()

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if readErr != nil {
			return errors.Ef(errors.KindProviderTransient, "%s response read failed: %v", op, readErr)
		}
		if err := classifyHTTPStatus(op, resp.StatusCode, data); err != nil {
			return err
		}
		raw = data
		return nil
	})
	return raw, err
}

// classifyHTTPStatus maps API status codes onto the error taxonomy: rate
// limits and server errors retry, auth and quota problems abort the session.
func classifyHTTPStatus(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		if bytes.Contains(body, []byte("insufficient_quota")) {
			return errors.Ef(errors.KindProviderFatal, "%s quota exhausted", op)
		}
		return errors.Ef(errors.KindProviderTransient, "%s rate limited", op)
	case status >= 500:
		return errors.Ef(errors.KindProviderTransient, "%s server error %d", op, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Ef(errors.KindProviderFatal, "%s auth rejected (%d)", op, status)
	default:
		return errors.Ef(errors.KindProviderFatal, "%s failed with %d: %s",
			op, status, bytes.TrimSpace(body[:min(len(body), 200)]))
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
