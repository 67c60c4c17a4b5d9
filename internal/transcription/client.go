package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/config"
	"call-insights-go/internal/types"
)

// Client calls the ElevenLabs speech-to-text endpoint. One blocking call per
// clip; retrying and concurrency are the scheduler's job.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewClient(cfg config.Config, log *logrus.Entry) *Client {
	return &Client{
		apiKey:  cfg.ElevenLabsAPIKey,
		baseURL: cfg.ElevenLabsBaseURL,
		model:   cfg.TranscribeModel,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		log: log.WithField("component", "transcription"),
	}
}

type sttResponse struct {
	LanguageCode        string  `json:"language_code"`
	LanguageProbability float64 `json:"language_probability"`
	Text                string  `json:"text"`
	Words               []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Transcribe uploads raw audio bytes and returns transcript text with a
// confidence score.
func (c *Client) Transcribe(ctx context.Context, audio []byte, languageHint string) (types.Transcription, error) {
	const op = "transcribe"

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "audio.aac")
	if err != nil {
		return types.Transcription{}, types.NewProviderError(op, types.KindUnknown, err)
	}
	if _, err := part.Write(audio); err != nil {
		return types.Transcription{}, types.NewProviderError(op, types.KindUnknown, err)
	}
	w.WriteField("model_id", c.model)
	if languageHint != "" && languageHint != "auto" {
		w.WriteField("language_code", languageHint)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/speech-to-text", &body)
	if err != nil {
		return types.Transcription{}, types.NewProviderError(op, types.KindUnknown, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.Transcription{}, types.NewProviderError(op, transportKind(err), err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if kind, ok := statusKind(resp.StatusCode); ok {
		return types.Transcription{}, types.NewProviderError(op, kind,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(raw, 200)))
	}

	var parsed sttResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return types.Transcription{}, types.NewProviderError(op, types.KindUnavailable,
			fmt.Errorf("decode response: %w", err))
	}
	if parsed.Text == "" {
		return types.Transcription{}, types.NewProviderError(op, types.KindInvalidAudio,
			errors.New("empty transcription"))
	}

	out := types.Transcription{
		Text:       parsed.Text,
		Confidence: parsed.LanguageProbability,
	}
	if n := len(parsed.Words); n > 0 {
		out.DurationSec = parsed.Words[n-1].End
	}

	c.log.WithFields(logrus.Fields{
		"chars":       len(out.Text),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("transcription completed")
	return out, nil
}

func statusKind(code int) (types.ErrorKind, bool) {
	switch {
	case code == http.StatusOK:
		return "", false
	case code == http.StatusTooManyRequests:
		return types.KindRateLimited, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return types.KindAuthError, true
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return types.KindInvalidAudio, true
	case code >= 500:
		return types.KindUnavailable, true
	}
	return types.KindUnavailable, true
}

func transportKind(err error) types.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.KindTimeout
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return types.KindTimeout
	}
	return types.KindUnavailable
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
