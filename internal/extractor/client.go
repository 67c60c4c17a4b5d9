package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call-insights-go/internal/config"
	"call-insights-go/internal/types"
)

const systemMessage = "You are an expert call center analyst for financial services who returns structured analysis in JSON format."

// Client extracts a structured analysis from one call transcript via an
// OpenAI-style chat-completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewClient(cfg config.Config, log *logrus.Entry) *Client {
	return &Client{
		apiKey:  cfg.OpenAIAPIKey,
		baseURL: cfg.OpenAIBaseURL,
		model:   cfg.OpenAIModel,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		log: log.WithField("component", "extractor"),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the transcript with call metadata and parses the model's
// JSON answer. An unparsable completion is KindMalformedResponse, distinct
// from the transport kinds.
func (c *Client) Analyze(ctx context.Context, transcript string, meta types.CallMetadata) (types.Analysis, error) {
	const op = "analyze"

	payload, _ := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemMessage},
			{Role: "user", Content: buildPrompt(transcript, meta)},
		},
		Temperature: 0.1,
		MaxTokens:   1024,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return types.Analysis{}, types.NewProviderError(op, types.KindUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return types.Analysis{}, types.NewProviderError(op, types.KindTimeout, err)
		}
		var te interface{ Timeout() bool }
		if errors.As(err, &te) && te.Timeout() {
			return types.Analysis{}, types.NewProviderError(op, types.KindTimeout, err)
		}
		return types.Analysis{}, types.NewProviderError(op, types.KindUnavailable, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.Analysis{}, types.NewProviderError(op, types.KindRateLimited,
			fmt.Errorf("HTTP 429: %s", raw))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.Analysis{}, types.NewProviderError(op, types.KindAuthError,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, raw))
	default:
		return types.Analysis{}, types.NewProviderError(op, types.KindUnavailable,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		return types.Analysis{}, types.NewProviderError(op, types.KindMalformedResponse,
			fmt.Errorf("unexpected completion envelope: %s", raw))
	}

	analysis, err := parseAnalysis(parsed.Choices[0].Message.Content)
	if err != nil {
		return types.Analysis{}, types.NewProviderError(op, types.KindMalformedResponse, err)
	}

	c.log.WithFields(logrus.Fields{
		"call_id":     meta.CallID,
		"category":    analysis.Category,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("analysis completed")
	return analysis, nil
}

// parseAnalysis extracts the JSON object from a completion that may carry
// prose or code fences around it.
func parseAnalysis(content string) (types.Analysis, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return types.Analysis{}, fmt.Errorf("no JSON object in completion: %q", snippet(content))
	}
	var out types.Analysis
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return types.Analysis{}, fmt.Errorf("decode analysis JSON: %w", err)
	}
	if out.Summary == "" && out.Category == "" {
		return types.Analysis{}, fmt.Errorf("analysis JSON missing required fields: %q", snippet(content))
	}
	return out, nil
}

func buildPrompt(transcript string, meta types.CallMetadata) string {
	return fmt.Sprintf(`Please analyze this call center conversation transcript and extract the following information:

CALL ID: %s
CALL DATE: %s

TRANSCRIPT:
%s

INSTRUCTIONS:
1. Identify the main issue the customer is calling about.
2. Categorize the issue (Account Access, Transaction Issue, Product Question, etc).
3. Determine the severity of the issue (Low, Medium, High).
4. Note the overall sentiment of the interaction.
5. Summarize resolution steps taken, if any.

Return your analysis as a JSON object with the following structure:
{
  "category": "string",
  "severity": "Low|Medium|High",
  "sentiment": "Positive|Neutral|Negative",
  "issue_summary": "string",
  "resolution_steps": "string or null"
}

Do not include explanations outside the JSON structure. Only return valid JSON.`,
		meta.CallID, meta.CallDate, transcript)
}

func snippet(s string) string {
	if len(s) <= 120 {
		return s
	}
	return s[:120] + "..."
}
