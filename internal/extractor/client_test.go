package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

func TestParseAnalysis_PlainJSON(t *testing.T) {
	content := `{"category":"Account Access","severity":"High","sentiment":"Negative","issue_summary":"locked out"}`
	a, err := parseAnalysis(content)
	if err != nil {
		t.Fatal(err)
	}
	if a.Category != "Account Access" || a.Severity != "High" || a.Summary != "locked out" {
		t.Errorf("parsed = %+v", a)
	}
}

func TestParseAnalysis_JSONWrappedInProse(t *testing.T) {
	content := "Here is the analysis:\n```json\n" +
		`{"category":"Billing","severity":"Low","sentiment":"Neutral","issue_summary":"duplicate charge refunded"}` +
		"\n```\nLet me know if you need more."
	a, err := parseAnalysis(content)
	if err != nil {
		t.Fatal(err)
	}
	if a.Category != "Billing" {
		t.Errorf("category = %q", a.Category)
	}
}

func TestParseAnalysis_NoJSON(t *testing.T) {
	if _, err := parseAnalysis("I cannot analyze this call."); err == nil {
		t.Error("expected error for prose-only completion")
	}
}

func TestParseAnalysis_MissingFields(t *testing.T) {
	if _, err := parseAnalysis(`{"unrelated": true}`); err == nil {
		t.Error("expected error for JSON without analysis fields")
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.Config{
		OpenAIAPIKey:   "test-key",
		OpenAIBaseURL:  srv.URL,
		OpenAIModel:    "gpt-4o",
		RequestTimeout: 5 * time.Second,
	}
	return NewClient(cfg, logger.New().Entry)
}

func TestAnalyze_MalformedCompletionKind(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"no json here"}}]}`))
	})
	_, err := c.Analyze(context.Background(), "transcript", types.CallMetadata{CallID: "c1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := types.KindOf(err); kind != types.KindMalformedResponse {
		t.Errorf("kind = %s, want malformed_response", kind)
	}
}

func TestAnalyze_RateLimitKind(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	_, err := c.Analyze(context.Background(), "transcript", types.CallMetadata{CallID: "c1"})
	if kind := types.KindOf(err); kind != types.KindRateLimited {
		t.Errorf("kind = %s, want rate_limited", kind)
	}
}

func TestAnalyze_AuthKind(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})
	_, err := c.Analyze(context.Background(), "transcript", types.CallMetadata{CallID: "c1"})
	if kind := types.KindOf(err); kind != types.KindAuthError {
		t.Errorf("kind = %s, want auth_error", kind)
	}
}

func TestAnalyze_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"category\":\"Transaction Issue\",\"severity\":\"Medium\",\"sentiment\":\"Negative\",\"issue_summary\":\"failed transfer\",\"resolution_steps\":\"reissued\"}"}}]}`))
	})
	a, err := c.Analyze(context.Background(), "transcript", types.CallMetadata{CallID: "c1", CallDate: "20240110"})
	if err != nil {
		t.Fatal(err)
	}
	if a.Category != "Transaction Issue" || a.Resolution != "reissued" {
		t.Errorf("analysis = %+v", a)
	}
}
