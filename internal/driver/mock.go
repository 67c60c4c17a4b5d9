package driver

import (
	"context"
	"time"

	"call-insights-go/internal/types"
)

// MockTranscriber and MockAnalyzer back offline demo runs
// (USE_MOCK_PROVIDERS=true) without touching either remote API.

type MockTranscriber struct {
	Latency time.Duration
}

func (m MockTranscriber) Transcribe(ctx context.Context, audio []byte, languageHint string) (types.Transcription, error) {
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return types.Transcription{}, types.NewProviderError("transcribe", types.KindTimeout, ctx.Err())
		case <-time.After(m.Latency):
		}
	}
	return types.Transcription{
		Text:       "MOCK TRANSCRIPT: Customer reports being locked out of the portal after a password reset and asks for the account to be unlocked.",
		Confidence: 0.98,
	}, nil
}

type MockAnalyzer struct {
	Latency time.Duration
}

func (m MockAnalyzer) Analyze(ctx context.Context, transcript string, meta types.CallMetadata) (types.Analysis, error) {
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return types.Analysis{}, types.NewProviderError("analyze", types.KindTimeout, ctx.Err())
		case <-time.After(m.Latency):
		}
	}
	return types.Analysis{
		Category:   "Account Access",
		Severity:   "Medium",
		Sentiment:  "Negative",
		Summary:    "Customer locked out after password reset; agent verified identity and unlocked the account.",
		Resolution: "Account unlocked, customer advised to update saved credentials.",
	}, nil
}
