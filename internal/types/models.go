package types

import "time"

// Stage is the position of a clip inside the processing state machine.
type Stage string

const (
	StageDiscovered   Stage = "discovered"
	StageTranscribing Stage = "transcribing"
	StageTranscribed  Stage = "transcribed"
	StageAnalyzing    Stage = "analyzing"
	StageAnalyzed     Stage = "analyzed"
	StagePersisted    Stage = "persisted"

	StageTranscribeFailed Stage = "transcribe_failed"
	StageAnalyzeFailed    Stage = "analyze_failed"
	StagePersistFailed    Stage = "persist_failed"
)

// Terminal reports whether no further automatic transition happens from s.
func (s Stage) Terminal() bool {
	switch s {
	case StagePersisted, StageTranscribeFailed, StageAnalyzeFailed, StagePersistFailed:
		return true
	}
	return false
}

// Failed reports whether s is a terminal failure stage.
func (s Stage) Failed() bool {
	switch s {
	case StageTranscribeFailed, StageAnalyzeFailed, StagePersistFailed:
		return true
	}
	return false
}

// Clip is one audio recording found in the source directory. Immutable
// once discovered.
type Clip struct {
	ID           string    `json:"clip_id"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	CallDate     string    `json:"call_date,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Transcription is the result of a speech-to-text call.
type Transcription struct {
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// CallMetadata accompanies a transcript into the analysis provider.
type CallMetadata struct {
	CallID   string `json:"call_id"`
	CallDate string `json:"call_date,omitempty"`
}

// Analysis is the structured result extracted from one call transcript.
type Analysis struct {
	Category   string `json:"category"`
	Severity   string `json:"severity"`
	Sentiment  string `json:"sentiment"`
	Summary    string `json:"issue_summary"`
	Resolution string `json:"resolution_steps,omitempty"`
}

// ProcessingRecord tracks one clip through the pipeline. Created and
// mutated only by the scheduler; the persisted copy is a snapshot.
type ProcessingRecord struct {
	ClipID             string    `json:"clip_id"`
	Path               string    `json:"path"`
	Stage              Stage     `json:"stage"`
	CallDate           string    `json:"call_date,omitempty"`
	TranscribeAttempts int       `json:"transcribe_attempts"`
	AnalyzeAttempts    int       `json:"analyze_attempts"`
	PersistAttempts    int       `json:"persist_attempts"`
	LastErrorKind      string    `json:"last_error_kind,omitempty"`
	LastErrorMsg       string    `json:"last_error_msg,omitempty"`
	Transcript         string    `json:"transcript,omitempty"`
	Confidence         float64   `json:"confidence,omitempty"`
	Analysis           *Analysis `json:"analysis,omitempty"`

	DiscoveredAt  time.Time  `json:"discovered_at"`
	TranscribedAt *time.Time `json:"transcribed_at,omitempty"`
	AnalyzedAt    *time.Time `json:"analyzed_at,omitempty"`
	PersistedAt   *time.Time `json:"persisted_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RetryDecision is the retry policy's answer for a single failed attempt.
// Never persisted.
type RetryDecision struct {
	Retry             bool
	Delay             time.Duration
	AttemptsRemaining int
}

// BatchRun groups the records processed in one invocation. Reporting only;
// the scheduler never reads it.
type BatchRun struct {
	ID         string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Discovered int       `json:"discovered"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}
