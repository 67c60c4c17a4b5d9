package scheduler

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"call-insights-go/internal/retry"
	"call-insights-go/internal/types"
)

// Transcriber is the transcription provider boundary.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, languageHint string) (types.Transcription, error)
}

// Analyzer is the analysis provider boundary.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string, meta types.CallMetadata) (types.Analysis, error)
}

// Gateway is the slice of the persistence boundary the scheduler needs:
// idempotent record writes. Loading happens before the pool starts.
type Gateway interface {
	UpsertRecord(ctx context.Context, rec *types.ProcessingRecord) error
}

// Config is the run shape handed down by the batch driver.
type Config struct {
	BatchSize      int
	MaxAttempts    int
	Language       string
	ForceReprocess bool

	// Requests per minute to each provider, 0 = unlimited. Smooths request
	// emission; provider-reported rate limits stay Transient errors for the
	// retry policy.
	TranscribeRPM int
	AnalyzeRPM    int
}

// Outcome is one record's final position after a run.
type Outcome struct {
	Record  *types.ProcessingRecord
	Skipped bool
}

// Scheduler drives each clip through transcribe, analyze, persist with a
// bounded worker pool. One worker owns one clip end to end; failures stay
// isolated to their clip.
type Scheduler struct {
	cfg         Config
	policy      retry.Policy
	transcriber Transcriber
	analyzer    Analyzer
	gateway     Gateway
	log         *logrus.Entry

	transcribeLimiter *rate.Limiter
	analyzeLimiter    *rate.Limiter
}

func New(cfg Config, policy retry.Policy, tr Transcriber, an Analyzer, gw Gateway, log *logrus.Entry) *Scheduler {
	s := &Scheduler{
		cfg:         cfg,
		policy:      policy,
		transcriber: tr,
		analyzer:    an,
		gateway:     gw,
		log:         log.WithField("component", "scheduler"),
	}
	if cfg.TranscribeRPM > 0 {
		s.transcribeLimiter = rate.NewLimiter(rate.Limit(float64(cfg.TranscribeRPM)/60.0), 1)
	}
	if cfg.AnalyzeRPM > 0 {
		s.analyzeLimiter = rate.NewLimiter(rate.Limit(float64(cfg.AnalyzeRPM)/60.0), 1)
	}
	return s
}

// Run processes the given records and returns one outcome per record, in
// input order. Cancellation stops dispatch immediately; records not yet
// dispatched keep their last durable stage and stay resumable.
func (s *Scheduler) Run(ctx context.Context, records []*types.ProcessingRecord) []Outcome {
	out := make([]Outcome, len(records))

	s.log.WithFields(logrus.Fields{
		"records":    len(records),
		"batch_size": s.cfg.BatchSize,
	}).Info("starting worker pool")

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.BatchSize)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			if ctx.Err() != nil {
				out[i] = Outcome{Record: rec}
				return nil
			}
			out[i] = s.process(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// process drives one record through the state machine. The three provider
// calls for one clip run strictly in order; nothing blocks between
// in-process transitions.
func (s *Scheduler) process(ctx context.Context, rec *types.ProcessingRecord) Outcome {
	log := s.log.WithField("clip_id", rec.ClipID)

	if rec.Stage.Terminal() {
		if !s.cfg.ForceReprocess {
			log.WithField("stage", string(rec.Stage)).Debug("already terminal, skipping")
			return Outcome{Record: rec, Skipped: true}
		}
		s.reset(rec)
		log.Info("force reprocessing terminal record")
	}

	if !s.transcribe(ctx, rec, log) {
		return Outcome{Record: rec}
	}
	if !s.analyze(ctx, rec, log) {
		return Outcome{Record: rec}
	}
	s.persist(ctx, rec, log)
	return Outcome{Record: rec}
}

func (s *Scheduler) transcribe(ctx context.Context, rec *types.ProcessingRecord, log *logrus.Entry) bool {
	// Resume never re-enters mid-stage: a non-terminal record restarts here.
	audio, err := os.ReadFile(rec.Path)
	if err != nil {
		s.fail(ctx, rec, types.StageTranscribeFailed,
			types.NewProviderError("read clip", types.KindInvalidAudio, err), log)
		return false
	}

	for {
		rec.Stage = types.StageTranscribing
		if !s.wait(ctx, s.transcribeLimiter) {
			rec.Stage = types.StageDiscovered
			return false
		}
		rec.TranscribeAttempts++

		tr, err := s.transcriber.Transcribe(ctx, audio, s.cfg.Language)
		if err == nil {
			now := time.Now().UTC()
			rec.Transcript = tr.Text
			rec.Confidence = tr.Confidence
			rec.TranscribedAt = &now
			rec.Stage = types.StageTranscribed
			rec.LastErrorKind, rec.LastErrorMsg = "", ""
			log.WithField("attempts", rec.TranscribeAttempts).Debug("transcribed")
			return true
		}

		s.noteError(rec, err)
		decision := s.policy.Decide(err, rec.TranscribeAttempts, s.cfg.MaxAttempts)
		if !decision.Retry {
			s.fail(ctx, rec, types.StageTranscribeFailed, err, log)
			return false
		}
		// Retry-backward transition: the clip goes back to the queue's view
		// of it until the delay elapses.
		rec.Stage = types.StageDiscovered
		log.WithFields(logrus.Fields{
			"attempt": rec.TranscribeAttempts,
			"delay":   decision.Delay.String(),
			"error":   err.Error(),
		}).Warn("transcription attempt failed, retrying")
		if !sleep(ctx, decision.Delay) {
			return false
		}
	}
}

func (s *Scheduler) analyze(ctx context.Context, rec *types.ProcessingRecord, log *logrus.Entry) bool {
	meta := types.CallMetadata{CallID: rec.ClipID, CallDate: rec.CallDate}

	for {
		rec.Stage = types.StageAnalyzing
		if !s.wait(ctx, s.analyzeLimiter) {
			rec.Stage = types.StageTranscribed
			return false
		}
		rec.AnalyzeAttempts++

		analysis, err := s.analyzer.Analyze(ctx, rec.Transcript, meta)
		if err == nil {
			now := time.Now().UTC()
			rec.Analysis = &analysis
			rec.AnalyzedAt = &now
			rec.Stage = types.StageAnalyzed
			rec.LastErrorKind, rec.LastErrorMsg = "", ""
			log.WithField("attempts", rec.AnalyzeAttempts).Debug("analyzed")
			return true
		}

		s.noteError(rec, err)
		decision := s.policy.Decide(err, rec.AnalyzeAttempts, s.cfg.MaxAttempts)
		if !decision.Retry {
			s.fail(ctx, rec, types.StageAnalyzeFailed, err, log)
			return false
		}
		// Never redo transcription: retries return to Transcribed.
		rec.Stage = types.StageTranscribed
		log.WithFields(logrus.Fields{
			"attempt": rec.AnalyzeAttempts,
			"delay":   decision.Delay.String(),
			"error":   err.Error(),
		}).Warn("analysis attempt failed, retrying")
		if !sleep(ctx, decision.Delay) {
			return false
		}
	}
}

func (s *Scheduler) persist(ctx context.Context, rec *types.ProcessingRecord, log *logrus.Entry) {
	for {
		rec.PersistAttempts++
		now := time.Now().UTC()
		rec.Stage = types.StagePersisted
		rec.PersistedAt = &now
		rec.UpdatedAt = now
		rec.LastErrorKind, rec.LastErrorMsg = "", ""

		err := s.gateway.UpsertRecord(ctx, rec)
		if err == nil {
			log.WithField("attempts", rec.PersistAttempts).Info("clip persisted")
			return
		}

		rec.Stage = types.StageAnalyzed
		rec.PersistedAt = nil
		s.noteError(rec, err)
		decision := s.policy.Decide(err, rec.PersistAttempts, s.cfg.MaxAttempts)
		if !decision.Retry {
			// Transcript and analysis were never made durable; keep them on
			// the record so the run report can surface them for manual
			// recovery.
			rec.Stage = types.StagePersistFailed
			rec.UpdatedAt = time.Now().UTC()
			log.WithFields(logrus.Fields{
				"attempts": rec.PersistAttempts,
				"error":    err.Error(),
			}).Error("persist failed terminally, results held in run report")
			// Best effort: the store may have recovered since the last try.
			if werr := s.gateway.UpsertRecord(ctx, rec); werr != nil {
				log.WithError(werr).Warn("terminal persist_failed record not durable")
			}
			return
		}
		log.WithFields(logrus.Fields{
			"attempt": rec.PersistAttempts,
			"delay":   decision.Delay.String(),
			"error":   err.Error(),
		}).Warn("persist attempt failed, retrying")
		if !sleep(ctx, decision.Delay) {
			return
		}
	}
}

// fail moves rec to a terminal failure stage and records it durably so the
// failure is never silent.
func (s *Scheduler) fail(ctx context.Context, rec *types.ProcessingRecord, stage types.Stage, err error, log *logrus.Entry) {
	rec.Stage = stage
	s.noteError(rec, err)
	rec.UpdatedAt = time.Now().UTC()
	log.WithFields(logrus.Fields{
		"stage": string(stage),
		"error": err.Error(),
	}).Error("clip failed terminally")
	if werr := s.gateway.UpsertRecord(ctx, rec); werr != nil {
		log.WithError(werr).Warn("terminal failure record not durable")
	}
}

func (s *Scheduler) noteError(rec *types.ProcessingRecord, err error) {
	rec.LastErrorKind = string(types.KindOf(err))
	rec.LastErrorMsg = err.Error()
	rec.UpdatedAt = time.Now().UTC()
}

func (s *Scheduler) reset(rec *types.ProcessingRecord) {
	rec.Stage = types.StageDiscovered
	rec.TranscribeAttempts = 0
	rec.AnalyzeAttempts = 0
	rec.PersistAttempts = 0
	rec.LastErrorKind, rec.LastErrorMsg = "", ""
	rec.Transcript, rec.Confidence = "", 0
	rec.Analysis = nil
	rec.TranscribedAt, rec.AnalyzedAt, rec.PersistedAt = nil, nil, nil
}

func (s *Scheduler) wait(ctx context.Context, l *rate.Limiter) bool {
	if l == nil {
		return ctx.Err() == nil
	}
	if err := l.Wait(ctx); err != nil {
		return false
	}
	return true
}

// sleep blocks for the backoff delay, bailing out on cancellation so a
// worker never outlives the run.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
