package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"call-insights-go/internal/clips"
	"call-insights-go/internal/config"
	"call-insights-go/internal/report"
	"call-insights-go/internal/retry"
	"call-insights-go/internal/scheduler"
	"call-insights-go/internal/types"
)

// Gateway is the persistence boundary as the driver sees it: record writes
// plus the resume and reporting reads the scheduler never touches.
type Gateway interface {
	scheduler.Gateway
	LoadRecords(ctx context.Context) (map[string]*types.ProcessingRecord, error)
	SaveRun(ctx context.Context, run *types.BatchRun) error
}

// Driver configures one batch run and invokes the scheduler once.
type Driver struct {
	cfg   config.Config
	store *clips.Store
	gw    Gateway
	sched *scheduler.Scheduler
	log   *logrus.Entry
}

func New(cfg config.Config, gw Gateway, tr scheduler.Transcriber, an scheduler.Analyzer, log *logrus.Entry) *Driver {
	policy := retry.New(cfg.BaseDelay, cfg.MaxDelay)
	sched := scheduler.New(scheduler.Config{
		BatchSize:      cfg.BatchSize,
		MaxAttempts:    cfg.MaxAttempts,
		Language:       cfg.Language,
		ForceReprocess: cfg.ForceReprocess,
		TranscribeRPM:  cfg.TranscribeRPM,
		AnalyzeRPM:     cfg.AnalyzeRPM,
	}, policy, tr, an, gw, log)

	return &Driver{
		cfg:   cfg,
		store: clips.NewStore(cfg.ClipsDir, log),
		gw:    gw,
		sched: sched,
		log:   log.WithField("component", "driver"),
	}
}

// Run discovers clips, reconciles them with durable records, processes the
// pending set and finalizes the batch run.
func (d *Driver) Run(ctx context.Context) (report.Summary, error) {
	run := &types.BatchRun{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := d.log.WithField("run_id", run.ID)

	found, err := d.store.Discover()
	if err != nil {
		return report.Summary{}, fmt.Errorf("discover clips: %w", err)
	}

	existing, err := d.gw.LoadRecords(ctx)
	if err != nil {
		return report.Summary{}, fmt.Errorf("load durable records: %w", err)
	}

	records := d.reconcile(found, existing)
	log.WithFields(logrus.Fields{
		"clips_found":     len(found),
		"durable_records": len(existing),
		"records":         len(records),
	}).Info("run assembled")

	outcomes := d.sched.Run(ctx, records)

	sum := report.Summarize(run.ID, outcomes)
	run.FinishedAt = time.Now().UTC()
	run.Discovered = sum.Discovered
	run.Succeeded = sum.Succeeded
	run.Failed = sum.Failed()
	run.Skipped = sum.Skipped
	if err := d.gw.SaveRun(ctx, run); err != nil {
		log.WithError(err).Warn("batch run stats not saved")
	}

	log.WithFields(sum.Fields()).Info("run completed")
	for _, rec := range sum.Unrecovered {
		// transcript and analysis never reached storage; log them so no
		// result is silently lost
		log.WithFields(logrus.Fields{
			"clip_id":    rec.ClipID,
			"transcript": rec.Transcript,
			"analysis":   rec.Analysis,
		}).Warn("unrecovered result, persist it manually")
	}

	if d.cfg.ExportPath != "" {
		if err := report.Export(d.cfg.ExportPath, sum, outcomes, log); err != nil {
			log.WithError(err).Error("report export failed")
		}
	}
	return sum, nil
}

// reconcile builds the work set per the resume contract: a clip with no
// durable record starts fresh; a non-terminal durable record is requeued
// from the start; terminal records pass through for the scheduler's
// skip/force handling. With --resume, pending records whose source file
// vanished from the directory listing are still requeued from their stored
// path.
func (d *Driver) reconcile(found []types.Clip, existing map[string]*types.ProcessingRecord) []*types.ProcessingRecord {
	now := time.Now().UTC()
	seen := map[string]bool{}
	var records []*types.ProcessingRecord

	for _, clip := range found {
		seen[clip.ID] = true
		if rec, ok := existing[clip.ID]; ok {
			if !rec.Stage.Terminal() {
				requeue(rec)
			}
			records = append(records, rec)
			continue
		}
		records = append(records, &types.ProcessingRecord{
			ClipID:       clip.ID,
			Path:         clip.Path,
			Stage:        types.StageDiscovered,
			CallDate:     clip.CallDate,
			DiscoveredAt: clip.DiscoveredAt,
			UpdatedAt:    now,
		})
	}

	if d.cfg.Resume {
		for id, rec := range existing {
			if seen[id] || rec.Stage.Terminal() {
				continue
			}
			requeue(rec)
			records = append(records, rec)
		}
	}
	return records
}

// requeue resets a non-terminal record to Discovered. Attempt counters
// restart: budgets are per run, and redone stages get a full budget
// (at-least-once semantics; the durable upsert stays idempotent).
func requeue(rec *types.ProcessingRecord) {
	rec.Stage = types.StageDiscovered
	rec.TranscribeAttempts = 0
	rec.AnalyzeAttempts = 0
	rec.PersistAttempts = 0
	rec.LastErrorKind, rec.LastErrorMsg = "", ""
	rec.Transcript, rec.Confidence = "", 0
	rec.Analysis = nil
	rec.TranscribedAt, rec.AnalyzedAt, rec.PersistedAt = nil, nil, nil
}
