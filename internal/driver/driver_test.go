package driver

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"call-insights-go/internal/clips"
	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

type memGateway struct {
	mu      sync.Mutex
	records map[string]*types.ProcessingRecord
	runs    []*types.BatchRun
}

func newMemGateway() *memGateway {
	return &memGateway{records: map[string]*types.ProcessingRecord{}}
}

func (g *memGateway) UpsertRecord(ctx context.Context, rec *types.ProcessingRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	snapshot := *rec
	g.records[rec.ClipID] = &snapshot
	return nil
}

func (g *memGateway) LoadRecords(ctx context.Context) (map[string]*types.ProcessingRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := map[string]*types.ProcessingRecord{}
	for id, rec := range g.records {
		snapshot := *rec
		out[id] = &snapshot
	}
	return out, nil
}

func (g *memGateway) SaveRun(ctx context.Context, run *types.BatchRun) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs = append(g.runs, run)
	return nil
}

func testConfig(dir string) config.Config {
	return config.Config{
		ClipsDir:      dir,
		BatchSize:     2,
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Language:      "en",
		MockProviders: true,
	}
}

func writeAudio(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("audio "+name), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_FreshBatch(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, dir, "call_20240110_093000.aac")
	writeAudio(t, dir, "call_20240111_101500.aac")

	gw := newMemGateway()
	d := New(testConfig(dir), gw, MockTranscriber{}, MockAnalyzer{}, logger.New().Entry)

	sum, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Discovered != 2 || sum.Succeeded != 2 || sum.Failed() != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if len(gw.records) != 2 {
		t.Errorf("durable records = %d, want 2", len(gw.records))
	}
	for _, rec := range gw.records {
		if rec.Stage != types.StagePersisted {
			t.Errorf("record %s stage = %s", rec.ClipID, rec.Stage)
		}
		if rec.Transcript == "" || rec.Analysis == nil {
			t.Errorf("record %s missing payloads in terminal success", rec.ClipID)
		}
		if rec.CallDate == "" {
			t.Errorf("record %s missing call date", rec.ClipID)
		}
	}
	if len(gw.runs) != 1 || gw.runs[0].Succeeded != 2 {
		t.Errorf("batch run stats = %+v", gw.runs)
	}
}

// A second run over the same directory must not touch the providers again.
func TestRun_IdempotentRerun(t *testing.T) {
	dir := t.TempDir()
	writeAudio(t, dir, "call_20240110_093000.aac")

	gw := newMemGateway()
	log := logger.New().Entry

	d := New(testConfig(dir), gw, MockTranscriber{}, MockAnalyzer{}, log)
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := *gw.records[clipIDFor(dir, "call_20240110_093000.aac")]

	d2 := New(testConfig(dir), gw, failingTranscriber{}, failingAnalyzer{}, log)
	sum, err := d2.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 1 || sum.Succeeded != 0 {
		t.Errorf("rerun summary = %+v", sum)
	}
	second := *gw.records[first.ClipID]
	if second.UpdatedAt != first.UpdatedAt || second.Transcript != first.Transcript {
		t.Error("rerun mutated a persisted record")
	}
}

func TestRun_ResumeRequeuesPendingRecord(t *testing.T) {
	dir := t.TempDir()
	// clip no longer listed in the directory, but its file still exists
	// elsewhere and its durable record was left mid-flight
	stash := t.TempDir()
	path := writeAudio(t, stash, "orphan.aac")

	gw := newMemGateway()
	gw.records[clips.ClipID(path)] = &types.ProcessingRecord{
		ClipID:          clips.ClipID(path),
		Path:            path,
		Stage:           types.StageTranscribed,
		Transcript:      "stale partial transcript",
		AnalyzeAttempts: 2,
	}

	cfg := testConfig(dir)
	cfg.Resume = true
	d := New(cfg, gw, MockTranscriber{}, MockAnalyzer{}, logger.New().Entry)

	sum, err := d.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Discovered != 1 || sum.Succeeded != 1 {
		t.Errorf("summary = %+v", sum)
	}
	rec := gw.records[clips.ClipID(path)]
	if rec.Stage != types.StagePersisted {
		t.Errorf("requeued record stage = %s", rec.Stage)
	}
	// reprocessed from the start with fresh budgets
	if rec.TranscribeAttempts != 1 || rec.AnalyzeAttempts != 1 {
		t.Errorf("attempts = %d/%d, want 1/1", rec.TranscribeAttempts, rec.AnalyzeAttempts)
	}
}

func clipIDFor(dir, name string) string {
	return clips.ClipID(filepath.Join(dir, name))
}

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(ctx context.Context, audio []byte, lang string) (types.Transcription, error) {
	return types.Transcription{}, types.NewProviderError("transcribe", types.KindUnavailable, os.ErrDeadlineExceeded)
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(ctx context.Context, transcript string, meta types.CallMetadata) (types.Analysis, error) {
	return types.Analysis{}, types.NewProviderError("analyze", types.KindUnavailable, os.ErrDeadlineExceeded)
}
