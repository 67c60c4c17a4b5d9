package report

import (
	"github.com/sirupsen/logrus"

	"call-insights-go/internal/scheduler"
	"call-insights-go/internal/types"
)

// Summary is the user-visible result of one batch run.
type Summary struct {
	RunID         string
	Discovered    int
	Succeeded     int
	Skipped       int
	Pending       int
	FailedByStage map[types.Stage]int

	// Unrecovered holds persist_failed records whose transcript and
	// analysis exist only in memory; the export surfaces them for manual
	// recovery.
	Unrecovered []*types.ProcessingRecord
}

// Summarize folds scheduler outcomes into run counters.
func Summarize(runID string, outcomes []scheduler.Outcome) Summary {
	sum := Summary{
		RunID:         runID,
		Discovered:    len(outcomes),
		FailedByStage: map[types.Stage]int{},
	}
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			sum.Skipped++
		case o.Record.Stage == types.StagePersisted:
			sum.Succeeded++
		case o.Record.Stage.Failed():
			sum.FailedByStage[o.Record.Stage]++
			if o.Record.Stage == types.StagePersistFailed {
				sum.Unrecovered = append(sum.Unrecovered, o.Record)
			}
		default:
			// cancelled mid-run, still resumable
			sum.Pending++
		}
	}
	return sum
}

// Failed is the total across failure stages.
func (s Summary) Failed() int {
	n := 0
	for _, c := range s.FailedByStage {
		n += c
	}
	return n
}

// Fields shapes the summary for structured logging.
func (s Summary) Fields() logrus.Fields {
	f := logrus.Fields{
		"run_id":     s.RunID,
		"discovered": s.Discovered,
		"succeeded":  s.Succeeded,
		"failed":     s.Failed(),
		"skipped":    s.Skipped,
	}
	if s.Pending > 0 {
		f["pending"] = s.Pending
	}
	for stage, c := range s.FailedByStage {
		f["failed_"+string(stage)] = c
	}
	return f
}
