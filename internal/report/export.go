package report

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/scheduler"
)

const (
	resultsSheet     = "results"
	unrecoveredSheet = "unrecovered"
)

// Export writes per-clip outcomes to an xlsx workbook. The unrecovered
// sheet carries the full transcript and analysis of persist_failed clips,
// since those never reached the database.
func Export(path string, sum Summary, outcomes []scheduler.Outcome, log *logrus.Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName(f.GetSheetName(0), resultsSheet)
	writeRow(f, resultsSheet, 1, []string{
		"clip_id", "path", "call_date", "stage", "skipped",
		"transcribe_attempts", "analyze_attempts", "persist_attempts",
		"last_error_kind", "last_error_msg", "category", "severity", "sentiment",
	})
	for i, o := range outcomes {
		rec := o.Record
		category, severity, sentiment := "", "", ""
		if rec.Analysis != nil {
			category = rec.Analysis.Category
			severity = rec.Analysis.Severity
			sentiment = rec.Analysis.Sentiment
		}
		writeRow(f, resultsSheet, i+2, []string{
			rec.ClipID, rec.Path, rec.CallDate, string(rec.Stage), strconv.FormatBool(o.Skipped),
			strconv.Itoa(rec.TranscribeAttempts), strconv.Itoa(rec.AnalyzeAttempts), strconv.Itoa(rec.PersistAttempts),
			rec.LastErrorKind, rec.LastErrorMsg, category, severity, sentiment,
		})
	}

	if len(sum.Unrecovered) > 0 {
		if _, err := f.NewSheet(unrecoveredSheet); err != nil {
			return fmt.Errorf("create unrecovered sheet: %w", err)
		}
		writeRow(f, unrecoveredSheet, 1, []string{"clip_id", "call_date", "transcript", "analysis_json", "last_error_msg"})
		for i, rec := range sum.Unrecovered {
			analysisJSON := ""
			if rec.Analysis != nil {
				if b, err := json.Marshal(rec.Analysis); err == nil {
					analysisJSON = string(b)
				}
			}
			writeRow(f, unrecoveredSheet, i+2, []string{
				rec.ClipID, rec.CallDate, rec.Transcript, analysisJSON, rec.LastErrorMsg,
			})
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	log.WithFields(logrus.Fields{
		"path":        path,
		"rows":        len(outcomes),
		"unrecovered": len(sum.Unrecovered),
	}).Info("run report exported")
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []string) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
