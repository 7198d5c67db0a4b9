package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/shinji-kodama/client-runner/internal/model"
)

// NoReportMessage is the inspection message used when the task command
// did not write a report.
const NoReportMessage = "no inspection report"

// ReportInspector reads the inspection report written by the task
// command. The report is a JSON (comments allowed) object:
//
//	{
//	  "createdTasks": ["build-7", "build-9"],
//	  "inspectionMessage": "2 of 40 tasks repeated",
//	  "mustDie": false
//	}
//
// A missing report means the command had nothing to report and is a
// clean outcome.
type ReportInspector struct {
	Path string
}

// Inspect reads and decodes the report.
func (r *ReportInspector) Inspect(ctx context.Context) (model.InspectionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return model.InspectionOutcome{}, &model.TaskError{Op: "inspect", Err: err}
	}

	data, err := os.ReadFile(r.Path)
	if errors.Is(err, os.ErrNotExist) {
		return model.InspectionOutcome{InspectionMessage: NoReportMessage}, nil
	}
	if err != nil {
		return model.InspectionOutcome{}, &model.TaskError{Op: "inspect", Err: err}
	}

	return DecodeReport(data)
}

// DecodeReport parses a report document.
func DecodeReport(data []byte) (model.InspectionOutcome, error) {
	var outcome model.InspectionOutcome
	if err := json.Unmarshal(jsonc.ToJSON(data), &outcome); err != nil {
		return model.InspectionOutcome{}, &model.TaskError{
			Op:  "inspect",
			Err: fmt.Errorf("invalid inspection report: %w", err),
		}
	}
	return outcome, nil
}
