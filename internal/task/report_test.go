package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/client-runner/internal/model"
)

func TestReportInspector(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    model.InspectionOutcome
	}{
		{
			name:    "clean",
			content: `{"createdTasks": [], "inspectionMessage": "40 tasks done"}`,
			want:    model.InspectionOutcome{CreatedTasks: []model.TaskRef{}, InspectionMessage: "40 tasks done"},
		},
		{
			name: "repeated with comments",
			content: `{
				// written by the worker
				"createdTasks": ["build-7", "build-9"],
				"inspectionMessage": "2 repeated",
			}`,
			want: model.InspectionOutcome{CreatedTasks: []model.TaskRef{"build-7", "build-9"}, InspectionMessage: "2 repeated"},
		},
		{
			name:    "must die",
			content: `{"mustDie": true}`,
			want:    model.InspectionOutcome{MustTerminateProcess: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "report.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			got, err := (&ReportInspector{Path: path}).Inspect(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReportInspector_Missing(t *testing.T) {
	got, err := (&ReportInspector{Path: filepath.Join(t.TempDir(), "none.json")}).Inspect(context.Background())
	require.NoError(t, err)
	assert.False(t, got.HasCreatedTasks())
	assert.Equal(t, NoReportMessage, got.InspectionMessage)
}

func TestReportInspector_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"createdTasks": "nope"}`), 0o600))

	_, err := (&ReportInspector{Path: path}).Inspect(context.Background())
	require.Error(t, err)

	var taskErr *model.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "inspect", taskErr.Op)
}
