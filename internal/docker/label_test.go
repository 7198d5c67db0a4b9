package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLabels(t *testing.T) {
	labels := BuildLabels("reports", "report-workers")

	assert.Equal(t, map[string]string{
		"client-runner.managed-by":     "client-runner",
		"client-runner.module":         "reports",
		"client-runner.resource-class": "report-workers",
	}, labels)
}

func TestBuildLabels_NoResourceClass(t *testing.T) {
	labels := BuildLabels("reports", "")
	assert.Len(t, labels, 2)
	assert.NotContains(t, labels, LabelResourceClass)
}

// TestParseModule_RoundTrip verifies ParseModule reads what BuildLabels writes.
func TestParseModule_RoundTrip(t *testing.T) {
	module, err := ParseModule(BuildLabels("reports", "x"))
	require.NoError(t, err)
	assert.Equal(t, "reports", module)
}

func TestParseModule_Errors(t *testing.T) {
	_, err := ParseModule(map[string]string{LabelModule: "reports"})
	assert.Error(t, err, "managed-by label is required")

	_, err = ParseModule(map[string]string{LabelManagedBy: "other-tool", LabelModule: "reports"})
	assert.Error(t, err)

	_, err = ParseModule(map[string]string{LabelManagedBy: ManagedByValue})
	require.Error(t, err)
	assert.Contains(t, err.Error(), LabelModule)
}

func TestModuleFilter(t *testing.T) {
	f := ModuleFilter("reports")
	assert.True(t, f.ExactMatch("label", "client-runner.managed-by=client-runner"))
	assert.True(t, f.ExactMatch("label", "client-runner.module=reports"))
	assert.Len(t, f.Get("label"), 2)

	all := ModuleFilter("")
	assert.Len(t, all.Get("label"), 1)
}
