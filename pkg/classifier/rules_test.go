package classifier

import (
	"testing"

	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleScan(t *testing.T) {
	tests := []struct {
		name    string
		message string
		topics  []string
		want    models.Severity
		keyword string
	}{
		{name: "auth_failure", message: "Failed to authenticate user admin", want: models.SeverityMinor, keyword: "failed"},
		{name: "timeout_only", message: "Timeout waiting for response", want: models.SeverityNotice, keyword: "timeout"},
		{name: "error_beats_warning", message: "ERROR: retry limit reached", want: models.SeverityMinor, keyword: "error"},
		{name: "denied", message: "login denied from 10.0.0.9", want: models.SeverityMinor, keyword: "denied"},
		{name: "topic_match", message: "link down", topics: []string{"interface", "warning"}, want: models.SeverityNotice, keyword: "warning"},
		{name: "clean", message: "user admin logged in via winbox"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RuleScan("core-1", []models.LogEntry{{Time: "12:00:00", Topics: tt.topics, Message: tt.message}})

			if tt.want == "" {
				assert.Empty(t, got)
				return
			}

			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Severity)
			assert.Equal(t, models.CategoryLog, got[0].Category)
			assert.Contains(t, got[0].Title, "core-1")
			assert.Contains(t, got[0].Title, tt.keyword)
			assert.Contains(t, got[0].Description, tt.message)
		})
	}
}

func TestRuleScanOneCandidatePerLine(t *testing.T) {
	logs := []models.LogEntry{
		{Message: "critical failure: access denied"},
		{Message: "all good"},
		{Message: "dhcp retry"},
	}

	got := RuleScan("r", logs)
	require.Len(t, got, 2)
	assert.Equal(t, models.SeverityMinor, got[0].Severity)
	assert.Equal(t, models.SeverityNotice, got[1].Severity)
}

func TestFormatLine(t *testing.T) {
	assert.Equal(t, "jan/02 10:00:00 [system,error] boom",
		formatLine(models.LogEntry{Time: "jan/02 10:00:00", Topics: []string{"system", "error"}, Message: "boom"}))
	assert.Equal(t, "boom", formatLine(models.LogEntry{Message: "boom"}))
}
