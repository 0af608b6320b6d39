// Package classifier turns device log lines into alert candidates, using a
// keyword scan and an optional AI-assisted analysis.
package classifier

import (
	"fmt"
	"strings"

	"github.com/mfreeman451/routeradar/pkg/models"
)

var (
	errorKeywords   = []string{"critical", "error", "failed", "failure", "denied"}
	warningKeywords = []string{"warning", "timeout", "retry"}
)

const (
	recLogError   = "Review the device log around this entry and correct the failing service or configuration."
	recLogWarning = "Monitor the device for recurrences of this message."
)

// lineText is the searchable text of an entry: its topics and message.
func lineText(e models.LogEntry) string {
	return strings.Join(e.Topics, ",") + " " + e.Message
}

// formatLine renders an entry for alert descriptions.
func formatLine(e models.LogEntry) string {
	var b strings.Builder

	if e.Time != "" {
		b.WriteString(e.Time)
		b.WriteByte(' ')
	}

	if len(e.Topics) > 0 {
		b.WriteByte('[')
		b.WriteString(strings.Join(e.Topics, ","))
		b.WriteString("] ")
	}

	b.WriteString(e.Message)

	return b.String()
}

func firstMatch(text string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}

	return "", false
}

// RuleScan emits at most one candidate per log line. Error keywords win over
// warning keywords; matching is case-insensitive.
func RuleScan(deviceName string, logs []models.LogEntry) []models.Candidate {
	var candidates []models.Candidate

	for _, entry := range logs {
		text := strings.ToLower(lineText(entry))

		sev := models.SeverityMinor
		rec := recLogError

		kw, ok := firstMatch(text, errorKeywords)
		if !ok {
			if kw, ok = firstMatch(text, warningKeywords); !ok {
				continue
			}

			sev = models.SeverityNotice
			rec = recLogWarning
		}

		candidates = append(candidates, models.Candidate{
			Category:       models.CategoryLog,
			Severity:       sev,
			Title:          fmt.Sprintf("%s: log entry matched %q", deviceName, kw),
			Description:    formatLine(entry),
			Recommendation: rec,
		})
	}

	return candidates
}
