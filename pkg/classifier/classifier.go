package classifier

import (
	"context"
	"strings"

	"github.com/mfreeman451/routeradar/pkg/models"
)

// Classifier combines the keyword scan with an optional AI review. The two
// paths are independent: an AI finding never suppresses a rule finding.
type Classifier struct {
	ai         AIClassifier
	minAIBatch int
}

// New creates a classifier. A nil ai disables the AI path; minAIBatch is the
// smallest batch worth sending (values below 1 mean 1).
func New(ai AIClassifier, minAIBatch int) *Classifier {
	if minAIBatch < 1 {
		minAIBatch = 1
	}

	return &Classifier{ai: ai, minAIBatch: minAIBatch}
}

// AIEnabled reports whether the AI path is configured.
func (c *Classifier) AIEnabled() bool {
	if c.ai == nil {
		return false
	}

	_, noop := c.ai.(Noop)

	return !noop
}

// Classify returns the rule candidates followed by at most one AI candidate.
func (c *Classifier) Classify(ctx context.Context, deviceName string, logs []models.LogEntry) []models.Candidate {
	candidates := RuleScan(deviceName, logs)

	if ai, ok := c.AICandidate(ctx, deviceName, logs); ok {
		candidates = append(candidates, ai)
	}

	return candidates
}

// AICandidate runs only the AI path. ok is false when AI is disabled or the
// batch is too small.
func (c *Classifier) AICandidate(ctx context.Context, deviceName string, logs []models.LogEntry) (models.Candidate, bool) {
	if !c.AIEnabled() || len(logs) < c.minAIBatch {
		return models.Candidate{}, false
	}

	return CandidateFromAnalysis(deviceName, c.ai.Classify(ctx, deviceName, logs)), true
}

// CandidateFromAnalysis turns an AI analysis into an alert candidate.
func CandidateFromAnalysis(deviceName string, a Analysis) models.Candidate {
	sev := a.Severity
	if !sev.Valid() {
		sev = models.SeverityNotice
	}

	return models.Candidate{
		Category:       models.CategoryAI,
		Severity:       sev,
		Title:          "AI analysis: " + deviceName,
		Description:    a.Summary,
		Recommendation: strings.Join(a.Recommendations, ", "),
	}
}
