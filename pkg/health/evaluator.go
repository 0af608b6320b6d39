// Package health turns a system resource reading into alert candidates.
package health

import (
	"fmt"

	"github.com/mfreeman451/routeradar/pkg/models"
)

const (
	recCPU       = "Check running processes and traffic load; consider offloading services or upgrading hardware."
	recMemory    = "Review memory-heavy services and connection tables; reboot during a maintenance window if usage keeps growing."
	recInterface = "Check cabling, link partner and interface configuration."
)

// Thresholds are strict lower bounds: a value must exceed the bound to alert.
type Thresholds struct {
	CPUSevere      int
	CPUCritical    int
	MemorySevere   int
	MemoryCritical int
}

// DefaultThresholds returns the fixed two-tier thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUSevere:      75,
		CPUCritical:    90,
		MemorySevere:   80,
		MemoryCritical: 90,
	}
}

// Result is the outcome of one evaluation. Anomalies are readings that could
// not be evaluated; the caller decides how to log them.
type Result struct {
	Candidates []models.Candidate
	Anomalies  []string
}

// Evaluator applies Thresholds to health snapshots. It holds no state.
type Evaluator struct {
	thresholds Thresholds
}

// NewEvaluator creates an evaluator with the default thresholds.
func NewEvaluator() *Evaluator {
	return &Evaluator{thresholds: DefaultThresholds()}
}

// NewEvaluatorWithThresholds creates an evaluator with custom thresholds.
func NewEvaluatorWithThresholds(t Thresholds) *Evaluator {
	return &Evaluator{thresholds: t}
}

// Evaluate checks CPU, memory and interface state. A nil snapshot only
// evaluates interfaces.
func (e *Evaluator) Evaluate(deviceName string, snapshot *models.HealthSnapshot, interfaces []models.InterfaceState) Result {
	var res Result

	if snapshot != nil {
		if c, ok := e.cpu(deviceName, snapshot.CPULoad); ok {
			res.Candidates = append(res.Candidates, c)
		}

		c, ok, anomaly := e.memory(deviceName, snapshot)
		if ok {
			res.Candidates = append(res.Candidates, c)
		}

		if anomaly != "" {
			res.Anomalies = append(res.Anomalies, anomaly)
		}
	}

	for _, iface := range interfaces {
		if iface.Disabled || iface.Running {
			continue
		}

		res.Candidates = append(res.Candidates, models.Candidate{
			Category:       models.CategoryInterface + ":" + iface.Name,
			Severity:       models.SeveritySevere,
			Title:          fmt.Sprintf("%s: interface %s down", deviceName, iface.Name),
			Description:    fmt.Sprintf("Interface %s is enabled but not running.", iface.Name),
			Recommendation: recInterface,
		})
	}

	return res
}

func (e *Evaluator) cpu(deviceName string, load int) (models.Candidate, bool) {
	var sev models.Severity

	switch {
	case load > e.thresholds.CPUCritical:
		sev = models.SeverityCritical
	case load > e.thresholds.CPUSevere:
		sev = models.SeveritySevere
	default:
		return models.Candidate{}, false
	}

	return models.Candidate{
		Category:       models.CategoryCPU,
		Severity:       sev,
		Title:          fmt.Sprintf("%s: high CPU load", deviceName),
		Description:    fmt.Sprintf("CPU load is %d%%.", load),
		Recommendation: recCPU,
	}, true
}

func (e *Evaluator) memory(deviceName string, s *models.HealthSnapshot) (models.Candidate, bool, string) {
	if s.MemoryTotal == 0 {
		return models.Candidate{}, false, "total memory reported as 0; memory usage not evaluated"
	}

	if s.MemoryFree > s.MemoryTotal {
		return models.Candidate{}, false,
			fmt.Sprintf("free memory %d exceeds total %d; memory usage not evaluated", s.MemoryFree, s.MemoryTotal)
	}

	// Compare in integers so the 80 and 90 boundaries are exact.
	usedScaled := (s.MemoryTotal - s.MemoryFree) * 100
	above := func(pct int) bool { return usedScaled > uint64(pct)*s.MemoryTotal }

	var sev models.Severity

	switch {
	case above(e.thresholds.MemoryCritical):
		sev = models.SeverityCritical
	case above(e.thresholds.MemorySevere):
		sev = models.SeveritySevere
	default:
		return models.Candidate{}, false, ""
	}

	pct := float64(usedScaled) / float64(s.MemoryTotal)

	return models.Candidate{
		Category:       models.CategoryMemory,
		Severity:       sev,
		Title:          fmt.Sprintf("%s: high memory usage", deviceName),
		Description:    fmt.Sprintf("Memory usage is %.1f%% (%d of %d bytes free).", pct, s.MemoryFree, s.MemoryTotal),
		Recommendation: recMemory,
	}, true, ""
}
