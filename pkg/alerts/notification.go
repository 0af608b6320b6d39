package alerts

import (
	"strconv"
	"strings"
	"time"

	"github.com/mfreeman451/routeradar/pkg/models"
)

// Notification is the outbound payload for one persisted alert.
type Notification struct {
	AlertID        int64           `json:"alert_id"`
	DeviceID       int64           `json:"device_id"`
	Device         string          `json:"device"`
	Address        string          `json:"address"`
	Severity       models.Severity `json:"severity"`
	Color          string          `json:"color"`
	Category       string          `json:"category"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Recommendation string          `json:"recommendation,omitempty"`
	Timestamp      string          `json:"timestamp"`
}

// NewNotification builds the payload for a persisted alert of device.
func NewNotification(device *models.Device, a *models.Alert) *Notification {
	return &Notification{
		AlertID:        a.ID,
		DeviceID:       device.ID,
		Device:         device.Name,
		Address:        device.Address,
		Severity:       a.State,
		Color:          a.State.Color(),
		Category:       a.Category,
		Title:          a.Title,
		Message:        a.Description,
		Recommendation: a.Recommendation,
		Timestamp:      a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ColorCode returns Color as the decimal integer Discord embeds expect.
func (n *Notification) ColorCode() int64 {
	v, err := strconv.ParseInt(strings.TrimPrefix(n.Color, "#"), 16, 64)
	if err != nil {
		return 0
	}

	return v
}
