package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/mfreeman451/routeradar/pkg/config"
)

const defaultWebhookTimeout = 10 * time.Second

var (
	errWebhookDisabled   = errors.New("webhook notifier is disabled")
	errWebhookCooldown   = errors.New("alert is within cooldown period")
	errInvalidJSON       = errors.New("invalid JSON generated")
	errWebhookStatus     = errors.New("webhook returned non-2xx status")
	errTemplateParse     = errors.New("template parsing failed")
	errTemplateExecution = errors.New("template execution failed")
)

// WebhookNotifier posts notifications as JSON, either the Notification
// itself or the output of a configured template.
type WebhookNotifier struct {
	config         config.WebhookConfig
	client         *http.Client
	tmpl           *template.Template
	lastAlertTimes map[string]time.Time
	mu             sync.Mutex
	bufferPool     *sync.Pool
	logger         *slog.Logger
	now            func() time.Time
}

// NewWebhookNotifier validates the template once up front. A Discord webhook
// without its own template gets DiscordTemplate.
func NewWebhookNotifier(cfg config.WebhookConfig, logger *slog.Logger) (*WebhookNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Discord && cfg.Template == "" {
		cfg.Template = DiscordTemplate
	}

	w := &WebhookNotifier{
		config: cfg,
		client: &http.Client{
			Timeout: defaultWebhookTimeout,
		},
		lastAlertTimes: make(map[string]time.Time),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
		logger: logger.With("notifier", "webhook"),
		now:    time.Now,
	}

	if cfg.Template != "" {
		tmpl, err := template.New("webhook").Funcs(w.templateFuncs()).Parse(cfg.Template)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errTemplateParse, err)
		}

		w.tmpl = tmpl
	}

	return w, nil
}

func (*WebhookNotifier) Name() string {
	return "webhook"
}

func (w *WebhookNotifier) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v interface{}) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("JSON marshaling failed: %w", err)
			}

			return string(b), nil
		},
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n *Notification) error {
	if !w.config.Enabled {
		w.logger.Debug("webhook disabled, skipping alert", "title", n.Title)

		return errWebhookDisabled
	}

	if err := w.checkCooldown(n.Title); err != nil {
		return err
	}

	payload, err := w.preparePayload(n)
	if err != nil {
		return fmt.Errorf("failed to prepare payload: %w", err)
	}

	return w.sendRequest(ctx, payload)
}

func (w *WebhookNotifier) checkCooldown(title string) error {
	cooldown := time.Duration(w.config.Cooldown)
	if cooldown <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()

	last, exists := w.lastAlertTimes[title]
	if exists && now.Sub(last) < cooldown {
		w.logger.Debug("alert within cooldown period, skipping", "title", title)

		return errWebhookCooldown
	}

	w.lastAlertTimes[title] = now

	return nil
}

func (w *WebhookNotifier) preparePayload(n *Notification) ([]byte, error) {
	buf := w.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer w.bufferPool.Put(buf)

	if w.tmpl == nil {
		if err := json.NewEncoder(buf).Encode(n); err != nil {
			return nil, fmt.Errorf("failed to marshal alert: %w", err)
		}

		return append([]byte(nil), buf.Bytes()...), nil
	}

	if err := w.tmpl.Execute(buf, map[string]interface{}{
		"alert": n,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", errTemplateExecution, err)
	}

	if !json.Valid(buf.Bytes()) {
		return nil, errInvalidJSON
	}

	return append([]byte(nil), buf.Bytes()...), nil
}

func (w *WebhookNotifier) sendRequest(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	w.setHeaders(req)

	resp, err := w.client.Do(req) //nolint:bodyclose // closed below
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}

	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			w.logger.Warn("failed to close response body", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return fmt.Errorf("%w: status=%d body=%s", errWebhookStatus, resp.StatusCode, body)
	}

	return nil
}

func (w *WebhookNotifier) setHeaders(req *http.Request) {
	hasContentType := false

	for _, header := range w.config.Headers {
		if strings.EqualFold(header.Key, "content-type") {
			hasContentType = true
		}

		req.Header.Set(header.Key, header.Value)
	}

	if !hasContentType {
		req.Header.Set("Content-Type", "application/json")
	}
}
