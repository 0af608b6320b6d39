package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mfreeman451/routeradar/pkg/models"
	"github.com/sashabaranov/go-openai"
)

//go:generate mockgen -destination=mock_classifier.go -package=classifier github.com/mfreeman451/routeradar/pkg/classifier AIClassifier

var (
	// ErrClassification marks an AI call or response that could not be used.
	// It never leaves this package; callers get the fallback analysis.
	ErrClassification = errors.New("log classification failed")

	errNoChoices = errors.New("no choices in response")
)

const (
	FallbackSummary        = "could not analyze logs"
	FallbackRecommendation = "review logs manually"

	DefaultModel       = "deepseek-chat"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1000
	DefaultTimeout     = 30 * time.Second

	systemPrompt = "You are an expert in analyzing MikroTik RouterOS device logs. " +
		"Detect problems, assign a severity and give recommendations."
)

// Analysis is the structured result of an AI log review.
type Analysis struct {
	Summary         string          `json:"summary"`
	Severity        models.Severity `json:"severity"`
	Recommendations []string        `json:"recommendations"`
	// Fallback is true when the analysis is the fixed fallback result.
	Fallback bool `json:"-"`
}

// Fallback returns the result used whenever the AI path fails.
func Fallback() Analysis {
	return Analysis{
		Summary:         FallbackSummary,
		Severity:        models.SeverityNotice,
		Recommendations: []string{FallbackRecommendation},
		Fallback:        true,
	}
}

// AIClassifier reviews a batch of logs. Implementations never fail; they
// return Fallback() instead.
type AIClassifier interface {
	Classify(ctx context.Context, deviceName string, logs []models.LogEntry) Analysis
}

// OpenAIConfig configures an OpenAI-compatible chat-completions endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIClassifier sends logs to an OpenAI-compatible endpoint.
type OpenAIClassifier struct {
	client     *openai.Client
	cfg        OpenAIConfig
	logger     *slog.Logger
	onFallback func(reason error)
}

// NewOpenAIClassifier creates a classifier for cfg. onFallback, if set, is
// called with the cause every time the fallback result is returned.
func NewOpenAIClassifier(cfg OpenAIConfig, logger *slog.Logger, onFallback func(reason error)) *OpenAIClassifier {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIClassifier{
		client:     openai.NewClientWithConfig(clientCfg),
		cfg:        cfg,
		logger:     logger,
		onFallback: onFallback,
	}
}

// Classify implements AIClassifier. It makes one request, bounded by the
// configured timeout, and never retries.
func (c *OpenAIClassifier) Classify(ctx context.Context, deviceName string, logs []models.LogEntry) Analysis {
	analysis, err := c.classify(ctx, deviceName, logs)
	if err != nil {
		c.logger.Error("AI log analysis failed, using fallback",
			"device", deviceName,
			"model", c.cfg.Model,
			"error", err)

		if c.onFallback != nil {
			c.onFallback(err)
		}

		return Fallback()
	}

	return analysis
}

func (c *OpenAIClassifier) classify(ctx context.Context, deviceName string, logs []models.LogEntry) (Analysis, error) {
	prompt, err := userPrompt(deviceName, logs)
	if err != nil {
		return Analysis{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: %w", ErrClassification, err)
	}

	if len(resp.Choices) == 0 {
		return Analysis{}, fmt.Errorf("%w: %w", ErrClassification, errNoChoices)
	}

	c.logger.Debug("Received AI log analysis",
		"device", deviceName,
		"finish_reason", resp.Choices[0].FinishReason)

	return ParseAnalysis(resp.Choices[0].Message.Content)
}

func userPrompt(deviceName string, logs []models.LogEntry) (string, error) {
	raw, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode logs: %w", ErrClassification, err)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Analyze the following logs from MikroTik device %q and provide:\n", deviceName)
	b.WriteString("1. A summary of the problems detected\n")
	b.WriteString("2. A severity level (Notice, Minor, Severe, Critical)\n")
	b.WriteString("3. Recommendations to resolve the problems\n\n")
	b.WriteString("Logs:\n")
	b.Write(raw)
	b.WriteString("\n\nRespond in JSON with the keys: summary (string), severity (string), recommendations (list of strings).")

	return b.String(), nil
}

// extractJSON strips a ```json or ``` fence around the payload, if any.
func extractJSON(content string) string {
	if _, after, ok := strings.Cut(content, "```json"); ok {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}

	if _, after, ok := strings.Cut(content, "```"); ok {
		body, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(body)
	}

	return strings.TrimSpace(content)
}

// ParseAnalysis decodes a model reply. Keys missing from the reply take the
// fallback value; the severity label is coerced onto the closed set.
func ParseAnalysis(content string) (Analysis, error) {
	var raw struct {
		Summary         *string  `json:"summary"`
		Severity        *string  `json:"severity"`
		Recommendations []string `json:"recommendations"`
	}

	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return Analysis{}, fmt.Errorf("%w: decode reply: %w", ErrClassification, err)
	}

	out := Fallback()
	out.Fallback = false

	if raw.Summary != nil {
		out.Summary = *raw.Summary
	}

	if raw.Severity != nil {
		out.Severity = models.NormalizeSeverity(*raw.Severity)
	}

	if raw.Recommendations != nil {
		out.Recommendations = raw.Recommendations
	}

	return out, nil
}

// Noop is the AI classifier used when AI analysis is disabled.
type Noop struct{}

func (Noop) Classify(context.Context, string, []models.LogEntry) Analysis {
	return Fallback()
}
