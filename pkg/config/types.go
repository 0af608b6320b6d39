package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultDBPath         = "/var/lib/routeradar/routeradar.db"
	defaultListenAddr     = ":9184"
	defaultPollInterval   = 15 * time.Minute
	defaultSweepInterval  = 24 * time.Hour
	defaultRetentionDays  = 30
	defaultWorkers        = 4
	defaultDeviceTimeout  = 5 * time.Minute
	defaultConnectTries   = 3
	defaultConnectDelay   = 2 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultLogLimit       = 50
	defaultAITimeout      = 30 * time.Second
	defaultAIModel        = "deepseek-chat"
	defaultAITemperature  = 0.3
	defaultAIMaxTokens    = 1000
	defaultMQTTTopic      = "routeradar"
	defaultMQTTClientID   = "routeradar"
	defaultNotifySeverity = "Severe"
)

// Duration is a time.Duration that unmarshals from "15m" style strings
// or from integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}

	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidDuration, err)
	}

	*d = Duration(dur)

	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the process-wide configuration, built once at start and
// passed explicitly to each component.
type Config struct {
	DBPath         string       `json:"db_path" yaml:"db_path" validate:"required"`
	ListenAddr     string       `json:"listen_addr" yaml:"listen_addr"`
	LogLevel       string       `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat      string       `json:"log_format" yaml:"log_format" validate:"omitempty,oneof=json text"`
	PollInterval   Duration     `json:"poll_interval" yaml:"poll_interval"`
	SweepInterval  Duration     `json:"sweep_interval" yaml:"sweep_interval"`
	RetentionDays  int          `json:"retention_days" yaml:"retention_days" validate:"gte=0"`
	Workers        int          `json:"workers" yaml:"workers" validate:"gte=0,lte=256"`
	DeviceTimeout  Duration     `json:"device_timeout" yaml:"device_timeout"`
	SuppressWindow Duration     `json:"suppress_window" yaml:"suppress_window"`
	Device         DeviceConfig `json:"device" yaml:"device"`
	AI             AIConfig     `json:"ai" yaml:"ai"`
	Vault          VaultConfig  `json:"vault" yaml:"vault"`
	Notify         NotifyConfig `json:"notify" yaml:"notify"`
}

// DeviceConfig controls how routers are reached.
type DeviceConfig struct {
	Protocol        string     `json:"protocol" yaml:"protocol" validate:"omitempty,oneof=api snmp"`
	ConnectAttempts int        `json:"connect_attempts" yaml:"connect_attempts" validate:"gte=0,lte=10"`
	ConnectDelay    Duration   `json:"connect_delay" yaml:"connect_delay"`
	DialTimeout     Duration   `json:"dial_timeout" yaml:"dial_timeout"`
	LogLimit        int        `json:"log_limit" yaml:"log_limit" validate:"gte=0,lte=1000"`
	DialRate        float64    `json:"dial_rate" yaml:"dial_rate" validate:"gte=0"`
	DialBurst       int        `json:"dial_burst" yaml:"dial_burst" validate:"gte=0"`
	SNMP            SNMPConfig `json:"snmp" yaml:"snmp"`
}

// SNMPConfig holds SNMPv3 settings for the snmp protocol.
type SNMPConfig struct {
	Port         uint16 `json:"port" yaml:"port"`
	AuthProtocol string `json:"auth_protocol" yaml:"auth_protocol" validate:"omitempty,oneof=MD5 SHA"`
}

// AIConfig configures the AI log classification endpoint.
type AIConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	BaseURL     string   `json:"base_url" yaml:"base_url" validate:"required_if=Enabled true"`
	Model       string   `json:"model" yaml:"model"`
	APIKey      string   `json:"-" yaml:"-"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
	Temperature float32  `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
}

// VaultConfig lists the credential keys, newest first.
type VaultConfig struct {
	Keys []string `json:"-" yaml:"-"`
}

// NotifyConfig configures outbound alert delivery.
type NotifyConfig struct {
	MinSeverity string          `json:"min_severity" yaml:"min_severity"`
	Webhooks    []WebhookConfig `json:"webhooks,omitempty" yaml:"webhooks,omitempty" validate:"dive"`
	MQTT        MQTTConfig      `json:"mqtt" yaml:"mqtt"`
}

// WebhookConfig represents a webhook notification configuration.
type WebhookConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	URL      string   `json:"url" yaml:"url" validate:"required_if=Enabled true"`
	Cooldown Duration `json:"cooldown" yaml:"cooldown"`
	Template string   `json:"template" yaml:"template"`
	Discord  bool     `json:"discord" yaml:"discord"`
	Headers  []Header `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Header represents a custom HTTP header.
type Header struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// MQTTConfig configures the MQTT alert publisher.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Broker      string `json:"broker" yaml:"broker" validate:"required_if=Enabled true"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"-" yaml:"-"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
}

// Validate implements the Validator interface. It fills defaults before
// checking struct constraints.
func (c *Config) Validate() error {
	c.applyDefaults()

	return validator.New().Struct(c)
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}

	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.LogFormat == "" {
		c.LogFormat = "json"
	}

	setDuration(&c.PollInterval, defaultPollInterval)
	setDuration(&c.SweepInterval, defaultSweepInterval)
	setDuration(&c.DeviceTimeout, defaultDeviceTimeout)

	if c.RetentionDays == 0 {
		c.RetentionDays = defaultRetentionDays
	}

	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}

	c.Device.applyDefaults()
	c.AI.applyDefaults()

	if c.Notify.MinSeverity == "" {
		c.Notify.MinSeverity = defaultNotifySeverity
	}

	if c.Notify.MQTT.ClientID == "" {
		c.Notify.MQTT.ClientID = defaultMQTTClientID
	}

	if c.Notify.MQTT.TopicPrefix == "" {
		c.Notify.MQTT.TopicPrefix = defaultMQTTTopic
	}
}

func (d *DeviceConfig) applyDefaults() {
	if d.Protocol == "" {
		d.Protocol = "api"
	}

	if d.ConnectAttempts == 0 {
		d.ConnectAttempts = defaultConnectTries
	}

	setDuration(&d.ConnectDelay, defaultConnectDelay)
	setDuration(&d.DialTimeout, defaultDialTimeout)

	if d.LogLimit == 0 {
		d.LogLimit = defaultLogLimit
	}

	if d.DialBurst == 0 {
		d.DialBurst = 1
	}

	if d.SNMP.Port == 0 {
		d.SNMP.Port = 161
	}

	if d.SNMP.AuthProtocol == "" {
		d.SNMP.AuthProtocol = "SHA"
	}
}

func (a *AIConfig) applyDefaults() {
	if a.Model == "" {
		a.Model = defaultAIModel
	}

	setDuration(&a.Timeout, defaultAITimeout)

	if a.Temperature == 0 {
		a.Temperature = defaultAITemperature
	}

	if a.MaxTokens == 0 {
		a.MaxTokens = defaultAIMaxTokens
	}
}

func setDuration(d *Duration, def time.Duration) {
	if time.Duration(*d) <= 0 {
		*d = Duration(def)
	}
}
