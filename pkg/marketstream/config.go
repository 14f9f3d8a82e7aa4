package marketstream

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tradekit-lab/marketstream/pkg/errors"
)

// StreamConfig describes one streaming session: which provider to connect
// to and which subscriptions to open when the session comes up.
type StreamConfig struct {
	Provider string   `json:"provider" yaml:"provider" validate:"required,oneof=binance polygon"`
	Symbols  []string `json:"symbols" yaml:"symbols" validate:"required,min=1,dive,required"`
	Interval string   `json:"interval" yaml:"interval" validate:"required,oneof=1s 1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d"`
	Channels []string `json:"channels" yaml:"channels" validate:"omitempty,dive,oneof=price candle"`

	// ApiKey authenticates history fetches and, for providers that require
	// it, the socket itself.
	ApiKey string `json:"apiKey" yaml:"apiKey" validate:"required_if=Provider polygon"`

	// KeepaliveSeconds overrides the keepalive cadence. Zero keeps the
	// default.
	KeepaliveSeconds int `json:"keepaliveSeconds" yaml:"keepaliveSeconds" validate:"omitempty,min=1"`
}

// Validate validates the StreamConfig fields.
func (c *StreamConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid stream config", err)
	}

	return nil
}

// ChannelList returns the configured channels as typed values, defaulting to
// the candle channel when none are set.
func (c *StreamConfig) ChannelList() []Channel {
	if len(c.Channels) == 0 {
		return []Channel{ChannelCandle}
	}

	channels := make([]Channel, 0, len(c.Channels))
	for _, ch := range c.Channels {
		channels = append(channels, Channel(ch))
	}

	return channels
}

// KeepaliveInterval returns the configured keepalive cadence.
func (c *StreamConfig) KeepaliveInterval() time.Duration {
	if c.KeepaliveSeconds <= 0 {
		return DefaultKeepaliveInterval
	}

	return time.Duration(c.KeepaliveSeconds) * time.Second
}

// ParseStreamConfig parses JSON into a StreamConfig.
func ParseStreamConfig(jsonConfig string) (*StreamConfig, error) {
	var config StreamConfig
	if err := json.Unmarshal([]byte(jsonConfig), &config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse JSON config", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// ParseStreamConfigYAML parses YAML into a StreamConfig.
func ParseStreamConfigYAML(yamlConfig string) (*StreamConfig, error) {
	var config StreamConfig
	if err := yaml.Unmarshal([]byte(yamlConfig), &config); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse YAML config", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
