package throttle_go

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/block/throttle-go/retry"
)

// Config is the declarative form of the client options, for callers that
// keep their settings in a file or an environment map.
//
// Durations accept Go duration strings ("500ms", "1m30s").
type Config struct {
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BaseBackoff        time.Duration `mapstructure:"base_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	JitterMax          time.Duration `mapstructure:"jitter_max"`
	RespectRateLimit   bool          `mapstructure:"respect_rate_limit"`
	PerRequestTimeout  time.Duration `mapstructure:"per_request_timeout"`
	NearLimitThreshold float64       `mapstructure:"near_limit_threshold"`
}

func DefaultConfig() Config {
	p := retry.DefaultPolicy()
	return Config{
		MaxAttempts:        p.MaxAttempts,
		BaseBackoff:        p.BaseBackoff,
		MaxBackoff:         p.MaxBackoff,
		JitterMax:          p.JitterMax,
		RespectRateLimit:   true,
		NearLimitThreshold: 0.1,
	}
}

// DecodeConfig reads raw on top of DefaultConfig. Keys it does not know
// are an error, so are values that do not make sense.
func DecodeConfig(raw map[string]any) (Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return fmt.Errorf("max_attempts must be > 0, got %d", c.MaxAttempts)
	case c.BaseBackoff < 0:
		return fmt.Errorf("base_backoff must not be negative, got %v", c.BaseBackoff)
	case c.MaxBackoff < c.BaseBackoff:
		return fmt.Errorf("max_backoff (%v) must not be below base_backoff (%v)", c.MaxBackoff, c.BaseBackoff)
	case c.JitterMax < 0:
		return fmt.Errorf("jitter_max must not be negative, got %v", c.JitterMax)
	case c.PerRequestTimeout < 0:
		return fmt.Errorf("per_request_timeout must not be negative, got %v", c.PerRequestTimeout)
	case c.NearLimitThreshold < 0 || c.NearLimitThreshold > 1:
		return fmt.Errorf("near_limit_threshold must be within [0, 1], got %v", c.NearLimitThreshold)
	}
	return nil
}

// Options turns c into client options. Options passed to NewClient after
// these override them.
func (c Config) Options() []ConfigOption {
	return []ConfigOption{
		WithMaxAttempts(c.MaxAttempts),
		WithBaseBackoff(c.BaseBackoff),
		WithMaxBackoff(c.MaxBackoff),
		WithJitterMax(c.JitterMax),
		WithRespectRateLimit(c.RespectRateLimit),
		WithPerRequestTimeout(c.PerRequestTimeout),
		WithNearLimitThreshold(c.NearLimitThreshold),
	}
}
