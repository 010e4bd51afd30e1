// Package config loads and validates the service configuration from a
// YAML file and SIEMFUSION_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// StageConfig tunes one analysis stage.
type StageConfig struct {
	// Concurrency caps simultaneous client calls for this stage.
	Concurrency int `mapstructure:"concurrency" validate:"min=1,max=256"`
	// Timeout bounds one client call, not one retried sequence.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=100ms"`
	// MaxAttempts is total attempts including the first.
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"min=1ms"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"min=1ms"`
}

// Config holds all configuration for the fusion pipeline service.
type Config struct {
	Pipeline struct {
		// BatchSize releases a batch once this many events are pending.
		BatchSize int `mapstructure:"batch_size" validate:"min=1,max=10000"`
		// MaxWait releases a partial batch after this window.
		MaxWait time.Duration `mapstructure:"max_wait" validate:"min=10ms"`
		// QueueSize bounds events between Submit and batch assembly.
		QueueSize int `mapstructure:"queue_size" validate:"min=1"`
		// AnomalyThreshold gates benign events out after stage one.
		AnomalyThreshold float64 `mapstructure:"anomaly_threshold" validate:"min=0,max=1"`
		// BatchDeadline discards events still in flight when it elapses.
		BatchDeadline time.Duration `mapstructure:"batch_deadline" validate:"min=1s"`
	} `mapstructure:"pipeline"`

	Stages struct {
		Anomaly     StageConfig `mapstructure:"anomaly"`
		Threat      StageConfig `mapstructure:"threat"`
		Correlation StageConfig `mapstructure:"correlation"`
		AlertGen    StageConfig `mapstructure:"alert_gen"`
	} `mapstructure:"stages"`

	Analysis struct {
		// Provider selects the stage client: "heuristic" (built-in,
		// offline) or "http" (external analysis service).
		Provider string `mapstructure:"provider" validate:"oneof=heuristic http"`
		// IndicatorsFile optionally overrides the built-in indicator tables
		// used by the heuristic provider.
		IndicatorsFile string `mapstructure:"indicators_file"`

		RateLimit struct {
			// PerSecond is the shared token refill rate across all stages.
			// Zero or negative disables limiting.
			PerSecond float64 `mapstructure:"per_second"`
			Burst     int     `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`

		HTTP struct {
			AnomalyURL     string `mapstructure:"anomaly_url"`
			ThreatURL      string `mapstructure:"threat_url"`
			CorrelationURL string `mapstructure:"correlation_url"`
			AlertGenURL    string `mapstructure:"alert_gen_url"`
		} `mapstructure:"http"`

		CircuitBreaker struct {
			MaxFailures int           `mapstructure:"max_failures" validate:"min=1"`
			Cooldown    time.Duration `mapstructure:"cooldown" validate:"min=1s"`
			MaxProbes   int           `mapstructure:"max_probes" validate:"min=1"`
		} `mapstructure:"circuit_breaker"`
	} `mapstructure:"analysis"`

	Alerts struct {
		// Weights combine the three upstream scores into the alert score.
		Weights struct {
			Anomaly float64 `mapstructure:"anomaly" validate:"min=0,max=1"`
			Threat  float64 `mapstructure:"threat" validate:"min=0,max=1"`
			Context float64 `mapstructure:"context" validate:"min=0,max=1"`
		} `mapstructure:"weights"`
		Cutoffs struct {
			Critical float64 `mapstructure:"critical" validate:"min=0,max=1"`
			High     float64 `mapstructure:"high" validate:"min=0,max=1"`
			Medium   float64 `mapstructure:"medium" validate:"min=0,max=1"`
		} `mapstructure:"cutoffs"`
		// MinCorrelationScore suppresses events whose context score falls
		// below it before alert generation.
		MinCorrelationScore float64 `mapstructure:"min_correlation_score" validate:"min=0,max=1"`
		// MergeWindow is how long an alert stays open for merges.
		MergeWindow time.Duration `mapstructure:"merge_window" validate:"min=1s"`
		// MergeOverlap is the Jaccard indicator-overlap merge threshold.
		MergeOverlap float64 `mapstructure:"merge_overlap" validate:"min=0,max=1"`
		// DedupSize caps the open-alert index.
		DedupSize int `mapstructure:"dedup_size" validate:"min=1"`
	} `mapstructure:"alerts"`

	Sink struct {
		// Type selects the alert sink: "memory", "redis" or "webhook".
		Type string `mapstructure:"type" validate:"oneof=memory redis webhook"`

		Redis struct {
			Addr     string        `mapstructure:"addr"`
			Password string        `mapstructure:"password"`
			DB       int           `mapstructure:"db"`
			TTL      time.Duration `mapstructure:"ttl"`
		} `mapstructure:"redis"`

		Webhook struct {
			URL         string        `mapstructure:"url"`
			MinSeverity string        `mapstructure:"min_severity"`
			Timeout     time.Duration `mapstructure:"timeout"`
		} `mapstructure:"webhook"`
	} `mapstructure:"sink"`

	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	} `mapstructure:"api"`

	Logging struct {
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	} `mapstructure:"logging"`
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("pipeline.batch_size", 100)
	viper.SetDefault("pipeline.max_wait", "5s")
	viper.SetDefault("pipeline.queue_size", 1000)
	viper.SetDefault("pipeline.anomaly_threshold", 0.5)
	viper.SetDefault("pipeline.batch_deadline", "2m")

	for _, stage := range []string{"anomaly", "threat", "correlation", "alert_gen"} {
		viper.SetDefault("stages."+stage+".concurrency", 5)
		viper.SetDefault("stages."+stage+".timeout", "10s")
		viper.SetDefault("stages."+stage+".max_attempts", 3)
		viper.SetDefault("stages."+stage+".base_delay", "200ms")
		viper.SetDefault("stages."+stage+".max_delay", "5s")
	}

	viper.SetDefault("analysis.provider", "heuristic")
	viper.SetDefault("analysis.indicators_file", "")
	viper.SetDefault("analysis.rate_limit.per_second", 50)
	viper.SetDefault("analysis.rate_limit.burst", 10)
	viper.SetDefault("analysis.http.anomaly_url", "")
	viper.SetDefault("analysis.http.threat_url", "")
	viper.SetDefault("analysis.http.correlation_url", "")
	viper.SetDefault("analysis.http.alert_gen_url", "")
	viper.SetDefault("analysis.circuit_breaker.max_failures", 5)
	viper.SetDefault("analysis.circuit_breaker.cooldown", "30s")
	viper.SetDefault("analysis.circuit_breaker.max_probes", 1)

	viper.SetDefault("alerts.weights.anomaly", 0.3)
	viper.SetDefault("alerts.weights.threat", 0.4)
	viper.SetDefault("alerts.weights.context", 0.3)
	viper.SetDefault("alerts.cutoffs.critical", 0.85)
	viper.SetDefault("alerts.cutoffs.high", 0.7)
	viper.SetDefault("alerts.cutoffs.medium", 0.5)
	viper.SetDefault("alerts.min_correlation_score", 0.3)
	viper.SetDefault("alerts.merge_window", "10m")
	viper.SetDefault("alerts.merge_overlap", 0.5)
	viper.SetDefault("alerts.dedup_size", 1024)

	viper.SetDefault("sink.type", "memory")
	viper.SetDefault("sink.redis.addr", "localhost:6379")
	viper.SetDefault("sink.redis.password", "")
	viper.SetDefault("sink.redis.db", 0)
	viper.SetDefault("sink.redis.ttl", "24h")
	viper.SetDefault("sink.webhook.url", "")
	viper.SetDefault("sink.webhook.min_severity", "low")
	viper.SetDefault("sink.webhook.timeout", "10s")

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8081)

	viper.SetDefault("logging.level", "info")
}

func loadFromEnv() {
	viper.SetEnvPrefix("SIEMFUSION")
	viper.AutomaticEnv()

	_ = viper.BindEnv("pipeline.batch_size", "SIEMFUSION_BATCH_SIZE")
	_ = viper.BindEnv("pipeline.anomaly_threshold", "SIEMFUSION_ANOMALY_THRESHOLD")
	_ = viper.BindEnv("analysis.provider", "SIEMFUSION_PROVIDER")
	_ = viper.BindEnv("sink.type", "SIEMFUSION_SINK")
	_ = viper.BindEnv("sink.redis.addr", "SIEMFUSION_REDIS_ADDR")
	_ = viper.BindEnv("sink.redis.password", "SIEMFUSION_REDIS_PASSWORD")
	_ = viper.BindEnv("api.port", "SIEMFUSION_API_PORT")
	_ = viper.BindEnv("logging.level", "SIEMFUSION_LOG_LEVEL")
}

// LoadConfig loads configuration from file and environment variables.
// A missing config file is not an error; defaults and env vars apply.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Validate checks field bounds plus the cross-field constraints the tag
// validator cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	w := c.Alerts.Weights
	if w.Anomaly+w.Threat+w.Context <= 0 {
		return fmt.Errorf("alert score weights must sum to a positive value")
	}
	cut := c.Alerts.Cutoffs
	if cut.Critical < cut.High || cut.High < cut.Medium {
		return fmt.Errorf("severity cutoffs must be ordered: critical >= high >= medium")
	}

	if c.Analysis.Provider == "http" {
		h := c.Analysis.HTTP
		if h.AnomalyURL == "" || h.ThreatURL == "" || h.CorrelationURL == "" || h.AlertGenURL == "" {
			return fmt.Errorf("http provider requires all four stage URLs")
		}
	}
	if c.Sink.Type == "webhook" && c.Sink.Webhook.URL == "" {
		return fmt.Errorf("webhook sink requires a url")
	}

	for name, s := range c.StageConfigs() {
		if s.MaxDelay < s.BaseDelay {
			return fmt.Errorf("stage %s: max_delay must be >= base_delay", name)
		}
	}
	return nil
}

// StageConfigs returns the per-stage configs keyed by stage name.
func (c *Config) StageConfigs() map[string]StageConfig {
	return map[string]StageConfig{
		"anomaly":     c.Stages.Anomaly,
		"threat":      c.Stages.Threat,
		"correlation": c.Stages.Correlation,
		"alert_gen":   c.Stages.AlertGen,
	}
}
