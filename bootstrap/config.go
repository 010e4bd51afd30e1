package bootstrap

import (
	"fmt"
	"os"

	"siemfusion/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output. The
// returned atomic level lets the app apply the configured level once
// configuration is loaded.
func InitLogger() (*zap.Logger, *zap.SugaredLogger, zap.AtomicLevel, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	core := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stdout),
		level,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), level, nil
}

// InitConfig loads the application configuration.
func InitConfig(sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}

	sugar.Infow("Config loaded",
		"provider", cfg.Analysis.Provider,
		"batch_size", cfg.Pipeline.BatchSize,
		"sink", cfg.Sink.Type,
		"api_port", cfg.API.Port)

	return cfg, nil
}

// ApplyLogLevel sets the runtime log level from configuration.
func ApplyLogLevel(level zap.AtomicLevel, cfg *config.Config, sugar *zap.SugaredLogger) {
	parsed, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		sugar.Warnw("Unknown log level, keeping info", "level", cfg.Logging.Level)
		return
	}
	level.SetLevel(parsed)
}
