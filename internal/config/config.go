package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Engine holds the runtime knobs for the scheduler, runner, and
// retry/cancellation controller.
type Engine struct {
	MaxConcurrentGlobal   int           `env:"MAX_CONCURRENT_GLOBAL,default=10"`
	MaxConcurrentPerQueue int           `env:"MAX_CONCURRENT_PER_QUEUE,default=5"`
	DefaultMaxRetries     int           `env:"DEFAULT_MAX_RETRIES,default=3"`
	BackoffBase           time.Duration `env:"RETRY_BACKOFF_BASE,default=2s"`
	BackoffMax            time.Duration `env:"RETRY_BACKOFF_MAX,default=5m"`
	CancelGracePeriod     time.Duration `env:"CANCEL_GRACE_PERIOD,default=30s"`
	StuckRunningAfter     time.Duration `env:"STUCK_RUNNING_AFTER,default=30m"`
	StalePendingAfter     time.Duration `env:"STALE_PENDING_AFTER,default=1h"`
	ShutdownTimeout       time.Duration `env:"SHUTDOWN_TIMEOUT,default=30s"`
}

// to help with testing
var envProcess = envconfig.Process

func LoadEngineFromEnv(ctx context.Context) (*Engine, error) {
	var cfg Engine
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := validateEngine(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validateEngine(cfg *Engine) error {
	var errors []string

	if cfg.MaxConcurrentGlobal < 1 {
		errors = append(errors, "MAX_CONCURRENT_GLOBAL must be at least 1")
	}

	if cfg.MaxConcurrentPerQueue < 1 {
		errors = append(errors, "MAX_CONCURRENT_PER_QUEUE must be at least 1")
	}

	if cfg.MaxConcurrentPerQueue > cfg.MaxConcurrentGlobal {
		errors = append(errors, "MAX_CONCURRENT_PER_QUEUE must not exceed MAX_CONCURRENT_GLOBAL")
	}

	if cfg.DefaultMaxRetries < 0 {
		errors = append(errors, "DEFAULT_MAX_RETRIES must be non-negative")
	}

	if cfg.BackoffBase <= 0 {
		errors = append(errors, "RETRY_BACKOFF_BASE must be positive")
	}

	if cfg.BackoffMax < cfg.BackoffBase {
		errors = append(errors, "RETRY_BACKOFF_MAX must be at least RETRY_BACKOFF_BASE")
	}

	if cfg.CancelGracePeriod <= 0 {
		errors = append(errors, "CANCEL_GRACE_PERIOD must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}
