package postgres

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	User           string        `env:"POSTGRES_USER,default=postgres"`
	Password       string        `env:"POSTGRES_PASSWORD,default=postgres"`
	Host           string        `env:"POSTGRES_HOST,default=postgres"`
	Port           string        `env:"POSTGRES_PORT,default=5432"`
	Database       string        `env:"POSTGRES_DB,default=jobsdb"`
	MaxRetries     int           `env:"DB_MAX_RETRIES,default=10"`
	RetryDelay     time.Duration `env:"DB_RETRY_DELAY,default=2s"`
	LogLevelString string        `env:"DB_LOG_LEVEL,default=warn"`
	LogLevel       logger.LogLevel
}

// to help with testing
var envProcess = envconfig.Process

func LoadConfigFromEnv(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.LogLevel = ParseLogLevel(cfg.LogLevelString)
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	var problems []string

	for name, val := range map[string]string{
		"POSTGRES_USER": cfg.User,
		"POSTGRES_DB":   cfg.Database,
		"POSTGRES_HOST": cfg.Host,
		"POSTGRES_PORT": cfg.Port,
	} {
		if strings.TrimSpace(val) == "" {
			problems = append(problems, name+" is required")
		}
	}

	if cfg.Port != "" {
		if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
			problems = append(problems, "POSTGRES_PORT must be a port number")
		}
	}
	if cfg.MaxRetries < 0 {
		problems = append(problems, "DB_MAX_RETRIES must be non-negative")
	}
	if cfg.RetryDelay <= 0 || cfg.RetryDelay > 10*time.Minute {
		problems = append(problems, "DB_RETRY_DELAY must be between 0 and 10m")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// ConnectDB establishes the PostgreSQL connection, retrying until the
// database is reachable or the retry budget is spent.
func ConnectDB(ctx context.Context, cfg *Config) (*gorm.DB, error) {
	if cfg == nil {
		loadedCfg, err := LoadConfigFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		cfg = loadedCfg
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		cfg.Host, cfg.User, cfg.Password, cfg.Database, cfg.Port,
	)

	zap.S().Infow("connecting to database",
		"user", cfg.User, "host", cfg.Host, "port", cfg.Port, "db", cfg.Database)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	}

	var lastErr error
	for i := 0; i < cfg.MaxRetries; i++ {
		gdb, err := gorm.Open(postgres.Open(dsn), gormConfig)
		if err == nil {
			sqlDB, dbErr := gdb.DB()
			if dbErr == nil {
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				pingErr := sqlDB.PingContext(pingCtx)
				cancel()

				if pingErr == nil {
					zap.S().Info("database connected")

					sqlDB.SetMaxIdleConns(10)
					sqlDB.SetMaxOpenConns(50)
					sqlDB.SetConnMaxLifetime(time.Hour)

					return gdb, nil
				}
				err = pingErr
			} else {
				err = dbErr
			}
		}
		lastErr = err

		zap.S().Warnw("database connection attempt failed",
			"attempt", i+1, "max", cfg.MaxRetries,
			"reason", simplifyDBError(err), "retry_in", cfg.RetryDelay)

		select {
		case <-time.After(cfg.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("database connection failed after %d attempts: %w", cfg.MaxRetries, lastErr)
}

// simplifyDBError collapses driver error text into a short reason for the
// retry log line. Full errors still surface on final failure.
func simplifyDBError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "password authentication failed"), strings.Contains(msg, "SASL"):
		return "authentication failed"
	case strings.Contains(msg, "timeout"):
		return "connection timed out"
	case strings.Contains(msg, "connect"):
		return "server unreachable"
	default:
		return "database error"
	}
}

var logLevels = map[string]logger.LogLevel{
	"silent": logger.Silent,
	"error":  logger.Error,
	"warn":   logger.Warn,
	"info":   logger.Info,
}

// ParseLogLevel maps a DB_LOG_LEVEL string to a GORM log level, defaulting
// to warn for anything unrecognized.
func ParseLogLevel(levelStr string) logger.LogLevel {
	if lvl, ok := logLevels[strings.ToLower(levelStr)]; ok {
		return lvl
	}
	return logger.Warn
}

// MigrateModels runs GORM auto-migration for the given models.
func MigrateModels(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	zap.S().Info("database migration completed")
	return nil
}
