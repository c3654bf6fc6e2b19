// Package config loads the service configuration and builds the logger.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcclellann/loanservicing/pkg/models"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Configuration holds all configuration for the loan servicing API.
type Configuration struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Servicing ServicingConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	Path string
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputFile string // optional file output
}

// ServicingConfig holds the product defaults applied to new loans and the
// interval of the background reconcile run.
type ServicingConfig struct {
	ReconcileInterval         time.Duration
	DefaultAllocationFamily   string
	DefaultInterestMethod     string
	DefaultAmortizationMethod string
}

// Defaults are the product defaults after validation.
type Defaults struct {
	AllocationFamily   models.AllocationFamily
	InterestMethod     models.InterestMethod
	AmortizationMethod models.AmortizationMethod
}

// LoadConfiguration reads the YAML file at configPath. Environment variables
// prefixed with LOANSERVICING_ override file values, e.g.
// LOANSERVICING_DATABASE_PATH.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("loanservicing")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file, %s", err)
		}
	}

	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}
	if _, err := configuration.Servicing.Defaults(); err != nil {
		return nil, err
	}
	if configuration.Servicing.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("servicing.reconcileInterval must be positive, got %s", configuration.Servicing.ReconcileInterval)
	}
	return &configuration, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("database.path", "loanservicing.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("servicing.reconcileInterval", time.Hour)
	v.SetDefault("servicing.defaultAllocationFamily", string(models.AllocationHeavensFamily))
	v.SetDefault("servicing.defaultInterestMethod", string(models.InterestDecliningBalance))
	v.SetDefault("servicing.defaultAmortizationMethod", string(models.AmortizationEqualInstallments))
}

// Defaults validates and converts the configured product defaults.
func (c ServicingConfig) Defaults() (Defaults, error) {
	family, err := models.ParseAllocationFamily(c.DefaultAllocationFamily)
	if err != nil {
		return Defaults{}, fmt.Errorf("servicing.defaultAllocationFamily: %w", err)
	}
	method, err := models.ParseInterestMethod(c.DefaultInterestMethod)
	if err != nil {
		return Defaults{}, fmt.Errorf("servicing.defaultInterestMethod: %w", err)
	}
	amort, err := models.ParseAmortizationMethod(c.DefaultAmortizationMethod)
	if err != nil {
		return Defaults{}, fmt.Errorf("servicing.defaultAmortizationMethod: %w", err)
	}
	return Defaults{AllocationFamily: family, InterestMethod: method, AmortizationMethod: amort}, nil
}

// NewLogger creates a zap logger based on configuration and CLI override
func NewLogger(loggingConfig LoggingConfig, logLevelOverride string) (*zap.Logger, error) {
	level := loggingConfig.Level
	if logLevelOverride != "" {
		level = logLevelOverride
	}
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	format := loggingConfig.Format
	if format == "" {
		format = "json"
	}

	var config zap.Config
	switch format {
	case "console":
		config = zap.NewDevelopmentConfig()
	case "json":
		config = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	if loggingConfig.OutputFile != "" {
		if dir := filepath.Dir(loggingConfig.OutputFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory %s: %v", dir, err)
			}
		}
		config.OutputPaths = []string{loggingConfig.OutputFile}
		config.ErrorOutputPaths = []string{loggingConfig.OutputFile}
	}

	return config.Build()
}
