// Package config handles configuration loading for cvmratios.
// It supports YAML config files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/seenimoa/cvmratios/internal/analysis/indicators"
)

// EnvPrefix prefixes every environment override, e.g. CVMRATIOS_RULES_WACC.
const EnvPrefix = "CVMRATIOS"

// Config represents the complete application configuration.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine" json:"engine" yaml:"engine"`
	Rules    RulesConfig    `mapstructure:"rules" json:"rules" yaml:"rules"`
	Input    InputConfig    `mapstructure:"input" json:"input" yaml:"input"`
	Output   OutputConfig   `mapstructure:"output" json:"output" yaml:"output"`
	API      APIConfig      `mapstructure:"api" json:"api" yaml:"api"`
	Database DatabaseConfig `mapstructure:"database" json:"database" yaml:"database"`
	Logging  LoggingConfig  `mapstructure:"logging" json:"logging" yaml:"logging"`
}

// EngineConfig holds derivation engine settings.
type EngineConfig struct {
	Workers   int     `mapstructure:"workers" json:"workers" yaml:"workers" validate:"gte=0"`       // 0 = one per CPU
	Tolerance float64 `mapstructure:"tolerance" json:"tolerance" yaml:"tolerance" validate:"gte=0"` // economic-profit reconciliation
}

// RulesConfig selects the formula variants.
type RulesConfig struct {
	Averaging      string `mapstructure:"averaging" json:"averaging" yaml:"averaging"`                   // "asymmetric", "zero-fill", "null-propagate"
	WACC           string `mapstructure:"wacc" json:"wacc" yaml:"wacc"`                                  // "capital-weighted", "structure-weighted"
	EconomicProfit string `mapstructure:"economic_profit" json:"economic_profit" yaml:"economic_profit"` // "capital-charge", "cash-charge"
}

// InputConfig locates the raw data.
type InputConfig struct {
	Panel    string   `mapstructure:"panel" json:"panel" yaml:"panel"`          // .xlsx or .csv workbook
	Extracts []string `mapstructure:"extracts" json:"extracts" yaml:"extracts"` // DFP extract files (csv / html)
	Mapping  string   `mapstructure:"mapping" json:"mapping" yaml:"mapping"`    // YAML or TOML account mapping; empty = built-in

	// Companies is the CVM registry (cad_cia_aberta.csv, path or URL) used
	// to attach tickers and sectors to assembled extracts.
	Companies string `mapstructure:"companies" json:"companies" yaml:"companies"`
}

// OutputConfig controls where derived panels are written.
type OutputConfig struct {
	Path   string `mapstructure:"path" json:"path" yaml:"path"` // "-" = stdout
	Format string `mapstructure:"format" json:"format" yaml:"format" validate:"oneof=json csv"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host" json:"host" yaml:"host"`
	Port        int      `mapstructure:"port" json:"port" yaml:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins" yaml:"cors_origins"`
	CacheTTL    int      `mapstructure:"cache_ttl" json:"cache_ttl" yaml:"cache_ttl" validate:"gte=0"`    // seconds
	RateLimit   int      `mapstructure:"rate_limit" json:"rate_limit" yaml:"rate_limit" validate:"gte=0"` // requests per second, 0 = unlimited

	// Watch reloads the panel when the input file changes; Refresh is a cron
	// spec (e.g. "@daily") for re-reading remote sources. Clients are told
	// about reloads over /api/v1/ws.
	Watch   bool   `mapstructure:"watch" json:"watch" yaml:"watch"`
	Refresh string `mapstructure:"refresh" json:"refresh" yaml:"refresh"`
}

// DatabaseConfig holds the optional Postgres connection.
type DatabaseConfig struct {
	URL string `mapstructure:"url" json:"-" yaml:"url"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" json:"format" yaml:"format" validate:"oneof=text json"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.cvmratios/config.yaml (home directory)
//  3. /etc/cvmratios/config.yaml (system)
//
// A .env file in the working directory is loaded into the environment first.
// Environment variables override config file values.
// Format: CVMRATIOS_<SECTION>_<KEY>, e.g., CVMRATIOS_RULES_AVERAGING
func Load() (*Config, error) {
	loadDotEnv(".env")

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".cvmratios"))
	v.AddConfigPath("/etc/cvmratios")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	def := indicators.DefaultRules()

	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.tolerance", def.Tolerance)

	v.SetDefault("rules.averaging", string(def.Averaging))
	v.SetDefault("rules.wacc", string(def.WACC))
	v.SetDefault("rules.economic_profit", string(def.EconomicProfit))

	v.SetDefault("input.panel", "data_frame.xlsx")
	v.SetDefault("input.extracts", []string{})
	v.SetDefault("input.mapping", "")
	v.SetDefault("input.companies", "")

	v.SetDefault("output.path", "-")
	v.SetDefault("output.format", "json")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.cache_ttl", 300) // 5 minutes
	v.SetDefault("api.rate_limit", 50)
	v.SetDefault("api.watch", false)
	v.SetDefault("api.refresh", "")

	v.SetDefault("database.url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv falls back to the conventional DATABASE_URL variable.
func overrideFromEnv(cfg *Config) {
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
}

// loadDotEnv loads path into the process environment when it exists.
// Variables already set win over the file.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// IndicatorRules returns the engine rule set selected by the configuration.
func (c *Config) IndicatorRules() indicators.Rules {
	return indicators.Rules{
		Averaging:      indicators.AveragingPolicy(c.Rules.Averaging),
		WACC:           indicators.WACCMethod(c.Rules.WACC),
		EconomicProfit: indicators.EconomicProfitMethod(c.Rules.EconomicProfit),
		Tolerance:      c.Engine.Tolerance,
	}
}

// CacheTTL returns the API cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.API.CacheTTL) * time.Second
}

// validate checks the `validate` struct tags. Field errors are reported
// under their config keys, e.g. "api.port".
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		return name
	})
	return v
}()

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.IndicatorRules().Validate(); err != nil {
		errs = append(errs, err)
	}

	err := validate.Struct(c)
	var fieldErrs validator.ValidationErrors
	switch {
	case err == nil:
	case errors.As(err, &fieldErrs):
		for _, fe := range fieldErrs {
			errs = append(errs, fieldError(fe))
		}
	default:
		errs = append(errs, err)
	}

	if c.API.Refresh != "" {
		if _, err := cron.ParseStandard(c.API.Refresh); err != nil {
			errs = append(errs, fmt.Errorf("api.refresh: invalid cron spec %q: %w", c.API.Refresh, err))
		}
	}
	return errors.Join(errs...)
}

func fieldError(fe validator.FieldError) error {
	key := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", key, fe.Param(), fe.Value())
	case "gte", "min":
		return fmt.Errorf("%s must be >= %s, got %v", key, fe.Param(), fe.Value())
	case "max":
		return fmt.Errorf("%s must be <= %s, got %v", key, fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s failed %s validation", key, fe.Tag())
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
