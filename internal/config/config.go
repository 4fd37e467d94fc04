// Package config loads cnpj-geocoder settings from config.yaml, a .env file,
// and GEOCODER_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/cnpj-geocoder/internal/address"
	"github.com/sells-group/cnpj-geocoder/internal/export"
	"github.com/sells-group/cnpj-geocoder/internal/model"
	"github.com/sells-group/cnpj-geocoder/internal/resilience"
	"github.com/sells-group/cnpj-geocoder/pkg/geocode"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Fields    model.FieldMap  `yaml:"fields" mapstructure:"fields"`
	Input     InputConfig     `yaml:"input" mapstructure:"input"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
}

// ProvidersConfig lists the geocoding providers in priority order.
type ProvidersConfig struct {
	Order     []string         `yaml:"order" mapstructure:"order"`
	Nominatim geocode.Endpoint `yaml:"nominatim" mapstructure:"nominatim"`
	Photon    geocode.Endpoint `yaml:"photon" mapstructure:"photon"`
	ArcGIS    geocode.Endpoint `yaml:"arcgis" mapstructure:"arcgis"`
}

// Endpoints returns the per-provider settings keyed by provider name.
func (p ProvidersConfig) Endpoints() map[string]geocode.Endpoint {
	return map[string]geocode.Endpoint{
		geocode.ProviderNominatim: p.Nominatim,
		geocode.ProviderPhoton:    p.Photon,
		geocode.ProviderArcGIS:    p.ArcGIS,
	}
}

// GeocodeConfig controls the resolution pipeline.
type GeocodeConfig struct {
	TimeoutSecs    int            `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateIntervalMS int            `yaml:"rate_interval_ms" mapstructure:"rate_interval_ms"`
	Workers        int            `yaml:"workers" mapstructure:"workers"`
	Memoize        bool           `yaml:"memoize" mapstructure:"memoize"`
	CountryCode    string         `yaml:"country_code" mapstructure:"country_code"`
	Bounds         geocode.Bounds `yaml:"bounds" mapstructure:"bounds"`
	BoundsEnabled  bool           `yaml:"bounds_enabled" mapstructure:"bounds_enabled"`
	Suffix         string         `yaml:"suffix" mapstructure:"suffix"`
	Sentinels      []string       `yaml:"sentinels" mapstructure:"sentinels"`
}

// Timeout is the per-request timeout.
func (g GeocodeConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSecs) * time.Second
}

// RateInterval is the minimum spacing between provider requests.
func (g GeocodeConfig) RateInterval() time.Duration {
	return time.Duration(g.RateIntervalMS) * time.Millisecond
}

// RetryConfig configures retries of transient provider failures.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Policy converts the settings to a resilience.RetryConfig.
func (r RetryConfig) Policy() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: time.Duration(r.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(r.MaxBackoffMS) * time.Millisecond,
		Multiplier:     r.Multiplier,
		JitterFraction: r.JitterFraction,
	}
}

// CircuitConfig configures the per-provider circuit breakers.
type CircuitConfig struct {
	Enabled          bool `yaml:"enabled" mapstructure:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int  `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Breaker converts the settings to a resilience.CircuitBreakerConfig.
func (c CircuitConfig) Breaker() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return cfg
}

// InputConfig tunes how input files are read.
type InputConfig struct {
	SheetName  string `yaml:"sheet_name" mapstructure:"sheet_name"`
	SheetIndex int    `yaml:"sheet_index" mapstructure:"sheet_index"`
	Delimiter  string `yaml:"delimiter" mapstructure:"delimiter"`
}

// ExportConfig selects output formats and destinations.
type ExportConfig struct {
	Dir           string   `yaml:"dir" mapstructure:"dir"`
	Formats       []string `yaml:"formats" mapstructure:"formats"`
	PostgresURL   string   `yaml:"postgres_url" mapstructure:"postgres_url"`
	PostgresTable string   `yaml:"postgres_table" mapstructure:"postgres_table"`
}

// ServerConfig configures the HTTP upload API.
type ServerConfig struct {
	Port        int `yaml:"port" mapstructure:"port"`
	MaxUploadMB int `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. A .env file in the
// working directory is applied first; variables already set win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOCODER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("providers.order", geocode.DefaultOrder)
	v.SetDefault("providers.nominatim.base_url", geocode.DefaultNominatimURL)
	v.SetDefault("providers.nominatim.user_agent", "cnpj-geocoder/1.0")
	v.SetDefault("providers.nominatim.min_score", 0)
	v.SetDefault("providers.photon.base_url", geocode.DefaultPhotonURL)
	v.SetDefault("providers.photon.user_agent", "")
	v.SetDefault("providers.photon.min_score", 0)
	v.SetDefault("providers.arcgis.base_url", geocode.DefaultArcGISURL)
	v.SetDefault("providers.arcgis.user_agent", "")
	v.SetDefault("providers.arcgis.min_score", 0)

	v.SetDefault("geocode.timeout_secs", 30)
	v.SetDefault("geocode.rate_interval_ms", 1000)
	v.SetDefault("geocode.workers", 1)
	v.SetDefault("geocode.memoize", true)
	v.SetDefault("geocode.country_code", "br")
	v.SetDefault("geocode.bounds.min_lat", geocode.EspiritoSanto.MinLat)
	v.SetDefault("geocode.bounds.max_lat", geocode.EspiritoSanto.MaxLat)
	v.SetDefault("geocode.bounds.min_lon", geocode.EspiritoSanto.MinLon)
	v.SetDefault("geocode.bounds.max_lon", geocode.EspiritoSanto.MaxLon)
	v.SetDefault("geocode.bounds_enabled", true)
	v.SetDefault("geocode.suffix", address.DefaultSuffix)
	v.SetDefault("geocode.sentinels", []string{"S/N", "SN"})

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 8000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.0)

	v.SetDefault("circuit.enabled", true)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)

	fields := model.DefaultFieldMap()
	v.SetDefault("fields.id", fields.ID)
	v.SetDefault("fields.municipality", fields.Municipality)
	v.SetDefault("fields.street_type", fields.StreetType)
	v.SetDefault("fields.street_name", fields.StreetName)
	v.SetDefault("fields.number", fields.Number)
	v.SetDefault("fields.complement", fields.Complement)
	v.SetDefault("fields.postal_code", fields.PostalCode)

	v.SetDefault("input.sheet_name", "")
	v.SetDefault("input.sheet_index", 0)
	v.SetDefault("input.delimiter", "")

	v.SetDefault("export.dir", "output")
	v.SetDefault("export.formats", []string{"csv", "geojson", "shapefile"})
	v.SetDefault("export.postgres_url", "")
	v.SetDefault("export.postgres_table", export.DefaultPostgresTable)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 50)
}

// ProviderOptions returns the options shared by every provider client.
func (c *Config) ProviderOptions() []geocode.Option {
	opts := []geocode.Option{geocode.WithCountryCode(c.Geocode.CountryCode)}
	if c.Geocode.BoundsEnabled {
		opts = append(opts, geocode.WithBounds(c.Geocode.Bounds))
	}
	return opts
}

// Validate checks settings that would otherwise fail mid-run. Every error
// wraps resilience.ErrFatalConfig.
func (c *Config) Validate() error {
	if _, err := geocode.NewProviders(c.Providers.Order, c.Providers.Endpoints(), c.ProviderOptions()...); err != nil {
		return eris.Wrap(err, "config: providers")
	}
	if c.Geocode.Workers < 1 {
		return resilience.FatalConfig("config: geocode.workers must be at least 1, got %d", c.Geocode.Workers)
	}
	if c.Geocode.TimeoutSecs < 1 {
		return resilience.FatalConfig("config: geocode.timeout_secs must be positive, got %d", c.Geocode.TimeoutSecs)
	}
	if c.Geocode.RateIntervalMS < 0 {
		return resilience.FatalConfig("config: geocode.rate_interval_ms must not be negative, got %d", c.Geocode.RateIntervalMS)
	}
	if c.Retry.MaxAttempts < 1 {
		return resilience.FatalConfig("config: retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return resilience.FatalConfig("config: retry.jitter_fraction must be within [0, 1], got %g", c.Retry.JitterFraction)
	}
	if len([]rune(c.Input.Delimiter)) > 1 {
		return resilience.FatalConfig("config: input.delimiter must be a single character, got %q", c.Input.Delimiter)
	}
	formats, err := export.ParseFormats(c.Export.Formats)
	if err != nil {
		return resilience.FatalConfig("config: %v", err)
	}
	for _, f := range formats {
		if f == export.FormatPostgres && c.Export.PostgresURL == "" {
			return resilience.FatalConfig("config: export.postgres_url is required for the postgres format")
		}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return resilience.FatalConfig("config: server.port must be within 1-65535, got %d", c.Server.Port)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return resilience.FatalConfig("config: log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// DelimiterRune returns the configured CSV delimiter, or zero to sniff it.
func (i InputConfig) DelimiterRune() rune {
	for _, r := range i.Delimiter {
		return r
	}
	return 0
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
