package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration
type Config struct {
	Lookup   LookupConfig
	GeoJSON  GeoJSONConfig
	Log      LogConfig
	Web      WebConfig
	Database DatabaseConfig
}

// LookupConfig configures the remote cadastre lookup
type LookupConfig struct {
	Endpoint  string
	Param     string
	Timeout   time.Duration
	UserAgent string
	Delay     time.Duration // pause between successive remote calls
}

// GeoJSONConfig names the feature properties read and written by the merger
type GeoJSONConfig struct {
	RefCatKey string
	YearKey   string
	StreetKey string
}

// LogConfig configures the log sink
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// WebConfig configures the upload front end
type WebConfig struct {
	Host        string
	Port        int
	MaxUploadMB int64
	APIKey      string // empty leaves the processing routes open
}

// DatabaseConfig configures the optional audit store
type DatabaseConfig struct {
	URL string // empty disables auditing
}

// Addr returns host:port
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

const envPrefix = "CATASTRO"

func setDefaults(v *viper.Viper) {
	v.SetDefault("lookup.endpoint", "https://ovc.catastro.meh.es/OVCServWeb/OVCWcfCallejero/COVCCallejero.svc/json/Consulta_DNPRC")
	v.SetDefault("lookup.param", "RefCat")
	v.SetDefault("lookup.timeout", "30s")
	v.SetDefault("lookup.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("lookup.delay", "500ms")

	v.SetDefault("geojson.refcat_key", "REFCAT")
	v.SetDefault("geojson.year_key", "FECHAALTA")
	v.SetDefault("geojson.street_key", "CALLE")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "procesamiento.log")

	v.SetDefault("web.host", "localhost")
	v.SetDefault("web.port", 8080)
	v.SetDefault("web.max_upload_mb", 32)
	v.SetDefault("web.api_key", "")

	v.SetDefault("database.url", "")
}

// Load builds the configuration. Priority, highest first:
//  1. environment variables with the CATASTRO_ prefix (CATASTRO_LOOKUP_DELAY)
//  2. the config file (explicit path, or catastro.yaml in the working directory)
//  3. built-in defaults
//
// A .env file is applied to the environment before anything else is read.
func Load(configFile string) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("catastro")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Lookup: LookupConfig{
			Endpoint:  v.GetString("lookup.endpoint"),
			Param:     v.GetString("lookup.param"),
			Timeout:   v.GetDuration("lookup.timeout"),
			UserAgent: v.GetString("lookup.user_agent"),
			Delay:     v.GetDuration("lookup.delay"),
		},
		GeoJSON: GeoJSONConfig{
			RefCatKey: v.GetString("geojson.refcat_key"),
			YearKey:   v.GetString("geojson.year_key"),
			StreetKey: v.GetString("geojson.street_key"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			File:   v.GetString("log.file"),
		},
		Web: WebConfig{
			Host:        v.GetString("web.host"),
			Port:        v.GetInt("web.port"),
			MaxUploadMB: v.GetInt64("web.max_upload_mb"),
			APIKey:      v.GetString("web.api_key"),
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Lookup.Endpoint == "" {
		return errors.New("lookup.endpoint must be set")
	}
	if c.Lookup.Timeout <= 0 {
		return errors.New("lookup.timeout must be positive")
	}
	if c.Lookup.Delay < 0 {
		return errors.New("lookup.delay must not be negative")
	}
	if c.Web.MaxUploadMB <= 0 {
		return errors.New("web.max_upload_mb must be positive")
	}
	if c.GeoJSON.RefCatKey == "" {
		return errors.New("geojson.refcat_key must be set")
	}
	return nil
}
