package web

import (
	"fmt"

	"github.com/catastro-enricher/internal/config"
	"github.com/catastro-enricher/internal/geojson"
)

// Config represents the web server configuration
type Config struct {
	Host        string
	Port        int
	MaxUploadMB int64
	APIKey      string // empty disables the key check

	MergeOptions geojson.Options
	YearOptions  geojson.Options
}

// Addr returns host:port
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MaxUploadBytes returns the upload limit in bytes
func (c Config) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 32 << 20
	}
	return c.MaxUploadMB << 20
}

// FromConfig derives the server settings from the application configuration
func FromConfig(cfg *config.Config) Config {
	merge := geojson.MergeOptions()
	merge.RefCatKey = cfg.GeoJSON.RefCatKey
	merge.YearKey = cfg.GeoJSON.YearKey
	merge.StreetKey = cfg.GeoJSON.StreetKey

	years := geojson.YearOnlyOptions()
	years.RefCatKey = cfg.GeoJSON.RefCatKey
	years.YearKey = cfg.GeoJSON.YearKey

	return Config{
		Host:         cfg.Web.Host,
		Port:         cfg.Web.Port,
		MaxUploadMB:  cfg.Web.MaxUploadMB,
		APIKey:       cfg.Web.APIKey,
		MergeOptions: merge,
		YearOptions:  years,
	}
}
