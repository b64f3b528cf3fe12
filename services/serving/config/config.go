// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the serving service configuration.
//
// Configuration comes from a YAML file, with BELLWETHER_* environment
// variables layered on top so container deployments can override single
// knobs without templating the file. A missing file is not an error; the
// service starts from defaults plus environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the service looks for its configuration when the
// BELLWETHER_CONFIG variable is unset.
const DefaultPath = "/etc/bellwether/serving.yaml"

var configValidate = validator.New()

// =============================================================================
// Sections
// =============================================================================

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	// Port serves the prediction API.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// MetricsPort serves /metrics on a separate listener so the scrape
	// endpoint never competes with prediction traffic and never needs a
	// credential.
	MetricsPort int `yaml:"metrics_port" validate:"min=1,max=65535"`

	// ShutdownGrace bounds how long in-flight requests get to finish on
	// SIGTERM.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format is json or text.
	Format string `yaml:"format" validate:"oneof=json text"`
}

// DriftConfig tunes the monitoring pipeline.
type DriftConfig struct {
	// Enabled toggles drift monitoring. Serving works either way.
	Enabled bool `yaml:"enabled"`

	// BufferThreshold is the rolling buffer capacity; a full buffer
	// schedules an analysis pass.
	BufferThreshold int `yaml:"buffer_threshold" validate:"min=1"`

	// MinBatch is the smallest batch worth analyzing. Forced passes over
	// fewer observations are skipped.
	MinBatch int `yaml:"min_batch" validate:"min=1"`

	// Comparator is the per-field distance: ks or psi.
	Comparator string `yaml:"comparator" validate:"oneof=ks psi"`

	// FieldThreshold marks a single field drifted.
	FieldThreshold float64 `yaml:"field_threshold" validate:"gt=0,lte=1"`

	// SevereFieldThreshold escalates one separated field to a dataset
	// verdict.
	SevereFieldThreshold float64 `yaml:"severe_field_threshold" validate:"gt=0,lte=1"`

	// DatasetThreshold is the drifted-field fraction that flags the
	// dataset.
	DatasetThreshold float64 `yaml:"dataset_threshold" validate:"gt=0,lte=1"`

	// ReferencePath is the frozen training-distribution snapshot.
	ReferencePath string `yaml:"reference_path" validate:"required"`

	// HistorySize bounds the retained verdict ring.
	HistorySize int `yaml:"history_size" validate:"min=1"`

	// HeartbeatInterval is the monitor's housekeeping tick.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// RegistryConfig points at the model registry.
type RegistryConfig struct {
	// Type is fs or gcs.
	Type string `yaml:"type" validate:"oneof=fs gcs"`

	// Root is the filesystem registry directory. Required for type fs.
	Root string `yaml:"root" validate:"required_if=Type fs"`

	// Bucket, Prefix, CacheDir, CredentialsFile configure the GCS
	// registry. Bucket and CacheDir are required for type gcs.
	Bucket          string `yaml:"bucket" validate:"required_if=Type gcs"`
	Prefix          string `yaml:"prefix"`
	CacheDir        string `yaml:"cache_dir" validate:"required_if=Type gcs"`
	CredentialsFile string `yaml:"credentials_file"`

	// ChampionAlias must resolve at startup; failure is fatal.
	ChampionAlias string `yaml:"champion_alias" validate:"required,modelalias"`

	// ChallengerAlias is optional. When set but unresolvable the service
	// starts with split routing disabled.
	ChallengerAlias string `yaml:"challenger_alias" validate:"omitempty,modelalias"`
}

// RoutingConfig sets the initial champion/challenger split.
type RoutingConfig struct {
	// TrafficSplit is the challenger probability; the champion receives
	// the remainder.
	TrafficSplit float64 `yaml:"traffic_split" validate:"gte=0,lte=1"`

	// Enabled toggles split routing without losing the ratio.
	Enabled bool `yaml:"enabled"`
}

// AuthConfig holds the static API keys. Empty keys switch the service to
// the unauthenticated local-operator mode.
type AuthConfig struct {
	// StandardKey grants prediction and read-only monitoring calls.
	StandardKey string `yaml:"standard_key"`

	// PrivilegedKey additionally grants reload, unload, split changes,
	// and forced analysis.
	PrivilegedKey string `yaml:"privileged_key"`
}

// RateLimitConfig bounds the administrative endpoints.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gt=0"`
	Burst int     `yaml:"burst" validate:"min=1"`
}

// StorageConfig locates the prediction log.
type StorageConfig struct {
	// Path is the BadgerDB directory. InMemory ignores it.
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`

	// Retention expires logged predictions. 0 keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// SinkConfig points at the external metrics sink. An empty URL selects the
// no-op sink.
type SinkConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// TelemetryConfig feeds the telemetry bootstrap.
type TelemetryConfig struct {
	// TraceExporter is otlp, stdout, or none.
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`

	// MetricExporter is prometheus, stdout, or none.
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Environment  string `yaml:"environment"`
}

// Config is the full serving service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Drift     DriftConfig     `yaml:"drift"`
	Registry  RegistryConfig  `yaml:"registry"`
	Routing   RoutingConfig   `yaml:"routing"`
	Auth      AuthConfig      `yaml:"auth"`
	AdminRate RateLimitConfig `yaml:"admin_rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Sink      SinkConfig      `yaml:"sink"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// =============================================================================
// Defaults and Loading
// =============================================================================

func init() {
	// Registry aliases follow the same naming rules the request payloads
	// enforce: short, lowercase, dash-separated.
	if err := configValidate.RegisterValidation("modelalias", validAlias); err != nil {
		panic(fmt.Sprintf("config: register modelalias validator: %v", err))
	}
}

// validAlias accepts registry alias names: 1-64 chars of [a-z0-9._-],
// starting with an alphanumeric.
func validAlias(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) == 0 || len(s) > 64 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case i > 0 && (r == '-' || r == '_' || r == '.'):
		default:
			return false
		}
	}
	return true
}

// Default returns the development configuration: filesystem registry under
// ./registry, drift monitoring on, no authentication, no external sink.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:          12310,
			MetricsPort:   12311,
			ShutdownGrace: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Drift: DriftConfig{
			Enabled:              true,
			BufferThreshold:      100,
			MinBatch:             10,
			Comparator:           "ks",
			FieldThreshold:       0.15,
			SevereFieldThreshold: 0.5,
			DatasetThreshold:     0.3,
			ReferencePath:        "registry/reference.yaml",
			HistorySize:          64,
			HeartbeatInterval:    30 * time.Second,
		},
		Registry: RegistryConfig{
			Type:          "fs",
			Root:          "registry",
			ChampionAlias: "champion",
		},
		Routing:   RoutingConfig{TrafficSplit: 0.1, Enabled: false},
		AdminRate: RateLimitConfig{RPS: 1, Burst: 3},
		Storage:   StorageConfig{Path: "data/predlog", Retention: 30 * 24 * time.Hour},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
			OTLPInsecure:   true,
			Environment:    "development",
		},
	}
}

// Load reads the configuration file, layers environment overrides on top,
// and validates the result.
//
// # Description
//
// An empty path falls back to BELLWETHER_CONFIG, then DefaultPath. A file
// that does not exist is skipped silently; any other read or parse failure
// is returned. Validation failures name the offending field.
func Load(path string) (Config, error) {
	if path == "" {
		path = envOr("BELLWETHER_CONFIG", DefaultPath)
	}

	cfg := Default()
	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment.
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section. Errors name the failing field.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Drift.MinBatch > c.Drift.BufferThreshold {
		return fmt.Errorf("invalid config: drift.min_batch %d exceeds drift.buffer_threshold %d",
			c.Drift.MinBatch, c.Drift.BufferThreshold)
	}
	if c.Drift.SevereFieldThreshold < c.Drift.FieldThreshold {
		return fmt.Errorf("invalid config: drift.severe_field_threshold %g below drift.field_threshold %g",
			c.Drift.SevereFieldThreshold, c.Drift.FieldThreshold)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("invalid config: storage.path required unless storage.in_memory")
	}
	return nil
}

// applyEnv layers BELLWETHER_* variables over the file values. Only the
// knobs deployments commonly override per environment are exposed.
func (c *Config) applyEnv() {
	setInt(&c.Server.Port, "BELLWETHER_PORT")
	setInt(&c.Server.MetricsPort, "BELLWETHER_METRICS_PORT")
	setString(&c.Logging.Level, "BELLWETHER_LOG_LEVEL")

	setBool(&c.Drift.Enabled, "BELLWETHER_DRIFT_ENABLED")
	setInt(&c.Drift.BufferThreshold, "BELLWETHER_DRIFT_BUFFER_THRESHOLD")
	setInt(&c.Drift.MinBatch, "BELLWETHER_DRIFT_MIN_BATCH")
	setString(&c.Drift.ReferencePath, "BELLWETHER_REFERENCE_PATH")

	setString(&c.Registry.Type, "BELLWETHER_REGISTRY_TYPE")
	setString(&c.Registry.Root, "BELLWETHER_REGISTRY_ROOT")
	setString(&c.Registry.Bucket, "BELLWETHER_REGISTRY_BUCKET")
	setString(&c.Registry.ChampionAlias, "BELLWETHER_CHAMPION_ALIAS")
	setString(&c.Registry.ChallengerAlias, "BELLWETHER_CHALLENGER_ALIAS")

	setFloat(&c.Routing.TrafficSplit, "BELLWETHER_AB_TRAFFIC_SPLIT")
	setBool(&c.Routing.Enabled, "BELLWETHER_AB_ENABLED")

	setString(&c.Auth.StandardKey, "BELLWETHER_API_KEY")
	setString(&c.Auth.PrivilegedKey, "BELLWETHER_ADMIN_API_KEY")

	setString(&c.Storage.Path, "BELLWETHER_PREDLOG_PATH")

	setString(&c.Sink.URL, "BELLWETHER_INFLUX_URL")
	setString(&c.Sink.Token, "BELLWETHER_INFLUX_TOKEN")
	setString(&c.Sink.Org, "BELLWETHER_INFLUX_ORG")
	setString(&c.Sink.Bucket, "BELLWETHER_INFLUX_BUCKET")

	setString(&c.Telemetry.TraceExporter, "OTEL_TRACES_EXPORTER")
	setString(&c.Telemetry.MetricExporter, "OTEL_METRICS_EXPORTER")
	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Telemetry.Environment, "BELLWETHER_ENV")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
