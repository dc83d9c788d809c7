// Package config loads the simulator configuration from a YAML file and
// INCIDENTSIM_* environment variables, and reloads it when the file changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/incident-simulator/core"
	"github.com/signalsfoundry/incident-simulator/internal/observability"
	"github.com/signalsfoundry/incident-simulator/model"
)

// EnvPrefix is prepended to every environment override, e.g.
// INCIDENTSIM_ROUTING_API_KEY for routing.api_key.
const EnvPrefix = "INCIDENTSIM"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SimulationConfig controls where incidents appear and how fast units move.
type SimulationConfig struct {
	CenterLat        float64       `mapstructure:"center_lat"`
	CenterLon        float64       `mapstructure:"center_lon"`
	RadiusMeters     float64       `mapstructure:"radius_meters"`
	RestrictToBounds bool          `mapstructure:"restrict_to_bounds"`
	SpawnPeriod      time.Duration `mapstructure:"spawn_period"`
	StepInterval     time.Duration `mapstructure:"step_interval"`
	Tick             time.Duration `mapstructure:"tick"`
	Mode             string        `mapstructure:"mode"` // realtime | accelerated
	History          int           `mapstructure:"history"`
	Seed             int64         `mapstructure:"seed"`
}

// Center returns the spawn center as a GeoPoint.
func (s SimulationConfig) Center() model.GeoPoint {
	return model.GeoPoint{Lat: s.CenterLat, Lon: s.CenterLon}
}

type RoutingConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Profile string `mapstructure:"profile"`
	// Timeout bounds each provider request; zero leaves requests unbounded.
	Timeout time.Duration `mapstructure:"timeout"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`
}

// AppConfig holds the entire configuration.
type AppConfig struct {
	Log        LogConfig                   `mapstructure:"log"`
	Simulation SimulationConfig            `mapstructure:"simulation"`
	Routing    RoutingConfig               `mapstructure:"routing"`
	Catalog    CatalogConfig               `mapstructure:"catalog"`
	Server     ServerConfig                `mapstructure:"server"`
	Tracing    observability.TracingConfig `mapstructure:"tracing"`
}

// Validate reports the first problem found in c.
func (c AppConfig) Validate() error {
	s := c.Simulation
	if err := s.Center().Validate(); err != nil {
		return fmt.Errorf("%w: simulation center: %v", ErrInvalidConfig, err)
	}
	if s.RadiusMeters < 0 {
		return fmt.Errorf("%w: simulation.radius_meters must not be negative", ErrInvalidConfig)
	}
	if s.SpawnPeriod <= 0 {
		return fmt.Errorf("%w: simulation.spawn_period must be positive", ErrInvalidConfig)
	}
	if s.StepInterval <= 0 {
		return fmt.Errorf("%w: simulation.step_interval must be positive", ErrInvalidConfig)
	}
	if s.Tick <= 0 {
		return fmt.Errorf("%w: simulation.tick must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(s.Mode) {
	case "realtime", "accelerated":
	default:
		return fmt.Errorf("%w: simulation.mode %q", ErrInvalidConfig, s.Mode)
	}
	if c.Routing.BaseURL == "" {
		return fmt.Errorf("%w: routing.base_url is required", ErrInvalidConfig)
	}
	if c.Routing.Timeout < 0 {
		return fmt.Errorf("%w: routing.timeout must not be negative", ErrInvalidConfig)
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("%w: catalog.path is required", ErrInvalidConfig)
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio %v outside [0,1]", ErrInvalidConfig, r)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("simulation.center_lat", core.TimisoaraCenter.Lat)
	v.SetDefault("simulation.center_lon", core.TimisoaraCenter.Lon)
	v.SetDefault("simulation.radius_meters", 6000.0)
	v.SetDefault("simulation.restrict_to_bounds", true)
	v.SetDefault("simulation.spawn_period", 6*time.Second)
	v.SetDefault("simulation.step_interval", 100*time.Millisecond)
	v.SetDefault("simulation.tick", 50*time.Millisecond)
	v.SetDefault("simulation.mode", "realtime")
	v.SetDefault("simulation.history", 64)
	v.SetDefault("simulation.seed", int64(0))

	v.SetDefault("routing.base_url", "https://api.openrouteservice.org")
	v.SetDefault("routing.api_key", "")
	v.SetDefault("routing.profile", "driving-car")
	v.SetDefault("routing.timeout", time.Duration(0))

	v.SetDefault("catalog.path", "configs/facilities.json")

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":50051")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", observability.DefaultServiceName)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Loader owns a viper instance and the last valid configuration it produced.
type Loader struct {
	v *viper.Viper

	mu       sync.RWMutex
	current  AppConfig
	onChange []func(AppConfig)
	onError  func(error)
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path uses defaults and the
// environment only.
func Load(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, current: cfg}, nil
}

func decode(v *viper.Viper) (AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Current returns the last valid configuration.
func (l *Loader) Current() AppConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers fn to receive every valid reloaded configuration.
func (l *Loader) OnChange(fn func(AppConfig)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// OnError registers fn to receive reload failures. The previous
// configuration stays in effect when a reload fails.
func (l *Loader) OnError(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = fn
}

// Watch starts watching the config file. It is a no-op when Load was given
// no file.
func (l *Loader) Watch() {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(l.handleChange)
	l.v.WatchConfig()
}

func (l *Loader) handleChange(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	cfg, err := decode(l.v)

	l.mu.Lock()
	if err != nil {
		onError := l.onError
		l.mu.Unlock()
		if onError != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
		}
		return
	}
	l.current = cfg
	listeners := append([]func(AppConfig){}, l.onChange...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// Bounds returns the city bounds incidents must fall inside, or the zero
// Bounds when the restriction is disabled.
func (s SimulationConfig) Bounds() core.Bounds {
	if !s.RestrictToBounds {
		return core.Bounds{}
	}
	return core.TimisoaraBounds
}
