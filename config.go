package lightcluster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gekko3d/lightcluster/clusterrt/rt/cluster"
	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"gopkg.in/yaml.v3"
)

type ShadowType string

const (
	ShadowPCF       ShadowType = "pcf"
	ShadowHardDepth ShadowType = "hard-depth"
	ShadowVSM       ShadowType = "vsm"
)

// VSM reports whether shadows store depth moments instead of plain depth.
func (t ShadowType) VSM() bool { return t == ShadowVSM }

type ClusterResolution struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	Z int `yaml:"z"`
}

// Config is the lighting configuration. It replaces per-process toggles and is
// handed to New, or swapped between frames with SetConfig.
type Config struct {
	MaxSpotLights  int `yaml:"max_spot_lights"`
	MaxPointLights int `yaml:"max_point_lights"`

	ShadowsEnabled    bool       `yaml:"shadows_enabled"`
	ShadowResolution  uint32     `yaml:"shadow_resolution"`
	ShadowType        ShadowType `yaml:"shadow_type"`
	ForceShadowUpdate bool       `yaml:"force_shadow_update"`

	ClusteringEnabled  bool              `yaml:"clustering_enabled"`
	ClusteringListMode bool              `yaml:"clustering_list_mode"`
	ClusteringForceCPU bool              `yaml:"clustering_force_cpu"`
	ClusterResolution  ClusterResolution `yaml:"cluster_resolution"`

	DeferredStencilCulling bool `yaml:"deferred_stencil_culling"`
	WorkerCount            int  `yaml:"worker_count"`
	Debug                  bool `yaml:"debug"`
}

func DefaultConfig() Config {
	return Config{
		MaxSpotLights:          core.MaxLights,
		MaxPointLights:         core.MaxLights,
		ShadowsEnabled:         true,
		ShadowResolution:       512,
		ShadowType:             ShadowPCF,
		ClusteringEnabled:      true,
		ClusterResolution:      ClusterResolution{X: 64, Y: 32, Z: 16},
		DeferredStencilCulling: true,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxSpotLights < 0 || c.MaxSpotLights > core.MaxLights {
		errs = append(errs, fmt.Errorf("max_spot_lights %d outside [0, %d]", c.MaxSpotLights, core.MaxLights))
	}
	if c.MaxPointLights < 0 || c.MaxPointLights > core.MaxLights {
		errs = append(errs, fmt.Errorf("max_point_lights %d outside [0, %d]", c.MaxPointLights, core.MaxLights))
	}
	if r := c.ShadowResolution; r < 16 || r&(r-1) != 0 {
		errs = append(errs, fmt.Errorf("shadow_resolution %d is not a power of two >= 16", r))
	}
	switch c.ShadowType {
	case ShadowPCF, ShadowHardDepth, ShadowVSM:
	default:
		errs = append(errs, fmt.Errorf("unknown shadow_type %q", c.ShadowType))
	}
	if c.WorkerCount < 0 {
		errs = append(errs, fmt.Errorf("worker_count %d is negative", c.WorkerCount))
	}
	if err := c.ClusterOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ClusterOptions maps the clustering settings onto the grid builder.
func (c Config) ClusterOptions() cluster.Options {
	return cluster.Options{
		ResX:     c.ClusterResolution.X,
		ResY:     c.ClusterResolution.Y,
		ResZ:     c.ClusterResolution.Z,
		ListMode: c.ClusteringListMode,
		ForceCPU: c.ClusteringForceCPU,
		Workers:  c.WorkerCount,
	}
}

// ParseConfig decodes YAML over DefaultConfig. Unknown keys are rejected.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseConfig(bytes.NewReader(data))
}

// Option modifies a Config built by NewConfig.
type Option func(*Config)

func WithMaxSpotLights(n int) Option {
	return func(c *Config) { c.MaxSpotLights = n }
}

func WithMaxPointLights(n int) Option {
	return func(c *Config) { c.MaxPointLights = n }
}

func WithShadows(enabled bool) Option {
	return func(c *Config) { c.ShadowsEnabled = enabled }
}

func WithShadowResolution(res uint32) Option {
	return func(c *Config) { c.ShadowResolution = res }
}

func WithShadowType(t ShadowType) Option {
	return func(c *Config) { c.ShadowType = t }
}

func WithForceShadowUpdate(force bool) Option {
	return func(c *Config) { c.ForceShadowUpdate = force }
}

func WithClustering(enabled bool) Option {
	return func(c *Config) { c.ClusteringEnabled = enabled }
}

// WithClusterListMode selects list mode, which is built on the CPU.
func WithClusterListMode(list bool) Option {
	return func(c *Config) { c.ClusteringListMode = list }
}

func WithClusterForceCPU(cpu bool) Option {
	return func(c *Config) { c.ClusteringForceCPU = cpu }
}

func WithClusterResolution(x, y, z int) Option {
	return func(c *Config) { c.ClusterResolution = ClusterResolution{X: x, Y: y, Z: z} }
}

func WithDeferredStencilCulling(enabled bool) Option {
	return func(c *Config) { c.DeferredStencilCulling = enabled }
}

func WithWorkerCount(n int) Option {
	return func(c *Config) { c.WorkerCount = n }
}

func WithDebug(debug bool) Option {
	return func(c *Config) { c.Debug = debug }
}

// NewConfig applies opts over DefaultConfig and validates the result.
func NewConfig(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
