// Package config loads the YAML run configuration shared by the analyze
// and agent commands. Absent keys keep their defaults, so an empty file
// and no file at all mean the same thing. Validation happens in two
// layers: struct tags for per-field shape, a fluent pass for rules that
// span fields.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/validation"
)

// Config is the full run configuration
type Config struct {
	Input    Input    `yaml:"input"`
	Fabric   Fabric   `yaml:"fabric"`
	Snapshot Snapshot `yaml:"snapshot"`
	Export   Export   `yaml:"export"`
	Stream   Stream   `yaml:"stream"`
	API      API      `yaml:"api"`
	Agent    Agent    `yaml:"agent"`
	Log      Log      `yaml:"log"`
}

// Input locates the diagnostic artifacts for one analysis
type Input struct {
	// Dir is the local directory holding dump artifacts. When S3 is
	// configured it receives the downloaded copies first.
	Dir          string `yaml:"dir" validate:"required"`
	NetDumpGlob  string `yaml:"net_dump_glob" validate:"required,glob"`
	FMLogGlob    string `yaml:"fm_log_glob" validate:"omitempty,glob"`
	CountersGlob string `yaml:"counters_glob" validate:"omitempty,glob"`
	S3           S3     `yaml:"s3"`
}

// S3 names a bucket prefix to pull artifacts from before analysis.
// Empty bucket disables the source.
type S3 struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
	// Endpoint overrides the AWS endpoint for S3-compatible gateways
	Endpoint string `yaml:"endpoint"`
}

// Fabric tunes topology inference
type Fabric struct {
	// GPUPattern overrides the built-in GPU marker match on adapter
	// descriptions. Empty keeps the default.
	GPUPattern string `yaml:"gpu_pattern"`
	// MultiPlaneDevices lists switch device ids eligible for plane
	// tracking, as 0x-prefixed hex literals.
	MultiPlaneDevices []string `yaml:"multi_plane_devices" validate:"dive,hexid"`
	RackGPUThreshold  int      `yaml:"rack_gpu_threshold" validate:"gte=0"`
	// Workers bounds the materializer pool. Zero sizes it from the
	// host CPU count.
	Workers int `yaml:"workers" validate:"gte=0"`
}

// Snapshot controls the parsed-graph cache
type Snapshot struct {
	Dir string `yaml:"dir"`
	// Retain caps kept snapshots per store; zero keeps everything
	Retain int `yaml:"retain" validate:"gte=0"`
}

// Export configures the optional postgres sink. Empty DSN disables it.
type Export struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	BatchSize   int    `yaml:"batch_size" validate:"gte=0"`
	MaxConns    int    `yaml:"max_conns" validate:"gte=0"`
}

// Stream configures the topology event publisher. Empty bind disables it.
type Stream struct {
	Bind string `yaml:"bind"`
}

// API configures the agent query endpoint
type API struct {
	Bind string `yaml:"bind"`
	// JWTSecret enables bearer auth when set. HS256 wants real key
	// material, so short values are rejected.
	JWTSecret string `yaml:"jwt_secret"`
}

// Agent tunes the long-running watch mode
type Agent struct {
	// Debounce delays re-analysis after a file event so multi-file
	// dump drops land completely first
	Debounce Duration `yaml:"debounce"`
}

// Duration wraps time.Duration so yaml accepts "2s" spellings
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration wants a string like \"2s\", got %s", value.Tag)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Log controls output verbosity
type Log struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// EnvLogLevel overrides the configured log level when set
const EnvLogLevel = "FABRICHC_LOG_LEVEL"

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Input: Input{
			Dir:          ".",
			NetDumpGlob:  "*.net_dump*",
			FMLogGlob:    "*.fm_log*",
			CountersGlob: "*.pm_counters*",
		},
		Fabric: Fabric{
			MultiPlaneDevices: []string{"0xd2f4"},
			RackGPUThreshold:  30,
		},
		Snapshot: Snapshot{Dir: "snapshots"},
		Export:   Export{BatchSize: 500, MaxConns: 4},
		Stream:   Stream{Bind: ""},
		API:      API{Bind: ":8080"},
		Agent:    Agent{Debounce: Duration(2 * time.Second)},
		Log:      Log{Level: "info"},
	}
}

// Load reads and validates a configuration file. An empty path returns
// the validated defaults. The decode is strict: unknown keys fail
// instead of silently configuring nothing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.Log.Level = normalizeLevel(lvl)
	}
	cfg.Log.Level = validation.DefaultOr(cfg.Log.Level, "info")
	cfg.Agent.Debounce = Duration(validation.DefaultOrDuration(time.Duration(cfg.Agent.Debounce), 2*time.Second))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the whole configuration and reports every violation
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	cv := validation.NewConfigValidator("config")
	cv.Pattern("fabric.gpu_pattern", c.Fabric.GPUPattern)
	cv.ListenAddr("api.bind", c.API.Bind)
	cv.RangeDuration("agent.debounce", time.Duration(c.Agent.Debounce), 100*time.Millisecond, 5*time.Minute)
	cv.When(c.Input.S3.Bucket != "", func(v *validation.ConfigValidator) {
		v.Required("input.s3.region", c.Input.S3.Region)
	})
	cv.When(c.API.JWTSecret != "", func(v *validation.ConfigValidator) {
		v.MinLen("api.jwt_secret", c.API.JWTSecret, 32)
	})
	cv.When(c.Export.PostgresDSN != "", func(v *validation.ConfigValidator) {
		v.RangeInt("export.batch_size", c.Export.BatchSize, 1, 5000)
		v.RangeInt("export.max_conns", c.Export.MaxConns, 1, 64)
	})
	cv.When(c.Stream.Bind != "", func(v *validation.ConfigValidator) {
		v.Scheme("stream.bind", c.Stream.Bind, "tcp", "ipc", "inproc")
	})
	return cv.Validate()
}

// TopologyConfig maps the fabric section onto graph tuning
func (c *Config) TopologyConfig() topology.Config {
	ids := make([]uint32, 0, len(c.Fabric.MultiPlaneDevices))
	for _, s := range c.Fabric.MultiPlaneDevices {
		// validated as hexid, cannot fail here
		v, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(v))
	}
	return topology.Config{
		MultiPlaneDeviceIDs: ids,
		RackGPUThreshold:    c.Fabric.RackGPUThreshold,
		MaterializeWorkers:  c.Fabric.Workers,
	}
}

// GPURegexp compiles the configured GPU pattern, nil when unset
func (c *Config) GPURegexp() *regexp.Regexp {
	if c.Fabric.GPUPattern == "" {
		return nil
	}
	return regexp.MustCompile(c.Fabric.GPUPattern)
}

// LogLevel returns the configured level parsed for the logger
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Log.Level)
}

// normalizeLevel folds env-var spellings like "DEBUG" or "warning"
// onto the yaml enum
func normalizeLevel(s string) string {
	switch strings.ToLower(s) {
	case "debug":
		return "debug"
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return "info"
	}
}
