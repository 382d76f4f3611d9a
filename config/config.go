// Package config loads service settings from defaults, an optional YAML file
// and CHEAT_* environment variables, in that order.
package config

import (
	"bytes"
	"os"
	"strconv"
	"time"

	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/locator"
	"github.com/nvr-ai/go-cheatdetect/state"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Server   ServerConfig   `yaml:"server"`
	Locator  LocatorConfig  `yaml:"locator"`
	Detector DetectorConfig `yaml:"detector"`
	Video    VideoConfig    `yaml:"video"`
	State    StateConfig    `yaml:"state"`
	Profiler ProfilerConfig `yaml:"profiler"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	PreviewSize     uint          `yaml:"preview_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LocatorConfig selects and tunes the face locator.
type LocatorConfig struct {
	Kind            string  `yaml:"kind"`
	CascadePath     string  `yaml:"cascade_path"`
	ScaleFactor     float64 `yaml:"scale_factor"`
	MinNeighbors    int     `yaml:"min_neighbors"`
	MinFaceSize     int     `yaml:"min_face_size"`
	MaxFaceSize     int     `yaml:"max_face_size"`
	PigoCascadePath string  `yaml:"pigo_cascade_path"`
	PigoMinQuality  float64 `yaml:"pigo_min_quality"`
}

// DetectorConfig holds the initial detection threshold.
type DetectorConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// VideoConfig tunes video scans and the webcam loop.
type VideoConfig struct {
	SampleFrames int           `yaml:"sample_frames"`
	ReportFrames int           `yaml:"report_frames"`
	WebcamDevice int           `yaml:"webcam_device"`
	WebcamEvery  time.Duration `yaml:"webcam_every"`
	// MotionArea gates webcam detection on motion; 0 analyses every frame.
	MotionArea float64 `yaml:"motion_area"`
}

// StateConfig selects where the detector snapshot is persisted.
type StateConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	DSN         string `yaml:"dsn"`
	Name        string `yaml:"name"`
	LoadOnStart bool   `yaml:"load_on_start"`
	Autosave    bool   `yaml:"autosave"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Key       string `yaml:"s3_key"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// ProfilerConfig controls the runtime profiler.
type ProfilerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ReportInterval time.Duration `yaml:"report_interval"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	haar := locator.DefaultHaarOptions()
	pg := locator.DefaultPigoOptions()
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            ":8000",
			MaxUploadBytes:  64 << 20,
			PreviewSize:     320,
			ShutdownTimeout: 10 * time.Second,
		},
		Locator: LocatorConfig{
			Kind:            locator.KindHaar,
			CascadePath:     haar.CascadePath,
			ScaleFactor:     haar.ScaleFactor,
			MinNeighbors:    haar.MinNeighbors,
			PigoCascadePath: pg.CascadePath,
			PigoMinQuality:  float64(pg.MinQuality),
		},
		Detector: DetectorConfig{Threshold: detector.DefaultThreshold},
		Video: VideoConfig{
			SampleFrames: 10,
			ReportFrames: 5,
			WebcamEvery:  time.Second,
		},
		State: StateConfig{
			Backend: state.BackendNone,
			Path:    "cheatdetect-state.yaml",
			Name:    state.DefaultName,
		},
		Profiler: ProfilerConfig{
			ReportInterval: 30 * time.Second,
			SampleInterval: time.Second,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
//
// Arguments:
// - path: Optional YAML file. Unknown keys are rejected.
//
// Returns:
// - The validated configuration.
// - An error if the file cannot be read or parsed, or validation fails.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Locator.Kind {
	case locator.KindHaar, locator.KindPigo:
	default:
		return errors.Errorf("locator.kind must be %q or %q, got %q", locator.KindHaar, locator.KindPigo, c.Locator.Kind)
	}

	switch c.State.Backend {
	case state.BackendNone, state.BackendFile, state.BackendSQLite, state.BackendMySQL,
		state.BackendPostgres, state.BackendS3:
	default:
		return errors.Errorf("unknown state.backend %q", c.State.Backend)
	}

	if c.Locator.MinFaceSize < 0 || c.Locator.MaxFaceSize < 0 {
		return errors.New("face sizes must not be negative")
	}
	if c.Locator.MaxFaceSize > 0 && c.Locator.MaxFaceSize < c.Locator.MinFaceSize {
		return errors.New("locator.max_face_size is below min_face_size")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	if c.Video.SampleFrames <= 0 {
		return errors.New("video.sample_frames must be positive")
	}
	if c.Video.MotionArea < 0 {
		return errors.New("video.motion_area must not be negative")
	}
	if c.Profiler.Enabled && (c.Profiler.ReportInterval <= 0 || c.Profiler.SampleInterval <= 0) {
		return errors.New("profiler intervals must be positive")
	}
	return nil
}

// HaarOptions converts the locator settings for locator.NewHaarLocator.
func (c *Config) HaarOptions() locator.HaarOptions {
	return locator.HaarOptions{
		CascadePath:  c.Locator.CascadePath,
		ScaleFactor:  c.Locator.ScaleFactor,
		MinNeighbors: c.Locator.MinNeighbors,
		MinSize:      c.Locator.MinFaceSize,
		MaxSize:      c.Locator.MaxFaceSize,
	}
}

// PigoOptions converts the locator settings for locator.NewPigoLocator.
func (c *Config) PigoOptions() locator.PigoOptions {
	opts := locator.DefaultPigoOptions()
	opts.CascadePath = c.Locator.PigoCascadePath
	opts.MinQuality = float32(c.Locator.PigoMinQuality)
	if c.Locator.MinFaceSize > 0 {
		opts.MinSize = c.Locator.MinFaceSize
	}
	if c.Locator.MaxFaceSize > 0 {
		opts.MaxSize = c.Locator.MaxFaceSize
	}
	return opts
}

// StateOptions converts the state settings for state.Open.
func (c *Config) StateOptions() state.Options {
	return state.Options{
		Backend: c.State.Backend,
		Path:    c.State.Path,
		DSN:     c.State.DSN,
		Name:    c.State.Name,
		S3: state.S3Options{
			Bucket:    c.State.S3Bucket,
			Key:       c.State.S3Key,
			Region:    c.State.S3Region,
			Endpoint:  c.State.S3Endpoint,
			PathStyle: c.State.S3PathStyle,
		},
	}
}

func (c *Config) applyEnv() error {
	readEnvString("CHEAT_LOG_LEVEL", &c.LogLevel)
	readEnvString("CHEAT_ADDR", &c.Server.Addr)
	readEnvString("CHEAT_LOCATOR", &c.Locator.Kind)
	readEnvString("CHEAT_CASCADE_PATH", &c.Locator.CascadePath)
	readEnvString("CHEAT_PIGO_CASCADE", &c.Locator.PigoCascadePath)
	readEnvString("CHEAT_STATE_BACKEND", &c.State.Backend)
	readEnvString("CHEAT_STATE_PATH", &c.State.Path)
	readEnvString("CHEAT_STATE_DSN", &c.State.DSN)
	readEnvString("CHEAT_S3_BUCKET", &c.State.S3Bucket)
	readEnvString("CHEAT_S3_REGION", &c.State.S3Region)
	readEnvString("CHEAT_S3_ENDPOINT", &c.State.S3Endpoint)

	for _, err := range []error{
		readEnvFloat("CHEAT_THRESHOLD", &c.Detector.Threshold),
		readEnvInt("CHEAT_VIDEO_SAMPLES", &c.Video.SampleFrames),
		readEnvInt64("CHEAT_MAX_UPLOAD_BYTES", &c.Server.MaxUploadBytes),
		readEnvBool("CHEAT_STATE_AUTOSAVE", &c.State.Autosave),
		readEnvBool("CHEAT_STATE_LOAD", &c.State.LoadOnStart),
		readEnvBool("CHEAT_PROFILER", &c.Profiler.Enabled),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func readEnvString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func readEnvFloat(key string, dst *float64) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return errors.Wrapf(err, "%s", key)
	}
	*dst = f
	return nil
}

func readEnvInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "%s", key)
	}
	*dst = n
	return nil
}

func readEnvInt64(key string, dst *int64) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "%s", key)
	}
	*dst = n
	return nil
}

func readEnvBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.Wrapf(err, "%s", key)
	}
	*dst = b
	return nil
}
