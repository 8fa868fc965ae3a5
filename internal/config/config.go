package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Providers ProvidersConfig `yaml:"providers"`
	Vision    VisionConfig    `yaml:"vision"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Cameras   []CameraConfig  `yaml:"cameras"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// Enabled reports whether a database host is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Provider kinds.
const (
	ProviderCloud = "cloud"
	ProviderLocal = "local"
	ProviderNone  = "none"
)

type ProvidersConfig struct {
	Face    ServiceConfig `yaml:"face"`
	Emotion ServiceConfig `yaml:"emotion"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServiceConfig selects and addresses one external recognition service.
type ServiceConfig struct {
	Kind     string `yaml:"kind"`
	Endpoint string `yaml:"endpoint"`
	Key      string `yaml:"key"`
}

type VisionConfig struct {
	ModelsDir           string  `yaml:"models_dir"`
	LibraryPath         string  `yaml:"library_path"`
	DetectionThreshold  float64 `yaml:"detection_threshold"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

type TrackingConfig struct {
	Tolerance         *int          `yaml:"tolerance"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	ComparisonCap     int           `yaml:"comparison_cap"`
	MaxCandidates     int           `yaml:"max_candidates"`
	OracleConcurrency int           `yaml:"oracle_concurrency"`
	WorkerCount       int           `yaml:"worker_count"`
}

// PixelTolerance returns the configured rectangle tolerance.
func (t TrackingConfig) PixelTolerance() int {
	if t.Tolerance == nil {
		return defaultTolerance
	}
	return *t.Tolerance
}

type CameraConfig struct {
	ID   string `yaml:"id"`
	URL  string `yaml:"url"`
	Type string `yaml:"type"`
	FPS  int    `yaml:"fps"`
}

type IngestConfig struct {
	FrameWidth     int `yaml:"frame_width"`
	DefaultFPS     int `yaml:"default_fps"`
	MaxFPS         int `yaml:"max_fps"`
	FrameRetention int `yaml:"frame_retention"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const defaultTolerance = 5

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config, applies environment overrides and defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "dwell"
	}
	if cfg.Providers.Face.Kind == "" {
		cfg.Providers.Face.Kind = ProviderCloud
	}
	if cfg.Providers.Emotion.Kind == "" {
		cfg.Providers.Emotion.Kind = ProviderNone
	}
	if cfg.Providers.Timeout == 0 {
		cfg.Providers.Timeout = 10 * time.Second
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.SimilarityThreshold == 0 {
		cfg.Vision.SimilarityThreshold = 0.5
	}
	if cfg.Tracking.Tolerance == nil {
		t := defaultTolerance
		cfg.Tracking.Tolerance = &t
	}
	if cfg.Tracking.StaleAfter == 0 {
		cfg.Tracking.StaleAfter = 3 * time.Second
	}
	if cfg.Tracking.ComparisonCap == 0 {
		cfg.Tracking.ComparisonCap = 3
	}
	if cfg.Tracking.MaxCandidates == 0 {
		cfg.Tracking.MaxCandidates = 10
	}
	if cfg.Tracking.OracleConcurrency == 0 {
		cfg.Tracking.OracleConcurrency = 1
	}
	if cfg.Tracking.WorkerCount == 0 {
		cfg.Tracking.WorkerCount = 4
	}
	if cfg.Ingest.FrameWidth == 0 {
		cfg.Ingest.FrameWidth = 640
	}
	if cfg.Ingest.DefaultFPS == 0 {
		cfg.Ingest.DefaultFPS = 1
	}
	if cfg.Ingest.MaxFPS == 0 {
		cfg.Ingest.MaxFPS = 5
	}
	for i := range cfg.Cameras {
		if cfg.Cameras[i].Type == "" {
			cfg.Cameras[i].Type = "rtsp"
		}
		if cfg.Cameras[i].FPS <= 0 {
			cfg.Cameras[i].FPS = cfg.Ingest.DefaultFPS
		}
		if cfg.Cameras[i].FPS > cfg.Ingest.MaxFPS {
			cfg.Cameras[i].FPS = cfg.Ingest.MaxFPS
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	var errs []error

	switch c.Providers.Face.Kind {
	case ProviderCloud:
		if c.Providers.Face.Endpoint == "" {
			errs = append(errs, errors.New("providers.face.endpoint is required for the cloud provider"))
		}
	case ProviderLocal:
		if c.Vision.ModelsDir == "" {
			errs = append(errs, errors.New("vision.models_dir is required for the local provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("providers.face.kind %q: want cloud or local", c.Providers.Face.Kind))
	}

	switch c.Providers.Emotion.Kind {
	case ProviderCloud:
		if c.Providers.Emotion.Endpoint == "" {
			errs = append(errs, errors.New("providers.emotion.endpoint is required for the cloud provider"))
		}
	case ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("providers.emotion.kind %q: want cloud or none", c.Providers.Emotion.Kind))
	}

	if c.Tracking.PixelTolerance() < 0 {
		errs = append(errs, errors.New("tracking.tolerance must not be negative"))
	}

	seen := make(map[string]bool, len(c.Cameras))
	for i, cam := range c.Cameras {
		switch {
		case cam.ID == "":
			errs = append(errs, fmt.Errorf("cameras[%d].id is required", i))
		case seen[cam.ID]:
			errs = append(errs, fmt.Errorf("cameras[%d].id %q is duplicated", i, cam.ID))
		}
		seen[cam.ID] = true
		if cam.URL == "" {
			errs = append(errs, fmt.Errorf("cameras[%d].url is required", i))
		}
		switch cam.Type {
		case "rtsp", "http", "youtube":
		default:
			errs = append(errs, fmt.Errorf("cameras[%d].type %q: want rtsp, http or youtube", i, cam.Type))
		}
	}

	return errors.Join(errs...)
}

// Camera returns the camera with the given id.
func (c *Config) Camera(id string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DWELL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DWELL_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("DWELL_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DWELL_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DWELL_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DWELL_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DWELL_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DWELL_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("DWELL_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("DWELL_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("DWELL_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("DWELL_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("DWELL_FACE_PROVIDER"); v != "" {
		cfg.Providers.Face.Kind = v
	}
	if v := os.Getenv("DWELL_FACE_ENDPOINT"); v != "" {
		cfg.Providers.Face.Endpoint = v
	}
	if v := os.Getenv("DWELL_FACE_KEY"); v != "" {
		cfg.Providers.Face.Key = v
	}
	if v := os.Getenv("DWELL_EMOTION_PROVIDER"); v != "" {
		cfg.Providers.Emotion.Kind = v
	}
	if v := os.Getenv("DWELL_EMOTION_ENDPOINT"); v != "" {
		cfg.Providers.Emotion.Endpoint = v
	}
	if v := os.Getenv("DWELL_EMOTION_KEY"); v != "" {
		cfg.Providers.Emotion.Key = v
	}
	if v := os.Getenv("DWELL_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("DWELL_ONNX_LIBRARY"); v != "" {
		cfg.Vision.LibraryPath = v
	}
	if v := os.Getenv("DWELL_TRACKING_TOLERANCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tracking.Tolerance = &n
		}
	}
	if v := os.Getenv("DWELL_TRACKING_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tracking.StaleAfter = d
		}
	}
	if v := os.Getenv("DWELL_TRACKING_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Tracking.WorkerCount = n
		}
	}
	if v := os.Getenv("DWELL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
