package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Web       WebConfig       `yaml:"web"`
	API       APIConfig       `yaml:"api"`
	Detection DetectionConfig `yaml:"detection"`
	Capture   CaptureConfig   `yaml:"capture"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Geo       GeoConfig       `yaml:"geo"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	Log       LogConfig       `yaml:"log"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr is the listen address.
func (w WebConfig) Addr() string { return fmt.Sprintf("%s:%d", w.Host, w.Port) }

type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`   // case backend, e.g. http://localhost:5000/api
	Timeout   time.Duration `yaml:"timeout"`    // defaults to 10s
	ImagesDir string        `yaml:"images_dir"` // where reference images are cached
}

// DetectionConfig durations use Go syntax in YAML ("300s", "500ms").
type DetectionConfig struct {
	Cooldown    time.Duration `yaml:"cooldown"`
	Threshold   float64       `yaml:"threshold"`
	Metric      string        `yaml:"metric"` // euclidean or cosine
	NthFrame    int           `yaml:"nth_frame"`
	JPEGQuality int           `yaml:"jpeg_quality"`
	StopGrace   time.Duration `yaml:"stop_grace"`
}

type CaptureConfig struct {
	Backend string `yaml:"backend"` // ffmpeg or gocv
	Device  string `yaml:"device"`
	Format  string `yaml:"format"` // ffmpeg -f for the input, empty for files and URLs
}

type EncoderConfig struct {
	Backend    string        `yaml:"backend"` // worker, http or dlib
	WorkerCmd  string        `yaml:"worker_cmd"`
	Timeout    time.Duration `yaml:"timeout"`
	ServiceURL string        `yaml:"service_url"`
	DlibModels string        `yaml:"dlib_models"`
}

type GeoConfig struct {
	URL string `yaml:"url"`
}

type WhatsAppConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Token       string `yaml:"token"`
	URL         string `yaml:"url"`
	CountryCode string `yaml:"country_code"`
}

// Enabled reports whether alerts can be sent.
func (w WhatsAppConfig) Enabled() bool { return w.InstanceID != "" && w.Token != "" }

type DatabaseConfig struct {
	URL string `yaml:"url"` // empty disables the local sightings log
}

type NATSConfig struct {
	URL     string `yaml:"url"` // empty disables event publishing
	Subject string `yaml:"subject"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envInt reads an environment variable and parses it as an integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultVal
}

// envSeconds accepts either a bare number of seconds or a Go duration.
func envSeconds(key string, defaultVal time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return defaultVal
}

func envStr(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// databaseURL prefers DATABASE_URL and falls back to the POSTGRES_* variables.
func databaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := envStr("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// FromEnv reads configuration from the environment, applying defaults.
func FromEnv() *Config {
	return &Config{
		Web: WebConfig{
			Host: envStr("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 5001),
		},
		API: APIConfig{
			BaseURL:   envStr("API_BASE_URL", "http://localhost:5000/api"),
			Timeout:   envSeconds("API_TIMEOUT", 10*time.Second),
			ImagesDir: envStr("IMAGES_DIR", "./images"),
		},
		Detection: DetectionConfig{
			Cooldown:    envSeconds("DETECTION_COOLDOWN", 300*time.Second),
			Threshold:   envFloat("MATCH_THRESHOLD", 0.6),
			Metric:      envStr("MATCH_METRIC", "euclidean"),
			NthFrame:    envInt("NTH_FRAME", 10),
			JPEGQuality: envInt("JPEG_QUALITY", 80),
			StopGrace:   envSeconds("STOP_GRACE", 500*time.Millisecond),
		},
		Capture: CaptureConfig{
			Backend: envStr("CAPTURE_BACKEND", "ffmpeg"),
			Device:  envStr("CAMERA_DEVICE", "/dev/video0"),
			Format:  envStr("CAMERA_FORMAT", "v4l2"),
		},
		Encoder: EncoderConfig{
			Backend:    envStr("FACE_ENCODER", "worker"),
			WorkerCmd:  envStr("FACE_WORKER_CMD", "python3 -u python/worker.py"),
			Timeout:    envSeconds("FACE_WORKER_TIMEOUT", 30*time.Second),
			ServiceURL: envStr("FACE_SERVICE_URL", "http://localhost:8000"),
			DlibModels: envStr("DLIB_MODELS_DIR", "./models"),
		},
		Geo: GeoConfig{
			URL: envStr("GEOLOCATION_URL", "https://get.geojs.io/v1/ip/geo.json"),
		},
		WhatsApp: WhatsAppConfig{
			InstanceID:  os.Getenv("WHATSAPP_INSTANCE_ID"),
			Token:       os.Getenv("WHATSAPP_API_TOKEN"),
			URL:         envStr("WHATSAPP_API_URL", "https://api.ultramsg.com"),
			CountryCode: envStr("WHATSAPP_COUNTRY_CODE", "+91"),
		},
		Database: DatabaseConfig{
			URL: databaseURL(),
		},
		NATS: NATSConfig{
			URL:     os.Getenv("NATS_URL"),
			Subject: envStr("NATS_SUBJECT", "vigil.detections"),
		},
		Log: LogConfig{
			Level:  envStr("LOG_LEVEL", "info"),
			Format: envStr("LOG_FORMAT", "text"),
		},
	}
}

// Load reads the environment and then overlays the YAML file at path, if any.
// Keys absent from the file keep their environment value.
func Load(path string) (*Config, error) {
	cfg := FromEnv()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WorkerArgv splits the worker command line on whitespace.
func (e EncoderConfig) WorkerArgv() []string { return strings.Fields(e.WorkerCmd) }

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	d := c.Detection
	if d.Threshold <= 0 || d.Threshold > 1 {
		errs = append(errs, fmt.Errorf("detection threshold must be in (0, 1], got %v", d.Threshold))
	}
	if d.NthFrame < 1 {
		errs = append(errs, fmt.Errorf("nth frame must be >= 1, got %d", d.NthFrame))
	}
	if d.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown must be >= 0, got %v", d.Cooldown))
	}
	if d.JPEGQuality < 1 || d.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality must be in [1, 100], got %d", d.JPEGQuality))
	}
	switch strings.ToLower(d.Metric) {
	case "euclidean", "cosine":
	default:
		errs = append(errs, fmt.Errorf("unknown metric %q (use euclidean or cosine)", d.Metric))
	}
	switch c.Capture.Backend {
	case "ffmpeg", "gocv":
	default:
		errs = append(errs, fmt.Errorf("unknown capture backend %q (use ffmpeg or gocv)", c.Capture.Backend))
	}
	switch c.Encoder.Backend {
	case "worker":
		if len(c.Encoder.WorkerArgv()) == 0 {
			errs = append(errs, errors.New("face worker command is empty"))
		}
	case "http", "dlib":
	default:
		errs = append(errs, fmt.Errorf("unknown face encoder %q (use worker, http or dlib)", c.Encoder.Backend))
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid web port %d", c.Web.Port))
	}
	return errors.Join(errs...)
}
