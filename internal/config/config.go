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
	FaceAPI  FaceAPIConfig
	Match    MatchConfig
	Session  SessionConfig
	Pipeline PipelineConfig
	Database DatabaseConfig
	Cameras  []CameraConfig
}

type FaceAPIConfig struct {
	URL string // face embedding service base URL (defaults to http://localhost:8000)
	Dim int    // embedding dimensionality (defaults to 128)
}

type MatchConfig struct {
	Threshold float64 // maximum cosine distance for an accepted match
	Epsilon   float64 // two candidates within epsilon of the minimum are ambiguous
	ANNCutoff int     // registry size above which the HNSW index replaces the linear scan
}

type SessionConfig struct {
	ConfirmWindow  time.Duration // second sighting within this window confirms attendance
	SingleSighting time.Duration // a lone Pending sighting is confirmed after this timeout
}

type PipelineConfig struct {
	QueueSize      int           // bounded frame queue per camera (oldest frame dropped when full)
	ReconnectMax   time.Duration // cap for camera re-acquisition backoff
	StoreRetryMax  time.Duration // give up on a store write after retrying this long
	DetectParallel int           // concurrent detect/extract workers per camera
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MySQLDSN     string // optional legacy MySQL/MariaDB DSN (attendance mirror)
	MaxOpenConns int    // maximum open connections (default 25)
	MaxIdleConns int    // maximum idle connections (default 5)
}

// CameraConfig declares one frame source in the cameras YAML file.
type CameraConfig struct {
	ID     string `yaml:"id"`
	Kind   string `yaml:"kind"`   // "usb" or "wifi"
	Source string `yaml:"source"` // device path for usb, stream URL for wifi
	FPS    int    `yaml:"fps"`    // capture rate, defaults to 2
}

type camerasFile struct {
	Cameras []CameraConfig `yaml:"cameras"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable and parses it as a Go duration
// string (e.g. "5s", "1m30s").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		FaceAPI: FaceAPIConfig{
			URL: os.Getenv("FACE_API_URL"),
			Dim: envInt("FACE_API_DIM", 128),
		},
		Match: MatchConfig{
			Threshold: envFloat("MATCH_THRESHOLD", 0.6),
			Epsilon:   envFloat("MATCH_EPSILON", 0.01),
			ANNCutoff: envInt("MATCH_ANN_CUTOFF", 512),
		},
		Session: SessionConfig{
			ConfirmWindow:  envDuration("SESSION_CONFIRM_WINDOW", 5*time.Second),
			SingleSighting: envDuration("SESSION_SINGLE_SIGHTING_TIMEOUT", 10*time.Second),
		},
		Pipeline: PipelineConfig{
			QueueSize:      envInt("PIPELINE_QUEUE_SIZE", 8),
			ReconnectMax:   envDuration("PIPELINE_RECONNECT_MAX", 30*time.Second),
			StoreRetryMax:  envDuration("PIPELINE_STORE_RETRY_MAX", 15*time.Second),
			DetectParallel: envInt("PIPELINE_DETECT_PARALLEL", 2),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MySQLDSN:     os.Getenv("MYSQL_ATTENDANCE_DSN"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
	}
}

// LoadCameras reads camera declarations from a YAML file and attaches them
// to the config. The file is required for serve but not for enrollment.
func (c *Config) LoadCameras(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cameras file: %w", err)
	}

	var f camerasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse cameras file: %w", err)
	}
	if len(f.Cameras) == 0 {
		return errors.New("cameras file declares no cameras")
	}

	seen := make(map[string]bool, len(f.Cameras))
	for i := range f.Cameras {
		cam := &f.Cameras[i]
		if cam.ID == "" {
			return fmt.Errorf("camera %d: id is required", i)
		}
		if seen[cam.ID] {
			return fmt.Errorf("camera %q declared twice", cam.ID)
		}
		seen[cam.ID] = true
		if cam.Kind != "usb" && cam.Kind != "wifi" {
			return fmt.Errorf("camera %q: unknown kind %q", cam.ID, cam.Kind)
		}
		if cam.Source == "" {
			return fmt.Errorf("camera %q: source is required", cam.ID)
		}
		if cam.FPS <= 0 {
			cam.FPS = 2
		}
	}

	c.Cameras = f.Cameras
	return nil
}

// Validate checks the values that would make a session loop unusable.
// Configuration errors are fatal; they are not retried.
func (c *Config) Validate() error {
	if c.Match.Threshold <= 0 || c.Match.Threshold >= 2 {
		return fmt.Errorf("match threshold must be in (0, 2), got %g", c.Match.Threshold)
	}
	if c.Match.Epsilon < 0 || c.Match.Epsilon >= c.Match.Threshold {
		return fmt.Errorf("match epsilon must be in [0, threshold), got %g", c.Match.Epsilon)
	}
	if c.Session.ConfirmWindow <= 0 {
		return errors.New("session confirm window must be positive")
	}
	if c.Session.SingleSighting < c.Session.ConfirmWindow {
		return errors.New("single-sighting timeout must not be shorter than the confirm window")
	}
	if c.FaceAPI.Dim <= 0 {
		return errors.New("face API embedding dimension must be positive")
	}
	return nil
}
