package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Upload targets
const (
	TargetHTTP = "http"
	TargetS3   = "s3"
)

// Config holds all configuration for the application
type Config struct {
	Server ServerConfig `yaml:"server"`
	Upload UploadConfig `yaml:"upload"`
	Camera CameraConfig `yaml:"camera"`
	AWS    AWSConfig    `yaml:"aws"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds configuration of the local control surface
type ServerConfig struct {
	Port int    `yaml:"port" env:"RECEIPT_SERVER_PORT"`
	Host string `yaml:"host" env:"RECEIPT_SERVER_HOST"`
}

// UploadConfig holds the upload destination
type UploadConfig struct {
	Target   string `yaml:"target" env:"RECEIPT_UPLOAD_TARGET"`
	Endpoint string `yaml:"endpoint" env:"RECEIPT_UPLOAD_ENDPOINT"`
}

// CameraConfig holds the capture device configuration
type CameraConfig struct {
	BackDevice  string   `yaml:"back_device" env:"RECEIPT_CAMERA_BACK_DEVICE"`
	FrontDevice string   `yaml:"front_device" env:"RECEIPT_CAMERA_FRONT_DEVICE"`
	Command     []string `yaml:"command"`
	CaptureDir  string   `yaml:"capture_dir" env:"RECEIPT_CAPTURE_DIR"`
}

// AWSConfig holds S3 configuration used when upload.target is s3
type AWSConfig struct {
	Region    string `yaml:"region" env:"RECEIPT_AWS_REGION"`
	S3Bucket  string `yaml:"s3_bucket" env:"RECEIPT_S3_BUCKET"`
	KeyPrefix string `yaml:"key_prefix" env:"RECEIPT_S3_KEY_PREFIX"`
	AccessKey string `yaml:"access_key" env:"RECEIPT_AWS_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"RECEIPT_AWS_SECRET_KEY"`
	Endpoint  string `yaml:"endpoint" env:"RECEIPT_S3_ENDPOINT"` // S3-compatible storage
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level" env:"RECEIPT_LOG_LEVEL"`
}

// Default returns the configuration used for values missing from the file
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080},
		Upload: UploadConfig{Target: TargetHTTP},
		Camera: CameraConfig{
			BackDevice:  "/dev/video0",
			FrontDevice: "/dev/video1",
			Command:     []string{"fswebcam", "-d", "{device}", "--no-banner", "--jpeg", "90", "{output}"},
			CaptureDir:  os.TempDir(),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file and applies environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the upload destination is usable
func (c *Config) Validate() error {
	switch c.Upload.Target {
	case TargetHTTP:
		if c.Upload.Endpoint == "" {
			return fmt.Errorf("upload.endpoint is required")
		}
		u, err := url.Parse(c.Upload.Endpoint)
		if err != nil {
			return fmt.Errorf("invalid upload.endpoint: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("upload.endpoint must be an http or https URL")
		}
	case TargetS3:
		if c.AWS.S3Bucket == "" {
			return fmt.Errorf("aws.s3_bucket is required for s3 uploads")
		}
		if c.AWS.Region == "" {
			return fmt.Errorf("aws.region is required for s3 uploads")
		}
	default:
		return fmt.Errorf("unknown upload.target %q", c.Upload.Target)
	}

	if len(c.Camera.Command) == 0 {
		return fmt.Errorf("camera.command is required")
	}
	if c.Camera.CaptureDir == "" {
		return fmt.Errorf("camera.capture_dir is required")
	}

	return nil
}

// Addr returns the listen address of the control surface
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
