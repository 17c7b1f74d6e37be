package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	appDir    = "notify-bridge"
	fileName  = "notify-bridge"
	envPrefix = "NOTIFYBRIDGE"
)

type Config struct {
	ListenAddr        string   `mapstructure:"listen_addr" yaml:"listen_addr" validate:"required,hostname_port"`
	AppName           string   `mapstructure:"app_name" yaml:"app_name" validate:"required"`
	AllowedOrigins    []string `mapstructure:"allowed_origins" yaml:"allowed_origins" validate:"dive,required"`
	MaxConnections    int      `mapstructure:"max_connections" yaml:"max_connections"`
	PipelineWorkers   int      `mapstructure:"pipeline_workers" yaml:"pipeline_workers"`
	PipelineQueueSize int      `mapstructure:"pipeline_queue_size" yaml:"pipeline_queue_size"`
	SendQueueSize     int      `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	MetricsEnabled    bool     `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file,omitempty"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`

	Attachments AttachmentConfig `mapstructure:"attachments" yaml:"attachments"`
}

// AttachmentConfig controls how notification images are fetched and staged.
type AttachmentConfig struct {
	StagingDir          string `mapstructure:"staging_dir" yaml:"staging_dir" validate:"required"`
	CacheDir            string `mapstructure:"cache_dir" yaml:"cache_dir" validate:"required"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds"`
	FetchRetries        int    `mapstructure:"fetch_retries" yaml:"fetch_retries"`
	MaxBytes            int64  `mapstructure:"max_bytes" yaml:"max_bytes"`
	MaxDimension        int    `mapstructure:"max_dimension" yaml:"max_dimension"`
	OnFailure           string `mapstructure:"on_failure" yaml:"on_failure" validate:"oneof=degrade abort"`
}

func Default() *Config {
	return &Config{
		ListenAddr:        "localhost:8660",
		AppName:           "Discord",
		PipelineWorkers:   4,
		PipelineQueueSize: 256,
		SendQueueSize:     64,
		LogLevel:          "info",
		LogFormat:         "text",
		LogMaxSizeMB:      10,
		LogMaxBackups:     3,
		Attachments: AttachmentConfig{
			StagingDir:          filepath.Join(xdg.RuntimeDir, appDir),
			CacheDir:            filepath.Join(xdg.CacheHome, appDir, "avatars"),
			FetchTimeoutSeconds: 15,
			FetchRetries:        2,
			MaxBytes:            20 << 20,
			MaxDimension:        512,
			OnFailure:           "degrade",
		},
	}
}

// Load reads cfgFile, or notify-bridge.yaml from the user config dir or the
// working directory when cfgFile is empty. A missing file is not an error.
// NOTIFYBRIDGE_* environment variables override file values.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Dump renders cfg as YAML.
func Dump(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// SaveTo writes cfg as YAML to cfgFile, or to the user config dir when
// cfgFile is empty, and returns the path written.
func SaveTo(cfg *Config, cfgFile string) (string, error) {
	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir(), fileName+".yaml")
	}
	if dir := filepath.Dir(cfgPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
	}

	data, err := Dump(cfg)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return "", err
	}
	return cfgPath, nil
}

func configDir() string {
	return filepath.Join(xdg.ConfigHome, appDir)
}
