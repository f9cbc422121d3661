package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Parallelism   int           `mapstructure:"parallelism"`
	Retention     int           `mapstructure:"retention"`
	Compress      bool          `mapstructure:"compress"`
	Algorithm     string        `mapstructure:"algorithm"`
	DumpTimeout   time.Duration `mapstructure:"dump_timeout"`
	MysqldumpPath string        `mapstructure:"mysqldump_path"`
	AllowInsecure bool          `mapstructure:"allow_insecure"`
	LogJSON       bool          `mapstructure:"log_json"`
	NoColor       bool          `mapstructure:"no_color"`

	Storage       StorageConfig    `mapstructure:"storage"`
	Notifications Notifications    `mapstructure:"notifications"`
	Schedules     []ScheduleConfig `mapstructure:"schedules"`
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver"` // local | s3 | ftp | ssh
	Dir       string `mapstructure:"dir"`    // local backup directory
	Bucket    string `mapstructure:"bucket"`
	Path      string `mapstructure:"path"` // object key prefix / remote base path
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	URI       string `mapstructure:"uri"` // ftp:// or ssh:// target
}

type Notifications struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Template   string `mapstructure:"template"`
}

type WebhookConfig struct {
	URL      string            `mapstructure:"url"`
	Method   string            `mapstructure:"method"`
	Template string            `mapstructure:"template"`
	Headers  map[string]string `mapstructure:"headers"`
}

type ScheduleConfig struct {
	Connection string `mapstructure:"connection"`
	Cron       string `mapstructure:"cron"`  // 5-field cron expression
	Times      string `mapstructure:"times"` // comma-separated HH:MM alternative
	Storage    string `mapstructure:"storage"`
}

var globalConfig *Config

func Initialize(configPath string) error {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sqlkeep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".sqlkeep"))
		}
	}

	v.SetEnvPrefix("SQLKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("parallelism", 4)
	v.SetDefault("retention", 5)
	v.SetDefault("compress", true)
	v.SetDefault("algorithm", "gzip")
	v.SetDefault("dump_timeout", time.Hour)
	v.SetDefault("allow_insecure", false)
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.dir", "./backups")
	v.SetDefault("storage.path", "backups")
	v.SetDefault("storage.use_ssl", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&globalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		_ = v.Unmarshal(&globalConfig)
	})

	return nil
}

func GetConfig() *Config {
	if globalConfig == nil {
		return &Config{
			Parallelism: 4,
			Retention:   5,
			Compress:    true,
			Algorithm:   "gzip",
			DumpTimeout: time.Hour,
			Storage:     StorageConfig{Driver: "local", Dir: "./backups", Path: "backups", UseSSL: true},
		}
	}
	return globalConfig
}
