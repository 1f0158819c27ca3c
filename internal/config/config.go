// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Filename string `yaml:"filename"`
}

type PushConfig struct {
	// Subscriber is the contact address reported to push services (mailto: URL).
	Subscriber      string `yaml:"subscriber"`
	VAPIDPublicKey  string `yaml:"-"` // Loaded from environment
	VAPIDPrivateKey string `yaml:"-"` // Loaded from environment
}

type EmailConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Sender          string `yaml:"sender"`
	AccessKeyID     string `yaml:"-"` // Loaded from environment
	SecretAccessKey string `yaml:"-"` // Loaded from environment
}

type TasksConfig struct {
	// QueueName is sent (and required) in the x-cloudtasks-queuename header
	// on reminder dispatch requests.
	QueueName string `yaml:"queue_name"`
	// DispatchBaseURL is where the in-process queue posts due tasks,
	// normally this server's own address.
	DispatchBaseURL string `yaml:"dispatch_base_url"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
		BaseURL     string `yaml:"base_url"`
		JWTSecret   string `yaml:"-"` // Loaded from environment
	} `yaml:"app"`

	Database DatabaseConfig `yaml:"database"`
	Push     PushConfig     `yaml:"push"`
	Email    EmailConfig    `yaml:"email"`
	Tasks    TasksConfig    `yaml:"tasks"`
}

// Load loads both .env and yaml configuration
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Load sensitive values from environment
	cfg.App.JWTSecret = os.Getenv("APP_JWT_SECRET")
	cfg.Push.VAPIDPublicKey = os.Getenv("VAPID_PUBLIC_KEY")
	cfg.Push.VAPIDPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")
	cfg.Email.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.Email.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.App.Port == 0 {
		return fmt.Errorf("app port is required")
	}
	if c.App.JWTSecret == "" {
		return fmt.Errorf("APP_JWT_SECRET is required")
	}
	if c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.Filename == "" {
		return fmt.Errorf("database filename is required for sqlite")
	}
	if c.Tasks.QueueName == "" {
		return fmt.Errorf("task queue name is required")
	}
	if c.Email.Enabled {
		if c.Email.Region == "" || c.Email.Sender == "" {
			return fmt.Errorf("email region and sender are required when email is enabled")
		}
		if c.Email.AccessKeyID == "" || c.Email.SecretAccessKey == "" {
			return fmt.Errorf("AWS credentials are required when email is enabled")
		}
	}
	return nil
}
