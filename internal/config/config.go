package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment   string
	IMAPHost      string
	IMAPUser      string
	IMAPPassword  string
	Mailbox       string
	RecipientTag  string
	DriveURL      string
	DriveUser     string
	DrivePassword string
	DBPath        string
	WorkDir       string
	Port          string
	StartupDelay  time.Duration
}

func NewConfig() (*Config, error) {
	env := os.Getenv("ROCKETDROP_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	startupDelay, err := time.ParseDuration(getEnvOrDefault("ROCKETDROP_STARTUP_DELAY", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid ROCKETDROP_STARTUP_DELAY: %w", err)
	}

	config := &Config{
		Environment:   env,
		IMAPHost:      os.Getenv("ROCKETDROP_IMAP_HOST"),
		IMAPUser:      os.Getenv("ROCKETDROP_IMAP_USER"),
		IMAPPassword:  os.Getenv("ROCKETDROP_IMAP_PASSWORD"),
		Mailbox:       getEnvOrDefault("ROCKETDROP_MAILBOX", "Rocketbook"),
		RecipientTag:  os.Getenv("ROCKETDROP_RECIPIENT_TAG"),
		DriveURL:      os.Getenv("ROCKETDROP_DRIVE_URL"),
		DriveUser:     os.Getenv("ROCKETDROP_DRIVE_USER"),
		DrivePassword: os.Getenv("ROCKETDROP_DRIVE_PASSWORD"),
		DBPath:        getEnvOrDefault("ROCKETDROP_DB_PATH", "rocketdrop.db"),
		WorkDir:       getEnvOrDefault("ROCKETDROP_WORK_DIR", "."),
		Port:          getEnvOrDefault("PORT", "8000"),
		StartupDelay:  startupDelay,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.IMAPHost == "" {
		return fmt.Errorf("ROCKETDROP_IMAP_HOST is required")
	}

	if c.IMAPUser == "" {
		return fmt.Errorf("ROCKETDROP_IMAP_USER is required")
	}

	if c.IMAPPassword == "" {
		return fmt.Errorf("ROCKETDROP_IMAP_PASSWORD is required")
	}

	if c.RecipientTag == "" {
		return fmt.Errorf("ROCKETDROP_RECIPIENT_TAG is required")
	}

	if c.DriveURL == "" {
		return fmt.Errorf("ROCKETDROP_DRIVE_URL is required")
	}

	if c.DriveUser == "" {
		return fmt.Errorf("ROCKETDROP_DRIVE_USER is required")
	}

	if c.DrivePassword == "" {
		return fmt.Errorf("ROCKETDROP_DRIVE_PASSWORD is required")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
