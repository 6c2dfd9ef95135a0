package config

import (
	"os"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Port              string
	DBPath            string
	MigrationsPath    string
	RabbitURL         string        // empty disables the committed-scan queue publisher
	ReconcileInterval time.Duration // zero disables scheduled reconciliation
	ClockSkew         time.Duration // tolerated future drift on occurred_at
}

// Load reads the configuration from the environment, with defaults.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = ":8080"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/scans/scans.db"
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "./migrations"
	}

	reconcileInterval := 24 * time.Hour
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			reconcileInterval = d
		}
	}

	return &Config{
		Port:              port,
		DBPath:            dbPath,
		MigrationsPath:    migrationsPath,
		RabbitURL:         os.Getenv("RABBITMQ_URL"),
		ReconcileInterval: reconcileInterval,
		ClockSkew:         5 * time.Minute,
	}
}
