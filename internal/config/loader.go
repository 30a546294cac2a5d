package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/arudel/reconcile/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Export   ExportConfig
	// UseMemoryStore runs the engine on the in-memory store, for local
	// development without Postgres.
	UseMemoryStore bool
	// RecoveryWindow bounds the startup baseline recovery scan.
	RecoveryWindow time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// ExportConfig holds notification report export settings.
type ExportConfig struct {
	Directory string
}

// Default returns the default application configuration.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Export: ExportConfig{
			Directory: "exports",
		},
		RecoveryWindow: 24 * time.Hour,
	}
}

// Load reads config.yaml from the given path with environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(configPath string) (Config, error) {
	// Optional .env for local development; ignore when absent.
	_ = godotenv.Load()

	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("RECONCILE")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("export.directory")
	v.BindEnv("store.memory")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("export.directory") {
		cfg.Export.Directory = v.GetString("export.directory")
	}
	if v.IsSet("store.memory") {
		cfg.UseMemoryStore = v.GetBool("store.memory")
	}
	if v.IsSet("recovery.window") {
		cfg.RecoveryWindow = v.GetDuration("recovery.window")
	}

	return cfg, nil
}
