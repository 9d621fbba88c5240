package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration. The server and the agent read
// the same file; each uses the sections it needs.
type Config struct {
	Server      Server      `json:"server"`
	Agent       Agent       `json:"agent"`
	Store       Store       `json:"store"`
	FCM         FCM         `json:"fcm"`
	Database    Database    `json:"database"`
	Telemetry   Telemetry   `json:"telemetry"`
	Invitations Invitations `json:"invitations"`
	AlarmLimit  AlarmLimit  `json:"alarmLimit"`
	Logging     Logging     `json:"logging"`
}

// Server configuration
type Server struct {
	Address     string `json:"address"`
	JWTSecret   string `json:"jwtSecret"`
	JWTIssuer   string `json:"jwtIssuer"`
	TokenTTLHrs int    `json:"tokenTtlHours"`
}

// TokenTTL returns the session token lifetime
func (s Server) TokenTTL() time.Duration {
	return time.Duration(s.TokenTTLHrs) * time.Hour
}

// Agent configuration for the device-side process
type Agent struct {
	ServerURL         string   `json:"serverUrl"`
	SessionToken      string   `json:"sessionToken"`
	DeviceID          string   `json:"deviceId"`
	Permissions       []string `json:"permissions"`
	AutoGrant         bool     `json:"autoGrant"`
	LocationFeed      string   `json:"locationFeed"`
	SingleFixSchedule string   `json:"singleFixSchedule"`
	Bell              bool     `json:"bell"`
	WriteTimeoutSecs  int      `json:"writeTimeoutSeconds"`
}

// WriteTimeout returns the per-write deadline for presence updates
func (a Agent) WriteTimeout() time.Duration {
	return time.Duration(a.WriteTimeoutSecs) * time.Second
}

// Store selects the remote document store
type Store struct {
	Backend         string `json:"backend"` // memory or firestore
	ProjectID       string `json:"projectId"`
	CredentialsPath string `json:"credentialsPath"`
}

// UseFirestore returns true if the Firestore backend is selected
func (s Store) UseFirestore() bool {
	return strings.EqualFold(s.Backend, "firestore")
}

// FCM configuration. Push is disabled when no credentials are given.
type FCM struct {
	CredentialsPath string `json:"credentialsPath"`
}

// Enabled reports whether FCM delivery is configured
func (f FCM) Enabled() bool {
	return f.CredentialsPath != ""
}

// Database configuration
type Database struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Telemetry configuration
type Telemetry struct {
	Enabled      bool   `json:"enabled"`
	OTLPEndpoint string `json:"otlpEndpoint"`
	Environment  string `json:"environment"`
}

// Invitations configuration
type Invitations struct {
	TTLHours      int    `json:"ttlHours"`
	PurgeSchedule string `json:"purgeSchedule"`
}

// TTL returns the invitation code lifetime
func (i Invitations) TTL() time.Duration {
	return time.Duration(i.TTLHours) * time.Hour
}

// AlarmLimit configures the per-caller alarm rate limit
type AlarmLimit struct {
	PerMinute int `json:"perMinute"`
	Burst     int `json:"burst"`
}

// Logging configuration
type Logging struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.Database.URL != ""
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		Server: Server{
			Address:     ":5000",
			JWTIssuer:   "securetrack",
			TokenTTLHrs: 24 * 30,
		},
		Agent: Agent{
			ServerURL:        "http://localhost:5000",
			Permissions:      []string{"precise", "coarse"},
			LocationFeed:     "-",
			WriteTimeoutSecs: 15,
		},
		Store: Store{
			Backend: "memory",
		},
		Database: Database{
			Path: "securetrack.db",
		},
		Telemetry: Telemetry{
			OTLPEndpoint: "localhost:4317",
			Environment:  "development",
		},
		Invitations: Invitations{
			TTLHours:      48,
			PurgeSchedule: "@hourly",
		},
		AlarmLimit: AlarmLimit{
			PerMinute: 6,
			Burst:     3,
		},
		Logging: Logging{
			Level: "INFO",
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Address, "SERVER_ADDRESS")
	setString(&cfg.Server.JWTSecret, "JWT_SECRET")
	setString(&cfg.Server.JWTIssuer, "JWT_ISSUER")

	setString(&cfg.Agent.ServerURL, "AGENT_SERVER_URL")
	setString(&cfg.Agent.SessionToken, "AGENT_SESSION_TOKEN")
	setString(&cfg.Agent.DeviceID, "AGENT_DEVICE_ID")
	setString(&cfg.Agent.LocationFeed, "AGENT_LOCATION_FEED")
	setString(&cfg.Agent.SingleFixSchedule, "AGENT_SINGLE_FIX_SCHEDULE")
	if perms := os.Getenv("AGENT_PERMISSIONS"); perms != "" {
		cfg.Agent.Permissions = splitList(perms)
	}
	setBool(&cfg.Agent.AutoGrant, "AGENT_AUTO_GRANT")
	setBool(&cfg.Agent.Bell, "AGENT_BELL")

	setString(&cfg.Store.Backend, "STORE_BACKEND")
	setString(&cfg.Store.ProjectID, "FIRESTORE_PROJECT_ID")
	setString(&cfg.Store.CredentialsPath, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&cfg.FCM.CredentialsPath, "FCM_CREDENTIALS_PATH")

	setString(&cfg.Database.Path, "DATABASE_PATH")
	setString(&cfg.Database.URL, "DATABASE_URL")

	setBool(&cfg.Telemetry.Enabled, "OTEL_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.Environment, "ENVIRONMENT")

	setInt(&cfg.Invitations.TTLHours, "INVITATION_TTL_HOURS")
	setString(&cfg.Invitations.PurgeSchedule, "INVITATION_PURGE_SCHEDULE")
	setInt(&cfg.AlarmLimit.PerMinute, "ALARM_LIMIT_PER_MINUTE")
	setInt(&cfg.AlarmLimit.Burst, "ALARM_LIMIT_BURST")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.File, "LOG_FILE")
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Store.Backend) {
	case "memory", "firestore":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.UseFirestore() && c.Store.ProjectID == "" {
		return fmt.Errorf("store.projectId is required for the firestore backend")
	}
	if c.Invitations.TTLHours <= 0 {
		return fmt.Errorf("invitations.ttlHours must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
