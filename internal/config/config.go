package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "FOLIO"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DatabaseDriverSQLite
	defaultDatabasePath      = "folio.db"
	defaultLogLevel          = "info"
	defaultSessionIssuer     = "folio-auth"
	defaultSessionCookieName = "folio_session"
	defaultSessionTTLMinutes = 720
	defaultRealtimeChannel   = "folio:documents-changed"
)

// Database drivers accepted by database.driver.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Configuration keys shared by the CLI flags and environment bindings.
const (
	KeyHTTPAddress          = "http.address"
	KeyDatabaseDriver       = "database.driver"
	KeyDatabasePath         = "database.path"
	KeyDatabaseDSN          = "database.dsn"
	KeySessionSigningSecret = "session.signing_secret"
	KeySessionIssuer        = "session.issuer"
	KeySessionCookieName    = "session.cookie_name"
	KeySessionTTLMinutes    = "session.ttl_minutes"
	KeyLogLevel             = "log.level"
	KeyRealtimeRedisURL     = "realtime.redis_url"
	KeyRealtimeChannel      = "realtime.channel"
	KeyCORSAllowedOrigins   = "cors.allowed_origins"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabaseDriver       string
	DatabasePath         string
	DatabaseDSN          string
	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string
	SessionTTL           time.Duration
	LogLevel             string
	RealtimeRedisURL     string
	RealtimeChannel      string
	AllowedOrigins       []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
// FOLIO_SESSION_SIGNING_SECRET sets session.signing_secret, and so on.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault(KeyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(KeyDatabaseDriver, defaultDatabaseDriver)
	configViper.SetDefault(KeyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(KeyLogLevel, defaultLogLevel)
	configViper.SetDefault(KeySessionIssuer, defaultSessionIssuer)
	configViper.SetDefault(KeySessionCookieName, defaultSessionCookieName)
	configViper.SetDefault(KeySessionTTLMinutes, defaultSessionTTLMinutes)
	configViper.SetDefault(KeyRealtimeChannel, defaultRealtimeChannel)
	configViper.SetDefault(KeyCORSAllowedOrigins, []string{})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          strings.TrimSpace(configViper.GetString(KeyHTTPAddress)),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString(KeyDatabaseDriver))),
		DatabasePath:         strings.TrimSpace(configViper.GetString(KeyDatabasePath)),
		DatabaseDSN:          strings.TrimSpace(configViper.GetString(KeyDatabaseDSN)),
		SessionSigningSecret: configViper.GetString(KeySessionSigningSecret),
		SessionIssuer:        strings.TrimSpace(configViper.GetString(KeySessionIssuer)),
		SessionCookieName:    strings.TrimSpace(configViper.GetString(KeySessionCookieName)),
		SessionTTL:           time.Duration(configViper.GetInt(KeySessionTTLMinutes)) * time.Minute,
		LogLevel:             configViper.GetString(KeyLogLevel),
		RealtimeRedisURL:     strings.TrimSpace(configViper.GetString(KeyRealtimeRedisURL)),
		RealtimeChannel:      strings.TrimSpace(configViper.GetString(KeyRealtimeChannel)),
		AllowedOrigins:       splitOrigins(configViper.GetStringSlice(KeyCORSAllowedOrigins)),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("%s is required", KeySessionSigningSecret)
	}
	if c.SessionCookieName == "" {
		return fmt.Errorf("%s is required", KeySessionCookieName)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%s must be positive", KeySessionTTLMinutes)
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("%s is required for the %s driver", KeyDatabasePath, DatabaseDriverSQLite)
		}
	case DatabaseDriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("%s is required for the %s driver", KeyDatabaseDSN, DatabaseDriverPostgres)
		}
	default:
		return fmt.Errorf("%s must be %s or %s, got %q", KeyDatabaseDriver, DatabaseDriverSQLite, DatabaseDriverPostgres, c.DatabaseDriver)
	}
	if c.RealtimeRedisURL != "" && c.RealtimeChannel == "" {
		return fmt.Errorf("%s is required when %s is set", KeyRealtimeChannel, KeyRealtimeRedisURL)
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(values []string) []string {
	var origins []string
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
