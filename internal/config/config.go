// Package config loads runtime settings for the territory API from flags, environment, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "TERRITORY"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = DriverSQLite
	defaultDatabasePath      = "territory.db"
	defaultLogLevel          = "info"
	defaultIssuer            = "tauth"
	defaultCookieName        = "app_session"
	defaultRestrictedRole    = "child"
	defaultKafkaTopic        = "territory.changes"
	defaultKafkaGroupID      = "territory-replica"
	defaultContestWindow     = 30 * time.Second
	defaultMaxNeighborRadius = 25
)

// AppConfig captures runtime configuration for the API server and the replica follower.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseDriver string
	DatabasePath   string
	DatabaseURL    string

	AuthSigningSecret string
	AuthIssuer        string
	AuthCookieName    string

	RestrictedRoles []string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	ContestWindow     time.Duration
	MaxNeighborRadius int
}

// KafkaEnabled reports whether a change-feed broker list was configured.
func (c AppConfig) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("geofence.restricted_roles", []string{defaultRestrictedRole})
	configViper.SetDefault("kafka.topic", defaultKafkaTopic)
	configViper.SetDefault("kafka.group_id", defaultKafkaGroupID)
	configViper.SetDefault("contest.window", defaultContestWindow)
	configViper.SetDefault("grid.max_neighbor_radius", defaultMaxNeighborRadius)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       strings.TrimSpace(configViper.GetString("http.address")),
		LogLevel:          configViper.GetString("log.level"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      strings.TrimSpace(configViper.GetString("database.path")),
		DatabaseURL:       strings.TrimSpace(configViper.GetString("database.url")),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        strings.TrimSpace(configViper.GetString("auth.issuer")),
		AuthCookieName:    strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		RestrictedRoles:   splitList(configViper.GetStringSlice("geofence.restricted_roles")),
		KafkaBrokers:      splitList(configViper.GetStringSlice("kafka.brokers")),
		KafkaTopic:        strings.TrimSpace(configViper.GetString("kafka.topic")),
		KafkaGroupID:      strings.TrimSpace(configViper.GetString("kafka.group_id")),
		ContestWindow:     configViper.GetDuration("contest.window"),
		MaxNeighborRadius: configViper.GetInt("grid.max_neighbor_radius"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadReplica parses the subset of configuration the change-feed follower needs.
func LoadReplica(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  strings.TrimSpace(configViper.GetString("http.address")),
		LogLevel:     configViper.GetString("log.level"),
		KafkaBrokers: splitList(configViper.GetStringSlice("kafka.brokers")),
		KafkaTopic:   strings.TrimSpace(configViper.GetString("kafka.topic")),
		KafkaGroupID: strings.TrimSpace(configViper.GetString("kafka.group_id")),
	}
	if !cfg.KafkaEnabled() {
		return AppConfig{}, fmt.Errorf("kafka.brokers is required")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("kafka.topic is required")
	}
	if cfg.KafkaGroupID == "" {
		return AppConfig{}, fmt.Errorf("kafka.group_id is required")
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.AuthCookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.ContestWindow < 0 {
		return fmt.Errorf("contest.window must not be negative")
	}
	if c.MaxNeighborRadius <= 0 {
		return fmt.Errorf("grid.max_neighbor_radius must be positive")
	}
	if c.KafkaEnabled() && c.KafkaTopic == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}

// splitList flattens comma separated entries, which is how list values arrive from the environment.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
