// Package config loads service configuration from the environment and an optional YAML file
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/celestiaorg/wgvpn/internal/constants"
)

// Backend modes
const (
	BackendSimulate = "simulate"
	BackendAzure    = "azure"
)

// Job store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Authorization modes
const (
	AuthPrincipal = "principal"
	AuthJWT       = "jwt"
	AuthNone      = "none"
)

// Config is the full service configuration
type Config struct {
	Port             string  `yaml:"port"`
	LogLevel         string  `yaml:"log_level"`
	CORSAllowOrigins string  `yaml:"cors_allow_origins"`
	Backend          Backend `yaml:"backend"`
	Store            Store   `yaml:"store"`
	Auth             Auth    `yaml:"auth"`
	Azure            Azure   `yaml:"azure"`
	Timings          Timings `yaml:"timings"`
}

// Backend selects the provisioning backend
type Backend struct {
	Mode              string        `yaml:"mode"`
	SimulateStepDelay time.Duration `yaml:"simulate_step_delay"`
}

// Store selects the job store
type Store struct {
	Driver        string `yaml:"driver"`
	DBHost        string `yaml:"db_host"`
	DBPort        int    `yaml:"db_port"`
	DBUser        string `yaml:"db_user"`
	DBPassword    string `yaml:"db_password"`
	DBName        string `yaml:"db_name"`
	DBSSLEnabled  bool   `yaml:"db_ssl_enabled"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// Auth configures the authorization collaborator
type Auth struct {
	Mode          string   `yaml:"mode"`
	AllowedEmails []string `yaml:"allowed_emails"`
	RequiredRole  string   `yaml:"required_role"`
	JWTSecret     string   `yaml:"jwt_secret"`
}

// Azure configures the real provisioning backend
type Azure struct {
	SubscriptionID string `yaml:"subscription_id"`
	ResourceGroup  string `yaml:"resource_group"`
	Location       string `yaml:"location"`
	AdminUsername  string `yaml:"admin_username"`
	SSHPublicKey   string `yaml:"ssh_public_key"`
	VMSize         string `yaml:"vm_size"`
}

// Timings bounds the workflow and the session lifecycle
type Timings struct {
	WorkflowTimeout   time.Duration `yaml:"workflow_timeout"`
	SessionLifetime   time.Duration `yaml:"session_lifetime"`
	JobRetention      time.Duration `yaml:"job_retention"`
	OrphanMaxAge      time.Duration `yaml:"orphan_max_age"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Port:             "8080",
		LogLevel:         "info",
		CORSAllowOrigins: "*",
		Backend: Backend{
			Mode:              BackendSimulate,
			SimulateStepDelay: 2 * time.Second,
		},
		Store: Store{
			Driver:    StoreMemory,
			DBHost:    "localhost",
			DBPort:    5432,
			DBUser:    "postgres",
			DBName:    "wgvpn",
			RedisAddr: "localhost:6379",
		},
		Auth: Auth{
			Mode:         AuthPrincipal,
			RequiredRole: "invited",
		},
		Azure: Azure{
			Location:      "eastus",
			AdminUsername: "azureuser",
			VMSize:        "Standard_B1ls",
		},
		Timings: Timings{
			WorkflowTimeout:   10 * time.Minute,
			SessionLifetime:   30 * time.Minute,
			JobRetention:      24 * time.Hour,
			OrphanMaxAge:      20 * time.Minute,
			ReconcileInterval: time.Minute,
		},
	}
}

// GetEnv retrieves the value of an environment variable with a fallback value if not set
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Load builds the configuration: defaults, then CONFIG_FILE, then environment variables
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(constants.EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = GetEnv(constants.EnvPort, c.Port)
	c.LogLevel = GetEnv(constants.EnvLogLevel, c.LogLevel)
	c.CORSAllowOrigins = GetEnv(constants.EnvCORSAllowOrigins, c.CORSAllowOrigins)

	c.Backend.Mode = strings.ToLower(GetEnv(constants.EnvBackendMode, c.Backend.Mode))
	if dryRun, ok := os.LookupEnv(constants.EnvDryRun); ok {
		enabled, err := strconv.ParseBool(dryRun)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", constants.EnvDryRun, err)
		}
		if enabled {
			c.Backend.Mode = BackendSimulate
		}
	}

	c.Store.Driver = strings.ToLower(GetEnv(constants.EnvJobStore, c.Store.Driver))
	c.Store.DBHost = GetEnv(constants.EnvDBHost, c.Store.DBHost)
	c.Store.DBUser = GetEnv(constants.EnvDBUser, c.Store.DBUser)
	c.Store.DBPassword = GetEnv(constants.EnvDBPassword, c.Store.DBPassword)
	c.Store.DBName = GetEnv(constants.EnvDBName, c.Store.DBName)
	c.Store.RedisAddr = GetEnv(constants.EnvRedisAddr, c.Store.RedisAddr)
	c.Store.RedisPassword = GetEnv(constants.EnvRedisPassword, c.Store.RedisPassword)

	c.Auth.Mode = strings.ToLower(GetEnv(constants.EnvAuthMode, c.Auth.Mode))
	c.Auth.RequiredRole = GetEnv(constants.EnvRequiredRole, c.Auth.RequiredRole)
	c.Auth.JWTSecret = GetEnv(constants.EnvJWTSecret, c.Auth.JWTSecret)
	if emails, ok := os.LookupEnv(constants.EnvAllowedEmails); ok {
		c.Auth.AllowedEmails = SplitList(emails)
	}

	c.Azure.SubscriptionID = GetEnv(constants.EnvAzureSubscriptionID, c.Azure.SubscriptionID)
	c.Azure.ResourceGroup = GetEnv(constants.EnvAzureResourceGroup, c.Azure.ResourceGroup)
	c.Azure.Location = GetEnv(constants.EnvAzureLocation, c.Azure.Location)
	c.Azure.AdminUsername = GetEnv(constants.EnvAdminUsername, c.Azure.AdminUsername)
	c.Azure.SSHPublicKey = GetEnv(constants.EnvSSHPublicKey, c.Azure.SSHPublicKey)
	c.Azure.VMSize = GetEnv(constants.EnvVMSize, c.Azure.VMSize)

	var err error
	if c.Store.DBPort, err = envInt(constants.EnvDBPort, c.Store.DBPort); err != nil {
		return err
	}
	if c.Store.RedisDB, err = envInt(constants.EnvRedisDB, c.Store.RedisDB); err != nil {
		return err
	}
	if c.Store.DBSSLEnabled, err = envBool(constants.EnvDBSSLEnabled, c.Store.DBSSLEnabled); err != nil {
		return err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{constants.EnvSimulateStepDelay, &c.Backend.SimulateStepDelay},
		{constants.EnvWorkflowTimeout, &c.Timings.WorkflowTimeout},
		{constants.EnvSessionLifetime, &c.Timings.SessionLifetime},
		{constants.EnvJobRetention, &c.Timings.JobRetention},
		{constants.EnvOrphanMaxAge, &c.Timings.OrphanMaxAge},
		{constants.EnvReconcileInterval, &c.Timings.ReconcileInterval},
	}
	for _, d := range durations {
		if *d.dst, err = envDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects inconsistent configurations
func (c Config) Validate() error {
	switch c.Backend.Mode {
	case BackendSimulate:
	case BackendAzure:
		if c.Azure.SubscriptionID == "" || c.Azure.ResourceGroup == "" {
			return fmt.Errorf("azure backend requires %s and %s",
				constants.EnvAzureSubscriptionID, constants.EnvAzureResourceGroup)
		}
	default:
		return fmt.Errorf("unknown backend mode %q", c.Backend.Mode)
	}

	switch c.Store.Driver {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unknown job store %q", c.Store.Driver)
	}

	switch c.Auth.Mode {
	case AuthPrincipal, AuthNone:
	case AuthJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("jwt auth mode requires %s", constants.EnvJWTSecret)
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}

	if c.Timings.WorkflowTimeout <= 0 || c.Timings.SessionLifetime <= 0 ||
		c.Timings.JobRetention <= 0 || c.Timings.OrphanMaxAge <= 0 ||
		c.Timings.ReconcileInterval <= 0 {
		return fmt.Errorf("workflow and session durations must be positive")
	}
	// cleanup must never outrun the session a job record describes
	if c.Timings.JobRetention <= c.Timings.SessionLifetime {
		return fmt.Errorf("%s (%s) must be longer than %s (%s)",
			constants.EnvJobRetention, c.Timings.JobRetention, constants.EnvSessionLifetime, c.Timings.SessionLifetime)
	}
	// with a shared store, another instance may still be running a workflow younger than its timeout
	if c.Timings.OrphanMaxAge <= c.Timings.WorkflowTimeout {
		return fmt.Errorf("%s (%s) must be longer than %s (%s)",
			constants.EnvOrphanMaxAge, c.Timings.OrphanMaxAge, constants.EnvWorkflowTimeout, c.Timings.WorkflowTimeout)
	}
	if c.Backend.SimulateStepDelay < 0 {
		return fmt.Errorf("simulate step delay cannot be negative")
	}
	return nil
}

// SplitList splits a comma separated list, trimming blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
