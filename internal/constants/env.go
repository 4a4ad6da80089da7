// Package constants provides centralized definitions of constants used throughout the application
package constants

// Server and logging
const (
	EnvPort             = "PORT"
	EnvLogLevel         = "LOG_LEVEL"
	EnvConfigFile       = "CONFIG_FILE"
	EnvCORSAllowOrigins = "CORS_ALLOW_ORIGINS"
	// EnvServerAddress is read by the CLI
	EnvServerAddress = "WGVPN_SERVER_ADDRESS"
)

// Backend selection
const (
	EnvBackendMode       = "BACKEND_MODE"
	EnvDryRun            = "DRY_RUN"
	EnvSimulateStepDelay = "SIMULATE_STEP_DELAY"
)

// Job store selection
const (
	EnvJobStore      = "JOB_STORE"
	EnvDBHost        = "DB_HOST"
	EnvDBPort        = "DB_PORT"
	EnvDBUser        = "DB_USER"
	EnvDBPassword    = "DB_PASSWORD"
	EnvDBName        = "DB_NAME"
	EnvDBSSLEnabled  = "DB_SSL_ENABLED"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"
)

// Authorization
const (
	EnvAuthMode      = "AUTH_MODE"
	EnvAllowedEmails = "ALLOWED_EMAILS"
	EnvRequiredRole  = "REQUIRED_ROLE"
	EnvJWTSecret     = "JWT_SECRET"
)

// Azure
const (
	EnvAzureSubscriptionID = "AZURE_SUBSCRIPTION_ID"
	EnvAzureResourceGroup  = "AZURE_RESOURCE_GROUP"
	EnvAzureLocation       = "AZURE_LOCATION"
	EnvAdminUsername       = "ADMIN_USERNAME"
	EnvSSHPublicKey        = "SSH_PUBLIC_KEY"
	EnvVMSize              = "VM_SIZE"
)

// Workflow timing
const (
	EnvWorkflowTimeout   = "WORKFLOW_TIMEOUT"
	EnvSessionLifetime   = "SESSION_LIFETIME"
	EnvJobRetention      = "JOB_RETENTION"
	EnvOrphanMaxAge      = "ORPHAN_MAX_AGE"
	EnvReconcileInterval = "RECONCILE_INTERVAL"
)

// ClientPrincipalHeader carries the base64 encoded identity injected by the static web app host
const ClientPrincipalHeader = "X-MS-CLIENT-PRINCIPAL"
