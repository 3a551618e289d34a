package config

import "time"

// Database connection pool settings for the credential mirror
const (
	DBMaxOpenConns    = 4
	DBMaxIdleConns    = 2
	DBConnMaxLifetime = 5 * time.Minute
)

// Bridge HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 10 * time.Second
)

// Outbound retry policy for idempotent requests
const (
	RetryMaxAttempts  = 3
	RetryInitialDelay = 200 * time.Millisecond
	RetryMaxDelay     = 2 * time.Second
)

// Live channel reconnect backoff
const (
	ReconnectInitialDelay = 500 * time.Millisecond
	ReconnectMaxDelay     = 10 * time.Second
)

// Mirror ping timeout at startup
const StorePingTimeout = 5 * time.Second

// Background job intervals
const GuardSweepInterval = time.Minute

// Key of the persisted credential mirror
const AuthStorageKey = "auth-storage"
