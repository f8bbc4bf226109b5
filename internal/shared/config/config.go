// Package config loads the single typed configuration record at startup.
// Trust-critical settings (signer provider, TSA provider, fallback flag,
// policy OID) fail startup on unknown values instead of silently defaulting.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default policy OID is a placeholder; operators must set a real policy
// before production use. Validate rejects it when ENV=production.
const DefaultPolicyOID = "1.2.3.4.5.777"

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Signer   SignerConfig
	TSA      TSAConfig
	Store    StoreConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int
}

func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// StoreConfig selects the evidence store backend.
type StoreConfig struct {
	// Backend: "postgres" or "memory". Memory is for development and tests.
	Backend string
}

// SignerConfig configures the HSM/signer provider.
type SignerConfig struct {
	// Provider: "dev", "external_cli", "kms_aws"
	Provider string
	// CLIPath is the signing tool binary for external_cli
	CLIPath string
	// Mode: "keyless", "key", "kms" (external_cli only)
	Mode string
	// KeyPath is the local key file for mode=key
	KeyPath string
	// KMSURI is the opaque key reference for mode=kms and for kms_aws
	KMSURI string
	// IdentityToken for keyless OIDC flows
	IdentityToken string
	// RekorURL / FulcioURL override the transparency log and CA endpoints
	RekorURL  string
	FulcioURL string
	// KeyPassword is passed to the tool via environment, never argv
	KeyPassword string
}

// TSAConfig configures the time-stamp authority client.
type TSAConfig struct {
	// Provider: "none", "dev", "clock", "rfc3161", "sigstore_bundle"
	Provider string
	// URL is the RFC 3161 endpoint
	URL string
	// UseContainer runs the TSQ-encoding tool inside a container
	UseContainer bool
	// CertReq asks the TSA to include its certificate
	CertReq bool
	// PolicyOID is the requested timestamp policy
	PolicyOID string
	// DevFallback substitutes the dev TSA when rfc3161 fails; the
	// substitution is always recorded in the token
	DevFallback bool
}

var signerProviders = map[string]bool{"dev": true, "external_cli": true, "kms_aws": true}
var signerModes = map[string]bool{"": true, "keyless": true, "key": true, "kms": true}
var tsaProviders = map[string]bool{"none": true, "dev": true, "clock": true, "rfc3161": true, "sigstore_bundle": true}
var storeBackends = map[string]bool{"postgres": true, "memory": true}

// Load builds the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			Env:            getEnv("ENV", "development"),
			RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 60)) * time.Second,
			RateLimitRPS:   getEnvInt("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "trustcore"),
			Password: getEnv("DB_PASSWORD", "trustcore"),
			Database: getEnv("DB_NAME", "trustcore"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 25),
			MinConns: getEnvInt("DB_MIN_CONNS", 5),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Issuer:    getEnv("JWT_ISSUER", "trustcore"),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "postgres"),
		},
		Signer: SignerConfig{
			Provider:      getEnv("HSM_PROVIDER", "dev"),
			CLIPath:       getEnv("SIGNER_CLI_PATH", "cosign"),
			Mode:          getEnv("SIGNER_MODE", ""),
			KeyPath:       getEnv("SIGNER_KEY_PATH", ""),
			KMSURI:        getEnv("SIGNER_KMS_URI", ""),
			IdentityToken: getEnv("SIGNER_IDENTITY_TOKEN", ""),
			RekorURL:      getEnv("SIGNER_REKOR_URL", ""),
			FulcioURL:     getEnv("SIGNER_FULCIO_URL", ""),
			KeyPassword:   getEnv("SIGNER_KEY_PASSWORD", ""),
		},
	}

	var err error
	cfg.TSA = TSAConfig{
		Provider:  getEnv("TSA_PROVIDER", "none"),
		URL:       getEnv("TSA_URL", ""),
		PolicyOID: getEnv("TSA_POLICY_OID", DefaultPolicyOID),
	}
	if cfg.TSA.UseContainer, err = getEnvBoolStrict("TSA_USE_CONTAINER", false); err != nil {
		return nil, err
	}
	if cfg.TSA.CertReq, err = getEnvBoolStrict("TSA_CERT_REQ", true); err != nil {
		return nil, err
	}
	if cfg.TSA.DevFallback, err = getEnvBoolStrict("TSA_DEV_FALLBACK", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the trust-critical constraints.
func (c *Config) Validate() error {
	if !signerProviders[c.Signer.Provider] {
		return fmt.Errorf("unknown HSM_PROVIDER %q", c.Signer.Provider)
	}
	if !signerModes[c.Signer.Mode] {
		return fmt.Errorf("unknown SIGNER_MODE %q", c.Signer.Mode)
	}
	if !tsaProviders[c.TSA.Provider] {
		return fmt.Errorf("unknown TSA_PROVIDER %q", c.TSA.Provider)
	}
	if !storeBackends[c.Store.Backend] {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	if c.Signer.Provider == "external_cli" {
		if c.Signer.Mode == "" {
			return fmt.Errorf("SIGNER_MODE is required for HSM_PROVIDER=external_cli")
		}
		if c.Signer.Mode == "key" && c.Signer.KeyPath == "" {
			return fmt.Errorf("SIGNER_KEY_PATH is required for SIGNER_MODE=key")
		}
		if c.Signer.Mode == "kms" && c.Signer.KMSURI == "" {
			return fmt.Errorf("SIGNER_KMS_URI is required for SIGNER_MODE=kms")
		}
	}
	if c.Signer.Provider == "kms_aws" && c.Signer.KMSURI == "" {
		return fmt.Errorf("SIGNER_KMS_URI is required for HSM_PROVIDER=kms_aws")
	}

	if c.TSA.Provider == "rfc3161" && c.TSA.URL == "" {
		return fmt.Errorf("TSA_URL is required for TSA_PROVIDER=rfc3161")
	}
	if c.TSA.Provider == "sigstore_bundle" && c.Signer.Provider != "external_cli" {
		return fmt.Errorf("TSA_PROVIDER=sigstore_bundle requires HSM_PROVIDER=external_cli")
	}

	if c.Server.IsProduction() {
		// Clock and none tokens are not timestamp proofs; a dev signer
		// produces evidence that dies with the process.
		if c.TSA.Provider == "clock" || c.TSA.Provider == "none" {
			return fmt.Errorf("TSA_PROVIDER=%s is not allowed in production", c.TSA.Provider)
		}
		if c.Signer.Provider == "dev" {
			return fmt.Errorf("HSM_PROVIDER=dev is not allowed in production")
		}
		if c.TSA.PolicyOID == DefaultPolicyOID {
			return fmt.Errorf("TSA_POLICY_OID must be overridden in production")
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBoolStrict rejects malformed boolean values instead of defaulting;
// a typo in TSA_DEV_FALLBACK must not silently change trust behavior.
func getEnvBoolStrict(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s: %q", key, value)
	}
	return b, nil
}
