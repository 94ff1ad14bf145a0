// Package config assembles server settings from defaults, an optional JSON
// file, environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Storage modes. Interactive mode enrolls into a mutable SQL store and logs
// audit events to the console; restricted mode serves the enrolled dataset and
// persists audit events to the log store.
const (
	ModeInteractive = "interactive"
	ModeRestricted  = "restricted"
)

// Write policies of the enrolled dataset backend.
const (
	WritePolicyReject  = "reject"
	WritePolicyDiscard = "discard"
	WritePolicyPersist = "persist"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "pgx"

	ObjectStoreMemory = "memory"
	ObjectStoreS3     = "s3"
)

// DevSessionSecret is the fallback signing secret for local development.
// Validate refuses it in restricted mode.
const DevSessionSecret = "dev-secret-change-me"

// Config holds runtime settings for the gate server.
//
// Fields:
//   - Mode: ModeInteractive or ModeRestricted, fixed for the process lifetime.
//   - HTTPAddr: bind address of the HTTP listener.
//   - SessionSecret / SessionTTL: HMAC key and lifetime of session tokens.
//   - ChallengeTTL: lifetime of the ceremony challenge cookies.
//   - LogAPIKey: bearer key for the ingest endpoint; empty disables the check.
//   - DatabaseDialect / DatabaseDSN: mutable backend (sqlite or pgx).
//   - ObjectStore and S3*: blob service holding logs and the enrolled dataset.
//   - EnrolledDataset*: location and write policy of the enrolled dataset.
//   - AllowRestrictedEnrollment: permit registration outside interactive mode
//     (only useful together with the persist policy).
//   - AuditWriteTimeout: bound on a single best-effort audit append.
type Config struct {
	Mode                      string        `env:"PASSKEYGATE_MODE"`
	HTTPAddr                  string        `env:"HTTP_ADDR"`
	RPName                    string        `env:"RP_NAME"`
	LogLevel                  string        `env:"LOG_LEVEL"`
	SessionSecret             string        `env:"SESSION_SECRET"`
	SessionTTL                time.Duration `env:"SESSION_TTL"`
	ChallengeTTL              time.Duration `env:"CHALLENGE_TTL"`
	LogAPIKey                 string        `env:"LOG_API_KEY"`
	DatabaseDialect           string        `env:"DATABASE_DIALECT"`
	DatabaseDSN               string        `env:"DATABASE_DSN"`
	ObjectStore               string        `env:"OBJECT_STORE"`
	S3RootUser                string        `env:"S3_ROOT_USER"`
	S3RootPassword            string        `env:"S3_ROOT_PASSWORD"`
	S3Bucket                  string        `env:"S3_BUCKET"`
	S3Region                  string        `env:"S3_REGION"`
	S3BaseEndpoint            string        `env:"S3_BASE_ENDPOINT"`
	EnrolledDatasetKey        string        `env:"ENROLLED_DATASET_KEY"`
	EnrolledDatasetFile       string        `env:"ENROLLED_DATASET_FILE"`
	EnrolledWritePolicy       string        `env:"ENROLLED_WRITE_POLICY"`
	AllowRestrictedEnrollment bool          `env:"ALLOW_RESTRICTED_ENROLLMENT"`
	AuditWriteTimeout         time.Duration `env:"AUDIT_WRITE_TIMEOUT"`
}

// LoadDefaults populates Config with development defaults.
// NOTE: the session secret is insecure and rejected in restricted mode.
func (c *Config) LoadDefaults() {
	c.Mode = ModeInteractive
	c.HTTPAddr = ":8080"
	c.RPName = "Passkey Gate"
	c.LogLevel = "info"
	c.SessionSecret = DevSessionSecret
	c.SessionTTL = 7 * 24 * time.Hour
	c.ChallengeTTL = 5 * time.Minute
	c.DatabaseDialect = DialectSQLite
	c.DatabaseDSN = "file:data/app.db?_pragma=foreign_keys(1)"
	c.ObjectStore = ObjectStoreMemory
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "passkeygate"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.EnrolledDatasetKey = "enrolled/v1/dataset.json"
	c.EnrolledWritePolicy = WritePolicyReject
	c.AuditWriteTimeout = 5 * time.Second
}

// Interactive reports whether the process runs in interactive mode.
func (c *Config) Interactive() bool {
	return c.Mode == ModeInteractive
}

// RegistrationAllowed reports whether new passkeys may be enrolled.
func (c *Config) RegistrationAllowed() bool {
	return c.Interactive() || c.AllowRestrictedEnrollment
}

// Validate checks enumerations and refuses insecure restricted setups.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeInteractive, ModeRestricted:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	switch c.EnrolledWritePolicy {
	case WritePolicyReject, WritePolicyDiscard, WritePolicyPersist:
	default:
		errs = append(errs, fmt.Errorf("unknown enrolled write policy %q", c.EnrolledWritePolicy))
	}

	switch c.DatabaseDialect {
	case DialectSQLite, DialectPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown database dialect %q", c.DatabaseDialect))
	}

	switch c.ObjectStore {
	case ObjectStoreMemory, ObjectStoreS3:
	default:
		errs = append(errs, fmt.Errorf("unknown object store %q", c.ObjectStore))
	}

	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("challenge ttl must be positive"))
	}

	if c.Mode == ModeRestricted {
		if c.SessionSecret == "" || c.SessionSecret == DevSessionSecret {
			errs = append(errs, errors.New("restricted mode requires SESSION_SECRET to be set"))
		}
		if c.ObjectStore != ObjectStoreS3 && c.EnrolledDatasetFile == "" {
			errs = append(errs, errors.New("restricted mode requires the s3 object store or an enrolled dataset file"))
		}
		if c.EnrolledWritePolicy == WritePolicyPersist && c.EnrolledDatasetFile != "" {
			errs = append(errs, errors.New("persist write policy requires the dataset to live in the object store"))
		}
		if c.AllowRestrictedEnrollment && c.EnrolledWritePolicy != WritePolicyPersist {
			errs = append(errs, errors.New("restricted enrollment requires the persist write policy"))
		}
	}

	return errors.Join(errs...)
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment and finally command-line flags.
// The result is validated.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, nil); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoad is LoadConfig for main packages: it reads os.Args and exits on error.
func MustLoad() *Config {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}
