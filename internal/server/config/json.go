package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/passkeygate/internal/flagx"
	"github.com/dmitrijs2005/passkeygate/internal/timex"
)

// JsonConfig is the on-disk shape of the optional config file. Durations
// accept "5m"-style strings or integer nanoseconds.
type JsonConfig struct {
	Mode                      string         `json:"mode"`
	HTTPAddr                  string         `json:"http_addr"`
	RPName                    string         `json:"rp_name"`
	LogLevel                  string         `json:"log_level"`
	SessionSecret             string         `json:"session_secret"`
	SessionTTL                timex.Duration `json:"session_ttl"`
	ChallengeTTL              timex.Duration `json:"challenge_ttl"`
	LogAPIKey                 string         `json:"log_api_key"`
	DatabaseDialect           string         `json:"database_dialect"`
	DatabaseDSN               string         `json:"database_dsn"`
	ObjectStore               string         `json:"object_store"`
	S3RootUser                string         `json:"s3_root_user"`
	S3RootPassword            string         `json:"s3_root_password"`
	S3Bucket                  string         `json:"s3_bucket"`
	S3Region                  string         `json:"s3_region"`
	S3BaseEndpoint            string         `json:"s3_base_endpoint"`
	EnrolledDatasetKey        string         `json:"enrolled_dataset_key"`
	EnrolledDatasetFile       string         `json:"enrolled_dataset_file"`
	EnrolledWritePolicy       string         `json:"enrolled_write_policy"`
	AllowRestrictedEnrollment bool           `json:"allow_restricted_enrollment"`
	AuditWriteTimeout         timex.Duration `json:"audit_write_timeout"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		Mode:                      c.Mode,
		HTTPAddr:                  c.HTTPAddr,
		RPName:                    c.RPName,
		LogLevel:                  c.LogLevel,
		SessionSecret:             c.SessionSecret,
		SessionTTL:                timex.Duration{Duration: c.SessionTTL},
		ChallengeTTL:              timex.Duration{Duration: c.ChallengeTTL},
		LogAPIKey:                 c.LogAPIKey,
		DatabaseDialect:           c.DatabaseDialect,
		DatabaseDSN:               c.DatabaseDSN,
		ObjectStore:               c.ObjectStore,
		S3RootUser:                c.S3RootUser,
		S3RootPassword:            c.S3RootPassword,
		S3Bucket:                  c.S3Bucket,
		S3Region:                  c.S3Region,
		S3BaseEndpoint:            c.S3BaseEndpoint,
		EnrolledDatasetKey:        c.EnrolledDatasetKey,
		EnrolledDatasetFile:       c.EnrolledDatasetFile,
		EnrolledWritePolicy:       c.EnrolledWritePolicy,
		AllowRestrictedEnrollment: c.AllowRestrictedEnrollment,
		AuditWriteTimeout:         timex.Duration{Duration: c.AuditWriteTimeout},
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.Mode = j.Mode
	c.HTTPAddr = j.HTTPAddr
	c.RPName = j.RPName
	c.LogLevel = j.LogLevel
	c.SessionSecret = j.SessionSecret
	c.SessionTTL = j.SessionTTL.Duration
	c.ChallengeTTL = j.ChallengeTTL.Duration
	c.LogAPIKey = j.LogAPIKey
	c.DatabaseDialect = j.DatabaseDialect
	c.DatabaseDSN = j.DatabaseDSN
	c.ObjectStore = j.ObjectStore
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.EnrolledDatasetKey = j.EnrolledDatasetKey
	c.EnrolledDatasetFile = j.EnrolledDatasetFile
	c.EnrolledWritePolicy = j.EnrolledWritePolicy
	c.AllowRestrictedEnrollment = j.AllowRestrictedEnrollment
	c.AuditWriteTimeout = j.AuditWriteTimeout.Duration
}

// parseJson overlays the file named by -c/-config, if any. Keys missing from
// the file keep their current values.
func parseJson(cfg *Config, args []string) error {
	path := flagx.JsonConfigFlags(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	jc := toJson(cfg)
	if err := json.Unmarshal(data, jc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	jc.apply(cfg)

	return nil
}
