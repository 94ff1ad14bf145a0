package config

import (
	"flag"
	"fmt"

	"github.com/dmitrijs2005/passkeygate/internal/flagx"
)

var serverFlags = []string{"-a", "-m", "-s", "-d", "-k", "-o", "-w", "-f", "-l", "-r", "-u", "-p", "-b", "-g", "-e"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-m string   mode: interactive | restricted
//	-s string   session signing secret
//	-d string   database DSN
//	-k string   log ingest API key
//	-o string   object store: memory | s3
//	-w string   enrolled dataset write policy: reject | discard | persist
//	-f string   enrolled dataset file
//	-l string   log level
//	-r string   relying party display name
//	-u/-p/-b/-g/-e  S3 user, password, bucket, region, base endpoint
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.Mode, "m", config.Mode, "storage mode")
	fs.StringVar(&config.SessionSecret, "s", config.SessionSecret, "session secret")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogAPIKey, "k", config.LogAPIKey, "log ingest API key")
	fs.StringVar(&config.ObjectStore, "o", config.ObjectStore, "object store")
	fs.StringVar(&config.EnrolledWritePolicy, "w", config.EnrolledWritePolicy, "enrolled dataset write policy")
	fs.StringVar(&config.EnrolledDatasetFile, "f", config.EnrolledDatasetFile, "enrolled dataset file")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.RPName, "r", config.RPName, "relying party name")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(flagx.FilterArgs(args, serverFlags)); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	return nil
}
