package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables consulted for defaults.
const (
	EnvConnector = "DUMPER_CONNECTOR"
	EnvOutput    = "DUMPER_OUTPUT"
	EnvURL       = "DUMPER_URL"
	EnvPassword  = "DUMPER_PASSWORD"
	EnvPoolSize  = "DUMPER_POOL_SIZE"
	EnvPlan      = "DUMPER_PLAN"
	EnvTrace     = "DUMPER_TRACE"
	EnvTimeout   = "DUMPER_HTTP_TIMEOUT"

	EnvS3Endpoint  = "DUMPER_S3_ENDPOINT"
	EnvS3AccessKey = "DUMPER_S3_ACCESS_KEY"
	EnvS3SecretKey = "DUMPER_S3_SECRET_KEY"
	EnvS3Region    = "DUMPER_S3_REGION"
	EnvS3UseSSL    = "DUMPER_S3_USE_SSL"
)

func String(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

func Bool(key string, def bool) (bool, error) {
	if v, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return b, nil
	}
	return def, nil
}

func Int(key string, def int) (int, error) {
	if v, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}
