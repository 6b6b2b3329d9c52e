// Package config loads process settings from VAULTLINE_* environment
// variables and the access-control file from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvEncryptionKey       = "VAULTLINE_ENCRYPTION_KEY"
	EnvPGDSN               = "VAULTLINE_PG_DSN"
	EnvRedisAddr           = "VAULTLINE_REDIS_ADDR"
	EnvAccessFile          = "VAULTLINE_ACCESS_FILE"
	EnvOpTimeout           = "VAULTLINE_OP_TIMEOUT"
	EnvExportRatePerMinute = "VAULTLINE_EXPORT_RATE_PER_MINUTE"
	EnvExportBurst         = "VAULTLINE_EXPORT_BURST"
	EnvAuditMaxDetails     = "VAULTLINE_AUDIT_MAX_DETAILS"
)

var ErrMissingKey = errors.New("config: " + EnvEncryptionKey + " is required")

// Config holds the process settings. Empty PGDSN and RedisAddr select the
// in-memory stores and the in-process locker.
type Config struct {
	EncryptionKey       string
	PGDSN               string
	RedisAddr           string
	AccessFile          string
	OpTimeout           time.Duration
	ExportRatePerMinute float64
	ExportBurst         int
	AuditMaxDetails     int
}

// FromEnv reads the process environment.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	cfg := Config{
		EncryptionKey: get(EnvEncryptionKey),
		PGDSN:         get(EnvPGDSN),
		RedisAddr:     get(EnvRedisAddr),
		AccessFile:    get(EnvAccessFile),
		ExportBurst:   1,
	}
	if v := get(EnvOpTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("config: %s: invalid duration %q", EnvOpTimeout, v)
		}
		cfg.OpTimeout = d
	}
	if v := get(EnvExportRatePerMinute); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return Config{}, fmt.Errorf("config: %s: invalid rate %q", EnvExportRatePerMinute, v)
		}
		cfg.ExportRatePerMinute = f
	}
	if v := get(EnvExportBurst); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("config: %s: invalid burst %q", EnvExportBurst, v)
		}
		cfg.ExportBurst = n
	}
	if v := get(EnvAuditMaxDetails); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("config: %s: invalid size %q", EnvAuditMaxDetails, v)
		}
		cfg.AuditMaxDetails = n
	}
	return cfg, nil
}

// Validate reports settings the process cannot start without.
func (c Config) Validate() error {
	if c.EncryptionKey == "" {
		return ErrMissingKey
	}
	return nil
}
