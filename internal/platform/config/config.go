package config

import (
	"os"
	"strconv"
)

// Core captures the configuration surface of the dataset core: where the
// registry document lives, whether and how much to cache, and how durable
// metadata writes are.
type Core struct {
	RegistryPath     string
	CacheEnabled     bool
	CacheBudgetBytes int64
	BackupsEnabled   bool
	BackupRetention  int
	SubjectIDColumn  string
}

// FromEnv builds a Core config from environment variables so main stays lean.
func FromEnv() Core {
	registryPath := os.Getenv("OUTLAB_REGISTRY_PATH")
	if registryPath == "" {
		registryPath = "data/registry.json"
	}

	return Core{
		RegistryPath:     registryPath,
		CacheEnabled:     envBool("OUTLAB_CACHE_ENABLED", true),
		CacheBudgetBytes: envInt64("OUTLAB_CACHE_BUDGET_BYTES", 256<<20),
		BackupsEnabled:   envBool("OUTLAB_BACKUPS_ENABLED", true),
		BackupRetention:  int(envInt64("OUTLAB_BACKUP_RETENTION", 5)),
		SubjectIDColumn:  os.Getenv("OUTLAB_SUBJECT_ID_COLUMN"),
	}
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
