package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"outlab/pkg/testutil"
)

func TestFromEnv(t *testing.T) {
	testutil.Given(t, "no environment overrides", func(t *testing.T) {
		cfg := FromEnv()
		require.Equal(t, "data/registry.json", cfg.RegistryPath)
		require.True(t, cfg.CacheEnabled)
		require.Equal(t, int64(256<<20), cfg.CacheBudgetBytes)
		require.True(t, cfg.BackupsEnabled)
		require.Equal(t, 5, cfg.BackupRetention)
		require.Empty(t, cfg.SubjectIDColumn)
	})

	testutil.Given(t, "explicit overrides", func(t *testing.T) {
		t.Setenv("OUTLAB_REGISTRY_PATH", "/var/lib/outlab/registry.json")
		t.Setenv("OUTLAB_CACHE_ENABLED", "false")
		t.Setenv("OUTLAB_CACHE_BUDGET_BYTES", "1048576")
		t.Setenv("OUTLAB_BACKUP_RETENTION", "9")
		t.Setenv("OUTLAB_SUBJECT_ID_COLUMN", "participant_id")

		cfg := FromEnv()
		require.Equal(t, "/var/lib/outlab/registry.json", cfg.RegistryPath)
		require.False(t, cfg.CacheEnabled)
		require.Equal(t, int64(1<<20), cfg.CacheBudgetBytes)
		require.Equal(t, 9, cfg.BackupRetention)
		require.Equal(t, "participant_id", cfg.SubjectIDColumn)
	})

	testutil.When(t, "values are malformed", func(t *testing.T) {
		t.Setenv("OUTLAB_CACHE_BUDGET_BYTES", "lots")
		t.Setenv("OUTLAB_CACHE_ENABLED", "yep")

		cfg := FromEnv()
		require.Equal(t, int64(256<<20), cfg.CacheBudgetBytes)
		require.True(t, cfg.CacheEnabled)
	})
}
