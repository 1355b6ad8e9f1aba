package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-insignia/internal/config"
	"github.com/JakeFAU/marketplace-insignia/internal/insights"
	sqlitestore "github.com/JakeFAU/marketplace-insignia/internal/storage/sqlite"
)

// withRuntime swaps the runtime factory for the duration of a test.
func withRuntime(t *testing.T, mutate func(*config.Config)) {
	t.Helper()
	orig := loadRuntime
	loadRuntime = func(cfgFile string) (*runtime, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		if mutate != nil {
			mutate(&cfg)
		}
		return &runtime{cfg: &cfg, logger: zap.NewNop()}, nil
	}
	t.Cleanup(func() { loadRuntime = orig })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateMemoryBackend(t *testing.T) {
	withRuntime(t, nil)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "backend memory has no schema to apply")
}

func TestMigrateSQLiteBackend(t *testing.T) {
	withRuntime(t, func(c *config.Config) {
		c.Database.Backend = config.BackendSQLite
		c.Database.SQLitePath = filepath.Join(t.TempDir(), "insignia.db")
	})

	out, err := run(t, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "schema applied to sqlite")
}

func TestCleanupCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insignia.db")
	withRuntime(t, func(c *config.Config) {
		c.Database.Backend = config.BackendSQLite
		c.Database.SQLitePath = path
	})

	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.CreateSession(ctx, insights.Session{
		ID: "old", Query: "q", Platforms: []insights.Platform{insights.PlatformShopee}, JobState: insights.JobSucceeded,
	}))
	require.NoError(t, store.Close())

	out, err := run(t, "cleanup", "old")
	require.NoError(t, err)
	require.Equal(t, `{"success":true}`, strings.TrimSpace(out))

	store, err = sqlitestore.Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.GetSession(ctx, "old")
	require.ErrorIs(t, err, insights.ErrNotFound)
}

func TestCleanupRequiresSessionID(t *testing.T) {
	withRuntime(t, nil)

	_, err := run(t, "cleanup")
	require.Error(t, err)
}

func TestRootRejectsBadConfigFile(t *testing.T) {
	withRuntime(t, nil)

	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "migrate")
	require.Error(t, err)
}
