package app_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/app"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/repository/repotest"
)

func sqliteConfig(t *testing.T) *common.Config {
	cfg := common.Defaults()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:" + filepath.Join(t.TempDir(), "app.db")
	return cfg
}

func TestNewWiresEverything(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	cfg.LLM.Gemini.APIKey = "test-key"
	cfg.LLM.Primary = "gemini"

	a, err := app.New(ctx, cfg, repotest.Logger())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NoError(t, a.Migrate(ctx))
	require.NoError(t, a.Ping(ctx))
	assert.Equal(t, []constants.Provider{constants.ProviderGemini}, a.LLM.Providers())

	counts, err := a.Queue.Status(ctx)
	require.NoError(t, err)
	for state, n := range counts {
		assert.Zero(t, n, state)
	}

	_, err = a.ObjectStore(ctx)
	assert.Error(t, err, "no bucket configured")
}

func TestNewLLMWithoutKeys(t *testing.T) {
	svc := app.NewLLM(common.Defaults(), repotest.Logger())
	assert.Empty(t, svc.Providers())
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Database.Driver = "oracle"
	_, err := app.New(context.Background(), cfg, repotest.Logger())
	assert.Error(t, err)
}
