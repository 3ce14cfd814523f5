package entitlements

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/La-R19/fiverecruit/pkg/observability"
)

func writeCatalog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestCatalog_PlanFor(t *testing.T) {
	c := NewCatalog(premiumPrice)
	assert.Equal(t, PlanPremium, c.PlanFor(premiumPrice))
	assert.Equal(t, PlanStandard, c.PlanFor("price_anything"))
	assert.Equal(t, PlanStandard, c.PlanFor(""))
	assert.True(t, c.Known(premiumPrice))
	assert.False(t, c.Known("price_anything"))
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	writeCatalog(t, path, "premium_price_ids:\n  - price_yearly\nstandard_price_ids:\n  - price_basic\n")

	c, err := LoadCatalog(premiumPrice, path)
	require.NoError(t, err)
	assert.Equal(t, PlanPremium, c.PlanFor("price_yearly"))
	assert.Equal(t, PlanPremium, c.PlanFor(premiumPrice), "configured price is always premium")
	assert.Equal(t, PlanStandard, c.PlanFor("price_basic"))
	assert.True(t, c.Known("price_basic"))

	_, err = LoadCatalog(premiumPrice, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestCatalog_ReloadKeepsMappingOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	writeCatalog(t, path, "premium_price_ids: [price_yearly]\n")

	c, err := LoadCatalog("", path)
	require.NoError(t, err)

	writeCatalog(t, path, "premium_price_ids: [unterminated\n")
	assert.Error(t, c.Reload())
	assert.Equal(t, PlanPremium, c.PlanFor("price_yearly"))
}

func TestCatalog_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.yaml")
	writeCatalog(t, path, "premium_price_ids: [price_yearly]\n")

	c, err := LoadCatalog("", path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, testLogger()) }()

	// give the watcher time to register before the write
	time.Sleep(100 * time.Millisecond)
	writeCatalog(t, path, "premium_price_ids: [price_yearly, price_monthly]\n")

	assert.Eventually(t, func() bool {
		return c.PlanFor("price_monthly") == PlanPremium
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestCatalog_WatchWithoutFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, NewCatalog(premiumPrice).Watch(ctx, nil))
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}
