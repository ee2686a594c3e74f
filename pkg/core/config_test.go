package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/profilewatch/profilewatch-go/pkg/core"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	config, err := core.LoadConfigFromEnv()
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, "file", config.Store.Provider)
	assert.Equal(t, core.DefaultBatchSize, config.Queue.BatchSize)
	assert.Equal(t, 6*time.Hour, config.Queue.MinRevisitInterval)
	assert.True(t, config.Notify.Counts)
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_PROVIDER", "sqlite")
	t.Setenv("STORE_PATH", "/tmp/watch.db")
	t.Setenv("QUEUE_BATCH_SIZE", "9")
	t.Setenv("QUEUE_MIN_REVISIT_INTERVAL", "30m")
	t.Setenv("MONITOR_AUTHENTICATED", "true")
	t.Setenv("NOTIFY_TEXT", "false")
	t.Setenv("QUEUE_PRIORITY_ORDER", "manual, mutual")

	config, err := core.LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", config.Store.Provider)
	assert.Equal(t, "/tmp/watch.db", config.Store.Path)
	assert.Equal(t, 9, config.Queue.BatchSize)
	assert.Equal(t, 30*time.Minute, config.Queue.MinRevisitInterval)
	assert.True(t, config.Monitor.Authenticated)
	assert.False(t, config.Notify.Text)
	assert.Equal(t, []core.FriendCategory{core.CategoryManual, core.CategoryMutual}, config.Queue.PriorityOrder)
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"monitor": {"authenticated": true, "history_keep": 25},
		"store": {"provider": "file", "path": "./data"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := core.LoadConfigFromJSON(path)
	require.NoError(t, err)
	assert.True(t, config.Monitor.Authenticated)
	assert.Equal(t, 25, config.Monitor.HistoryKeep)
	assert.Equal(t, "file", config.Store.Provider)
}

func TestLoadConfigFromJSON_Missing(t *testing.T) {
	_, err := core.LoadConfigFromJSON(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)

	var monitorErr *core.MonitorError
	assert.ErrorAs(t, err, &monitorErr)
	assert.Equal(t, "LoadConfigFromJSON", monitorErr.Op)
}

func TestConfig_Validate(t *testing.T) {
	valid := &core.Config{Store: core.StoreConfig{Provider: "file", Path: "./data"}}
	assert.NoError(t, valid.Validate())

	missing := &core.Config{}
	assert.ErrorIs(t, missing.Validate(), core.ErrInvalidConfig)

	unknown := &core.Config{Store: core.StoreConfig{Provider: "redis"}}
	assert.ErrorIs(t, unknown.Validate(), core.ErrInvalidConfig)

	badCategory := &core.Config{
		Store: core.StoreConfig{Provider: "file"},
		Queue: core.QueueConfig{PriorityOrder: []core.FriendCategory{"vip"}},
	}
	assert.ErrorIs(t, badCategory.Validate(), core.ErrInvalidConfig)

	negative := &core.Config{
		Store: core.StoreConfig{Provider: "file"},
		Queue: core.QueueConfig{BatchSize: -1},
	}
	assert.ErrorIs(t, negative.Validate(), core.ErrInvalidConfig)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	config := &core.Config{Store: core.StoreConfig{Provider: "file"}}
	config.ApplyDefaults()

	assert.Equal(t, core.DefaultHistoryKeep, config.Monitor.HistoryKeep)
	assert.Equal(t, core.DefaultChangesKeep, config.Monitor.ChangesKeep)
	assert.Equal(t, core.DefaultBatchSize, config.Queue.BatchSize)
	assert.Equal(t, core.DefaultMinRevisitInterval, config.Queue.MinRevisitInterval)
	assert.Equal(t, core.DefaultPriorityOrder(), config.Queue.PriorityOrder)
	assert.Equal(t, core.DefaultMilestoneThresholds(), config.Notify.MilestoneThresholds)
}

func TestDefaultPriorityOrder(t *testing.T) {
	order := core.DefaultPriorityOrder()
	require.Len(t, order, 4)
	assert.Equal(t, core.CategoryMutual, order[0])
	assert.Equal(t, core.CategoryManual, order[3], "manual is always the lowest priority")
}
