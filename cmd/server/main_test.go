package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/staffplan/internal/config"
	"github.com/paiban/staffplan/internal/handler"
	"github.com/paiban/staffplan/internal/repository"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "staffplan"},
		Optimizer: config.OptimizerConfig{
			SolverTimeout:         3 * time.Second,
			NodeBudget:            1000,
			LocalSearchIterations: 20,
			MorningStart:          "07:30",
			MorningEnd:            "12:00",
			AfternoonStart:        "13:00",
			AfternoonEnd:          "17:00",
			ReferenceSlotMinutes:  240,
			BackupGenericShare:    0.3,
			HistoryLookbackDays:   14,
			AssignAdministrative:  true,
		},
		Weights: config.WeightsConfig{CoverageReward: 100, SiteChange: 0.5},
		Store:   config.StoreConfig{Backend: "memory"},
		Lock:    config.LockConfig{Backend: "local"},
	}
}

func TestEngineConfig(t *testing.T) {
	cfg, err := engineConfig(testConfig())
	require.NoError(t, err)

	assert.Equal(t, 7*60+30, cfg.Normalize.Windows.Morning.Start)
	assert.Equal(t, 17*60, cfg.Supply.Windows.Afternoon.End)
	assert.Equal(t, 240, cfg.Normalize.ReferenceSlotMinutes)
	assert.Equal(t, 0.3, cfg.Supply.BackupGenericShare)
	assert.Equal(t, 3*time.Second, cfg.Exact.Timeout)
	assert.Equal(t, 1000, cfg.Exact.NodeBudget)
	assert.Equal(t, 20, cfg.Search.MaxIterations)
	assert.Equal(t, 14, cfg.HistoryLookbackDays)
	assert.Equal(t, 100.0, cfg.Weights.CoverageReward)
	assert.True(t, cfg.AssignAdministrative)
}

func TestEngineConfigRejectsBadWindows(t *testing.T) {
	c := testConfig()
	c.Optimizer.AfternoonStart = "11:00"
	_, err := engineConfig(c)
	assert.Error(t, err)

	c = testConfig()
	c.Optimizer.MorningEnd = "7:xx"
	_, err = engineConfig(c)
	assert.Error(t, err)

	c = testConfig()
	c.Weights.CoverageReward = 0
	_, err = engineConfig(c)
	assert.Error(t, err)
}

func TestOpenStoreAndLocker(t *testing.T) {
	c := testConfig()
	system := handler.NewSystemHandler("staffplan", handler.BuildInfo{})

	store, closeStore, err := openStore(c, system)
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &repository.MemoryStore{}, store)

	locker, closeLocker, err := openLocker(c, system)
	require.NoError(t, err)
	defer closeLocker()
	assert.NotNil(t, locker)

	c.Store.Backend = "cassandra"
	_, _, err = openStore(c, system)
	assert.Error(t, err)

	c.Lock.Backend = "zookeeper"
	_, _, err = openLocker(c, system)
	assert.Error(t, err)
}
