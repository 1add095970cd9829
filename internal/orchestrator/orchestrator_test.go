package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bleak/config"
	"bleak/driver"
	"bleak/driver/fake"
)

func quickConfig() *config.ConfigurationFile {
	cfg := config.Defaults()
	cfg.URL = "http://app.test/"
	cfg.Login = []config.Step{{Check: `function(){ return true; }`, Next: `function(){}`}}
	cfg.Setup = []config.Step{{Check: `function(){ return true; }`, Next: `function(){}`}}
	cfg.Loop = []config.Step{{Check: `function(){ return true; }`, Next: `function(){}`}}
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestRun_NavigatesLoginSetupAndLoops(t *testing.T) {
	cfg := quickConfig()
	d := fake.New()
	require.NoError(t, d.InstallConfig(cfg))

	e := New(d, cfg)
	e.PostLoginSettle = time.Millisecond
	var snapshots int
	sink := func(ctx context.Context, snap driver.HeapSnapshot) error {
		snapshots++
		return nil
	}
	d.QueueSnapshot(driver.Graph{})
	d.QueueSnapshot(driver.Graph{})

	err := e.Run(context.Background(), 2, true, sink, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshots)
	assert.Equal(t, []string{"http://app.test/", "http://app.test/"}, d.Navigations())
}

func TestRun_RespectsIterationsPerSnapshot(t *testing.T) {
	cfg := quickConfig()
	d := fake.New()
	require.NoError(t, d.InstallConfig(cfg))
	d.QueueSnapshot(driver.Graph{})

	e := New(d, cfg)
	var snapshots int
	sink := func(ctx context.Context, snap driver.HeapSnapshot) error {
		snapshots++
		return nil
	}

	err := e.Run(context.Background(), 4, false, sink, 2, false)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshots) // iterations 2 and 4
}

func TestRun_SnapshotOnFirstTakesExtraSnapshot(t *testing.T) {
	cfg := quickConfig()
	d := fake.New()
	require.NoError(t, d.InstallConfig(cfg))
	d.QueueSnapshot(driver.Graph{})
	d.QueueSnapshot(driver.Graph{})

	e := New(d, cfg)
	var snapshots int
	sink := func(ctx context.Context, snap driver.HeapSnapshot) error {
		snapshots++
		return nil
	}

	err := e.Run(context.Background(), 1, false, sink, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshots)
}

func TestRun_PanickingSinkIsSwallowed(t *testing.T) {
	cfg := quickConfig()
	d := fake.New()
	require.NoError(t, d.InstallConfig(cfg))
	d.QueueSnapshot(driver.Graph{})

	e := New(d, cfg)
	sink := func(ctx context.Context, snap driver.HeapSnapshot) error {
		panic("boom")
	}

	err := e.Run(context.Background(), 1, false, sink, 1, false)
	assert.NoError(t, err)
}

func TestRunResilient_RetriesUntilSuccess(t *testing.T) {
	d := fake.New()
	attempts := 0
	retries := 0
	final, err := RunResilient(context.Background(), d, func(ctx context.Context, d driver.Driver) error {
		attempts++
		if attempts < 3 {
			return errors.New("simulated crash")
		}
		return nil
	}, func(err error) { retries++ })
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, retries)
	assert.NotNil(t, final)
}

func TestRunResilient_DiscardsStateOnFailedAttempt(t *testing.T) {
	d := fake.New()
	var flushed []int
	attempts := 0
	_, err := RunResilient(context.Background(), d, func(ctx context.Context, d driver.Driver) error {
		attempts++
		buf := []int{attempts}
		if attempts < 2 {
			return errors.New("crash before flush")
		}
		flushed = append(flushed, buf...)
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, flushed)
}
