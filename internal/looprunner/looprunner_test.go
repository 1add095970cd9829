package looprunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bleak/config"
	"bleak/driver"
	"bleak/driver/fake"
	"bleak/internal/stepengine"
)

func TestRun_EmptyPhaseReturnsImmediately(t *testing.T) {
	cfg := config.Defaults()
	d := fake.New()
	require.NoError(t, d.InstallConfig(cfg))
	r := New(stepengine.New(d, cfg))

	snap, err := r.Run(context.Background(), "setup", false, false)
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRun_RunsStepsInOrder(t *testing.T) {
	cfg := config.Defaults()
	cfg.Setup = []config.Step{
		{Check: `function(){ return true; }`, Next: `function(){ globalThis.__order = (globalThis.__order||"") + "a"; }`},
		{Check: `function(){ return true; }`, Next: `function(){ globalThis.__order = (globalThis.__order||"") + "b"; }`},
	}
	d := fake.New()
	require.NoError(t, d.InstallConfig(cfg))

	e := stepengine.New(d, cfg)
	e.PollInterval = 2 * time.Millisecond
	e.SettleDelay = 1 * time.Millisecond
	r := New(e)

	_, err := r.Run(context.Background(), "setup", false, false)
	require.NoError(t, err)

	var order string
	require.NoError(t, d.RunCode(context.Background(), `globalThis.__order || ""`, &order))
	assert.Equal(t, "ab", order)
}

func TestRun_IsLoopConfirmsQuiescence(t *testing.T) {
	cfg := config.Defaults()
	cfg.Loop = []config.Step{
		{Check: `function(){ return true; }`, Next: `function(){}`},
	}
	d := fake.New()
	require.NoError(t, d.InstallConfig(cfg))

	e := stepengine.New(d, cfg)
	e.PollInterval = 2 * time.Millisecond
	e.SettleDelay = 1 * time.Millisecond
	r := New(e)

	_, err := r.Run(context.Background(), "loop", true, false)
	assert.NoError(t, err)
}

func TestRun_SnapshotAtEndTakesSnapshot(t *testing.T) {
	cfg := config.Defaults()
	cfg.Loop = []config.Step{{Check: `function(){ return true; }`, Next: `function(){}`}}
	d := fake.New()
	require.NoError(t, d.InstallConfig(cfg))
	d.QueueSnapshot(driver.Graph{Roots: []string{"window"}})

	e := stepengine.New(d, cfg)
	e.PollInterval = 2 * time.Millisecond
	e.SettleDelay = 1 * time.Millisecond
	r := New(e)

	snap, err := r.Run(context.Background(), "loop", true, true)
	require.NoError(t, err)
	require.NotNil(t, snap)
	g, err := snap.Parse(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"window"}, g.Roots)
}

func TestRun_PropagatesStepFailure(t *testing.T) {
	cfg := config.Defaults()
	cfg.Setup = []config.Step{{Check: `function(){ return false; }`, Next: `function(){}`}}
	cfg.Timeout = 20 * time.Millisecond
	d := fake.New()
	require.NoError(t, d.InstallConfig(cfg))

	e := stepengine.New(d, cfg)
	e.PollInterval = 5 * time.Millisecond
	r := New(e)

	_, err := r.Run(context.Background(), "setup", false, false)
	assert.Error(t, err)
}
