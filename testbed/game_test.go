package testbed

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/spaghettifunk/anima-srbc/engine"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func TestTestbedRunsHeadless(t *testing.T) {
	config, err := engine.LoadApplicationConfig("../config/testbed.toml")
	require.NoError(t, err)
	config.AssetsDir = "../assets"
	config.Frames = 45
	config.LogLevel = ""

	tb, err := NewTestGame(config)
	require.NoError(t, err)
	var out bytes.Buffer
	tb.Output = &out

	e, err := engine.New(tb.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())

	s := tb.state()
	require.NotNil(t, s.registry)
	assert.Equal(t, "camera", s.camera)
	assert.Equal(t, uint64(45), s.frame)
	assert.Positive(t, s.applied)

	report := out.String()
	assert.Contains(t, report, "frames: 45,")
	assert.Contains(t, report, "basic: applies=45 ")
}

func TestTestbedNeedsAssets(t *testing.T) {
	config := engine.DefaultApplicationConfig()
	config.LogLevel = ""
	tb, err := NewTestGame(config)
	require.NoError(t, err)
	tb.Output = nil

	e, err := engine.New(tb.Game)
	require.NoError(t, err)
	assert.Error(t, e.Initialize())
	require.NoError(t, e.Shutdown())
}
