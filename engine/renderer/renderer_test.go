package renderer_test

import (
	"testing"

	"github.com/spaghettifunk/anima-srbc/engine/renderer"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/headless"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHeadlessRenderer(t *testing.T) {
	r, err := renderer.New("test", nil)
	require.NoError(t, err)
	assert.Equal(t, metadata.BackendHeadless, r.Type())
	assert.Nil(t, r.Platform())
	assert.True(t, r.Backend().Capabilities().Has(metadata.CapBindTextureUnit))

	f, ok := r.Factory()
	require.True(t, ok)
	h, err := f.CreateBuffer(metadata.BufferConfig{Name: "camera", Kind: metadata.ResourceKindUniformBuffer, Size: 256})
	require.NoError(t, err)
	assert.NotZero(t, h.RawID())

	assert.True(t, r.PumpMessages())
	assert.NoError(t, r.Shutdown())
}

func TestNewFallbackRenderer(t *testing.T) {
	config := renderer.DefaultConfig()
	config.Profile = "fallback"
	r, err := renderer.New("test", config)
	require.NoError(t, err)
	_, ok := r.Backend().(*headless.Backend)
	require.True(t, ok)
	assert.False(t, r.Backend().Capabilities().Has(metadata.CapBindTextureUnit))
}

func TestNewRendererErrors(t *testing.T) {
	config := renderer.DefaultConfig()
	config.Backend = "metal"
	_, err := renderer.New("test", config)
	assert.Error(t, err)

	config = renderer.DefaultConfig()
	config.Profile = "es2"
	_, err = renderer.New("test", config)
	assert.Error(t, err)
}
