package loaders

import (
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/headless"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-srbc/engine/systems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// spirvHeader is the five word header of an empty module.
func spirvHeader() []byte {
	words := []uint32{spirvMagic, 0x00010000, 0, 1, 0}
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func TestResourceTypeFromPath(t *testing.T) {
	cases := map[string]ResourceType{
		"shaders/basic.vert.spv":       ResourceTypeSpirv,
		"shaders/basic.wgsl":           ResourceTypeWGSL,
		"config/default.registry.toml": ResourceTypeRegistryConfig,
		"layouts/basic.toml":           ResourceTypeBindingLayout,
		"textures/albedo.PNG":          ResourceTypeImage,
		"README.md":                    ResourceTypeNone,
	}
	for path, want := range cases {
		assert.Equal(t, want, ResourceTypeFromPath(path), path)
	}
	assert.Equal(t, "basic", ShaderName("shaders/basic.vert.spv"))
	assert.Equal(t, "basic", ShaderName("basic"))
}

func TestSpirvLoader(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "basic.frag.spv", spirvHeader())

	res, err := (&SpirvLoader{}).Load(good)
	require.NoError(t, err)
	assert.Equal(t, "basic", res.Name)
	assert.Equal(t, uint64(20), res.DataSize)
	modules := res.Data.([]metadata.ShaderModule)
	require.Len(t, modules, 1)
	assert.Equal(t, metadata.ShaderStageFragment, modules[0].Stage)
	assert.Equal(t, metadata.ShaderFormatSPIRV, modules[0].Format)

	bad := spirvHeader()
	bad[0] = 0xff
	_, err = (&SpirvLoader{}).Load(writeFile(t, dir, "bad.frag.spv", bad))
	assert.ErrorIs(t, err, core.ErrReflectionFailed)
	_, err = (&SpirvLoader{}).Load(writeFile(t, dir, "short.frag.spv", []byte{1, 2, 3}))
	assert.ErrorIs(t, err, core.ErrReflectionFailed)
	_, err = (&SpirvLoader{}).Load(writeFile(t, dir, "nostage.spv", spirvHeader()))
	assert.Error(t, err)
	_, err = (&SpirvLoader{}).Load(filepath.Join(dir, "missing.vert.spv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

const wgslSource = `
@group(0) @binding(0) var<uniform> camera: mat4x4<f32>;

@vertex
fn vs_main(@location(0) pos: vec3<f32>) -> @builtin(position) vec4<f32> {
	return camera * vec4<f32>(pos, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
	return vec4<f32>(1.0);
}
`

func TestShaderLoaderFindsEntryPoints(t *testing.T) {
	dir := t.TempDir()
	res, err := (&ShaderLoader{}).Load(writeFile(t, dir, "basic.wgsl", []byte(wgslSource)))
	require.NoError(t, err)
	modules := res.Data.([]metadata.ShaderModule)
	require.Len(t, modules, 2)
	assert.Equal(t, metadata.ShaderStageVertex, modules[0].Stage)
	assert.Equal(t, metadata.ShaderStageFragment, modules[1].Stage)
	assert.Equal(t, modules[0].Code, modules[1].Code)

	res, err = (&ShaderLoader{}).Load(writeFile(t, dir, "basic.vert.wgsl", []byte(wgslSource)))
	require.NoError(t, err)
	assert.Len(t, res.Data.([]metadata.ShaderModule), 1, "the file name wins over the source")

	_, err = (&ShaderLoader{}).Load(writeFile(t, dir, "empty.wgsl", []byte("const x = 1;")))
	assert.ErrorIs(t, err, core.ErrReflectionFailed)
}

func TestLoadShaderModules(t *testing.T) {
	dir := t.TempDir()
	vert := writeFile(t, dir, "basic.vert.spv", spirvHeader())
	frag := writeFile(t, dir, "basic.frag.wgsl", []byte(wgslSource))

	modules, err := LoadShaderModules(vert, frag)
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, metadata.ShaderFormatSPIRV, modules[0].Format)
	assert.Equal(t, metadata.ShaderFormatWGSL, modules[1].Format)
	assert.Equal(t, frag, modules[1].Path)

	_, err = LoadShaderModules(vert, writeFile(t, dir, "notes.txt", nil))
	assert.Error(t, err)
}

func TestTextureLoader(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(0, 1, color.RGBA{B: 255, A: 255})
	dir := t.TempDir()
	p := filepath.Join(dir, "albedo.png")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	res, err := (&TextureLoader{}).Load(p)
	require.NoError(t, err)
	config := res.Data.(*metadata.TextureConfig)
	assert.Equal(t, uint32(2), config.Width)
	assert.Equal(t, uint32(2), config.Height)
	assert.Len(t, config.Pixels, 16)
	assert.Equal(t, []uint8{255, 0, 0, 255}, config.Pixels[:4])

	res, err = (&TextureLoader{FlipY: true}).Load(p)
	require.NoError(t, err)
	config = res.Data.(*metadata.TextureConfig)
	assert.Equal(t, []uint8{0, 0, 255, 255}, config.Pixels[:4])

	_, err = (&TextureLoader{}).Load(writeFile(t, dir, "broken.png", []byte("nope")))
	assert.Error(t, err)
}

func TestParseRegistryConfig(t *testing.T) {
	config, err := ParseRegistryConfig([]byte(`
enable_batching = true
cache_policy = "aggressive"
invalidation_strategy = "frame_based"
severity_filter = "warning"
stale_age = "5s"
frames_in_flight = 2

[kind_priorities]
Texture2D = "Low"
`))
	require.NoError(t, err)
	assert.True(t, config.EnableBatching)
	assert.Equal(t, systems.CachePolicyAggressive, config.CachePolicy)
	assert.Equal(t, systems.InvalidationStrategyFrameBased, config.InvalidationStrategy)
	assert.Equal(t, metadata.SeverityWarning, config.SeverityFilter)
	assert.Equal(t, 5*time.Second, config.StaleAge.Std())
	assert.Equal(t, uint32(2), config.FramesInFlight)
	assert.Equal(t, metadata.UpdatePriorityLow, config.KindPriorities["Texture2D"])
	assert.Equal(t, 16, config.MaxPoolSize, "missing keys keep their default")
}

func TestParseRegistryConfigErrors(t *testing.T) {
	_, err := ParseRegistryConfig([]byte(`no_such_option = true`))
	assert.Error(t, err)
	_, err = ParseRegistryConfig([]byte(`cache_policy = "reckless"`))
	assert.Error(t, err)
	_, err = ParseRegistryConfig([]byte("start_set = 3\nend_set = 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "end_set")
	_, err = ParseRegistryConfig([]byte("[kind_priorities]\nMesh = \"High\""))
	assert.Error(t, err)

	_, err = LoadRegistryConfig(filepath.Join(t.TempDir(), "missing.registry.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRegistryConfigRoundTrip(t *testing.T) {
	config := systems.DefaultRegistryConfig()
	config.CachePolicy = systems.CachePolicyMinimal
	config.CacheMaxAge = core.Duration(time.Minute)
	data, err := EncodeRegistryConfig(config)
	require.NoError(t, err)

	p := writeFile(t, t.TempDir(), "custom.registry.toml", data)
	res, err := (&RegistryConfigLoader{}).Load(p)
	require.NoError(t, err)
	assert.Equal(t, config, res.Data.(*systems.RegistryConfig))
}

const layoutSource = `
[[binding]]
name = "Camera"
kind = "UniformBuffer"
set = 0
binding = 0
size = 128
stages = ["vertex"]
priority = "High"

[[binding]]
name = "albedo"
kind = "Texture2D"
set = 2
binding = 0
stages = ["fragment"]

[[binding]]
name = "Lights"
kind = "UniformBufferArray"
binding = 1
size = 32
array_size = 4

[[set]]
index = 2
name = "material"
priority = "Material"

[dependencies]
albedo = ["Camera"]

[forbidden]
Camera = ["albedo"]

[[default]]
name = "albedo"
kind = "Texture2D"
texture = "default_diffuse"
`

func TestParseBindingLayout(t *testing.T) {
	layout, err := ParseBindingLayout([]byte(layoutSource))
	require.NoError(t, err)
	require.Len(t, layout.Declarations, 3)

	camera := layout.Declarations[0]
	assert.Equal(t, metadata.ResourceKindUniformBuffer, camera.Kind)
	assert.Equal(t, uint64(128), camera.ElementSize)
	assert.True(t, camera.Stages.Has(metadata.ShaderStageVertex))
	assert.False(t, camera.Stages.Has(metadata.ShaderStageFragment))

	lights := layout.Declarations[2]
	assert.Equal(t, metadata.UnassignedSet, lights.Set)
	assert.True(t, lights.IsArray)
	assert.Equal(t, uint32(4), lights.ArraySize)
	assert.True(t, lights.Stages.Has(metadata.ShaderStageFragment), "stages default to vertex and fragment")

	assert.Equal(t, map[string]metadata.UpdatePriority{"Camera": metadata.UpdatePriorityHigh}, layout.Priorities)
	assert.Equal(t, map[uint32]string{2: "material"}, layout.SetNames)
	assert.Equal(t, map[metadata.SetPriority]uint32{metadata.SetPriorityMaterial: 2}, layout.SetMapping)
	assert.Equal(t, []string{"Camera"}, layout.Dependencies["albedo"])
	assert.Equal(t, []string{"albedo"}, layout.Forbidden["Camera"])
	require.Len(t, layout.Defaults, 1)
	assert.Equal(t, "default_diffuse", layout.Defaults[0].Texture)
}

func TestParseBindingLayoutErrors(t *testing.T) {
	cases := map[string]string{
		"no name":       "[[binding]]\nkind = \"Texture2D\"",
		"twice":         "[[binding]]\nname = \"a\"\nkind = \"Texture2D\"\n[[binding]]\nname = \"a\"\nkind = \"Texture2D\"",
		"bad kind":      "[[binding]]\nname = \"a\"\nkind = \"Sampler\"",
		"array size":    "[[binding]]\nname = \"a\"\nkind = \"Texture2DArray\"",
		"single array":  "[[binding]]\nname = \"a\"\nkind = \"Texture2D\"\narray_size = 3",
		"bad stage":     "[[binding]]\nname = \"a\"\nkind = \"Texture2D\"\nstages = [\"hull\"]",
		"bad priority":  "[[binding]]\nname = \"a\"\nkind = \"Texture2D\"\npriority = \"Urgent\"",
		"bad set":       "[[set]]\nindex = 1\npriority = \"Everything\"",
		"unknown field": "[[binding]]\nname = \"a\"\nkind = \"Texture2D\"\nsampler = \"linear\"",
		"default kind":  "[[default]]\nname = \"a\"\nkind = \"Mesh\"",
	}
	for name, src := range cases {
		_, err := ParseBindingLayout([]byte(src))
		assert.Error(t, err, name)
	}
}

func TestBindingLayoutInitializesRegistry(t *testing.T) {
	p := writeFile(t, t.TempDir(), "basic.toml", []byte(layoutSource))
	res, err := (&BindingLayoutLoader{}).Load(p)
	require.NoError(t, err)
	layout := res.Data.(*systems.BindingLayout)

	r, err := systems.NewResourceRegistry(nil, headless.NewDSA())
	require.NoError(t, err)
	require.NoError(t, r.Initialize(&metadata.Shader{ID: 1, Name: "basic"}, layout))
	assert.Equal(t, []string{"Camera", "Lights", "albedo"}, r.Names())

	lights, ok := r.Binding("Lights")
	require.True(t, ok)
	assert.NotEqual(t, metadata.UnassignedSet, lights.Declaration.Set, "unassigned bindings get a set")
	assert.True(t, r.Dependencies().DependsOn("albedo", "Camera"))
}
