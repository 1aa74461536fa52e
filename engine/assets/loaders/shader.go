package loaders

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

/**
 * @brief Loads WGSL source. A file named "basic.frag.wgsl" is one fragment
 * module; a plain "basic.wgsl" yields one module per entry point stage found
 * in the source, all sharing the same code.
 */
type ShaderLoader struct{}

var entryPointAttr = regexp.MustCompile(`@(vertex|fragment|compute)\b`)

// Load returns a Resource whose Data is a []metadata.ShaderModule.
func (sl *ShaderLoader) Load(path string) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var stages []metadata.ShaderStage
	if s, err := stageFromPath(path); err == nil {
		stages = []metadata.ShaderStage{s}
	} else {
		seen := map[string]bool{}
		for _, m := range entryPointAttr.FindAllStringSubmatch(string(data), -1) {
			if seen[m[1]] {
				continue
			}
			seen[m[1]] = true
			s, _ := metadata.ShaderStageFromString(m[1])
			stages = append(stages, s)
		}
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("%s: no entry point found: %w", path, core.ErrReflectionFailed)
	}

	modules := make([]metadata.ShaderModule, 0, len(stages))
	for _, s := range stages {
		modules = append(modules, metadata.ShaderModule{
			Stage:  s,
			Format: metadata.ShaderFormatWGSL,
			Code:   data,
			Path:   path,
		})
	}
	return &Resource{
		Name:     ShaderName(path),
		FullPath: path,
		Type:     ResourceTypeWGSL,
		DataSize: uint64(len(data)),
		Data:     modules,
	}, nil
}

// stageFromPath reads the stage from the second to last extension.
func stageFromPath(path string) (metadata.ShaderStage, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	if ext == "" {
		return 0, fmt.Errorf("%s: cannot tell the shader stage from the file name", path)
	}
	return metadata.ShaderStageFromString(ext)
}

// LoadShaderModules loads every module file in paths, in order.
func LoadShaderModules(paths ...string) ([]metadata.ShaderModule, error) {
	var out []metadata.ShaderModule
	for _, p := range paths {
		var res *Resource
		var err error
		switch ResourceTypeFromPath(p) {
		case ResourceTypeSpirv:
			res, err = (&SpirvLoader{}).Load(p)
		case ResourceTypeWGSL:
			res, err = (&ShaderLoader{}).Load(p)
		default:
			err = fmt.Errorf("%s is not a shader module", p)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, res.Data.([]metadata.ShaderModule)...)
	}
	return out, nil
}
