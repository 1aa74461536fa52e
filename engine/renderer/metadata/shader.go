package metadata

import (
	"fmt"
	"strings"
)

/** @brief Shader stages available in the system. */
type ShaderStage int

const (
	ShaderStageVertex   ShaderStage = 0x00000001
	ShaderStageGeometry ShaderStage = 0x00000002
	ShaderStageFragment ShaderStage = 0x00000004
	ShaderStageCompute  ShaderStage = 0x0000008
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageGeometry:
		return "geometry"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	}
	return fmt.Sprintf("stage(%#x)", int(s))
}

func ShaderStageFromString(s string) (ShaderStage, error) {
	switch strings.ToLower(s) {
	case "vertex", "vert", "vs":
		return ShaderStageVertex, nil
	case "geometry", "geom", "gs":
		return ShaderStageGeometry, nil
	case "fragment", "frag", "fs", "pixel":
		return ShaderStageFragment, nil
	case "compute", "comp", "cs":
		return ShaderStageCompute, nil
	}
	return 0, fmt.Errorf("string %s is not a valid ShaderStage", s)
}

/** @brief A set of stages. */
type ShaderStageFlags int

func (f ShaderStageFlags) Has(s ShaderStage) bool {
	return int(f)&int(s) != 0
}

func (f ShaderStageFlags) With(s ShaderStage) ShaderStageFlags {
	return ShaderStageFlags(int(f) | int(s))
}

/**
 * @brief Represents the current state of a given shader.
 */
type ShaderState int

const (
	/** @brief The shader has not yet been linked on the backend. */
	SHADER_STATE_NOT_CREATED ShaderState = iota
	/** @brief The shader program exists but its bindings have not been discovered. */
	SHADER_STATE_UNINITIALIZED
	/** @brief The shader is linked and its bindings are known. */
	SHADER_STATE_INITIALIZED
)

/**
 * @brief A compiled module for one stage, as consumed by reflection.
 */
type ShaderModule struct {
	Stage ShaderStage
	/** @brief The Format of Code. */
	Format ShaderFormat
	/** @brief SPIR-V bytes (little endian words) or WGSL source. */
	Code []byte
	/** @brief Where the module was loaded from, if anywhere. */
	Path string
}

type ShaderFormat uint8

const (
	ShaderFormatSPIRV ShaderFormat = iota
	ShaderFormatWGSL
)

func (f ShaderFormat) String() string {
	if f == ShaderFormatWGSL {
		return "wgsl"
	}
	return "spirv"
}

/**
 * @brief Represents a linked shader program from the point of view of the
 * binding core. The registry never owns the program, it only refers to it.
 */
type Shader struct {
	/** @brief The backend program identifier. 0 if unknown. */
	ID uint32
	/** @brief The shader Name. Used by the pattern detector. */
	Name string
	/** @brief Incremented every time the program is rebuilt. */
	Generation uint32
	/** @brief The internal State of the shader. */
	State ShaderState
	/** @brief The stage modules the program was linked from. */
	Modules []ShaderModule
}

func (s *Shader) String() string {
	return fmt.Sprintf("shader/%s#%d", s.Name, s.Generation)
}
