package loaders

import (
	"fmt"
	"io"
	"os"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

const spirvMagic uint32 = 0x07230203

/** @brief Loads one SPIR-V stage module. The stage comes from the file name ("basic.frag.spv"). */
type SpirvLoader struct{}

// Load returns a Resource whose Data is a []metadata.ShaderModule of length 1.
func (sl *SpirvLoader) Load(path string) (*Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if err := checkSpirv(buf); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	stage, err := stageFromPath(path)
	if err != nil {
		return nil, err
	}

	return &Resource{
		Name:     ShaderName(path),
		FullPath: path,
		Type:     ResourceTypeSpirv,
		DataSize: uint64(len(buf)),
		Data: []metadata.ShaderModule{{
			Stage:  stage,
			Format: metadata.ShaderFormatSPIRV,
			Code:   buf,
			Path:   path,
		}},
	}, nil
}

func checkSpirv(b []byte) error {
	if len(b) < 20 || len(b)%4 != 0 {
		return fmt.Errorf("%d bytes is not a SPIR-V word stream: %w", len(b), core.ErrReflectionFailed)
	}
	if words := bytesToBytecode(b[:4]); words[0] != spirvMagic {
		return fmt.Errorf("bad SPIR-V magic %#08x: %w", words[0], core.ErrReflectionFailed)
	}
	return nil
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}
