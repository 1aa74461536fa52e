package reflection

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga/spirv"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

// Opcodes, decorations and storage classes the naga spirv package does not export.
const (
	opTypeRuntimeArray spirv.OpCode = 29

	decorationBufferBlock spirv.Decoration = 3

	storageClassUniformConstant uint32 = 0
	storageClassUniform         uint32 = 2
	storageClassStorageBuffer   uint32 = 12

	// SPIR-V Dim operand of OpTypeImage.
	dim2D   uint32 = 1
	dimCube uint32 = 3

	headerWords   = 5
	maxTypeDepth  = 32
	byteSwapMagic = 0x03022307
)

type instruction struct {
	op       spirv.OpCode
	operands []uint32
}

type spvModule struct {
	names       map[uint32]string
	decorations map[uint32]map[spirv.Decoration]uint32
	members     map[uint32]map[uint32]map[spirv.Decoration]uint32
	types       map[uint32]instruction
	constants   map[uint32]uint32
	variables   []instruction
}

func (m *spvModule) decoration(id uint32, d spirv.Decoration) (uint32, bool) {
	v, ok := m.decorations[id][d]
	return v, ok
}

func (m *spvModule) memberDecoration(id, member uint32, d spirv.Decoration) (uint32, bool) {
	v, ok := m.members[id][member][d]
	return v, ok
}

// ReflectSPIRV parses a SPIR-V binary of one stage. Empty input yields an empty
// result. Anything that is not a well formed SPIR-V stream yields a ReflectionError.
func ReflectSPIRV(stage metadata.ShaderStage, code []byte) (*Result, error) {
	if len(code) == 0 {
		return &Result{Stage: stage}, nil
	}
	words, err := decodeWords(code)
	if err != nil {
		return nil, &core.ReflectionError{Stage: stage, Reason: err.Error()}
	}
	mod, err := parseModule(words)
	if err != nil {
		return nil, &core.ReflectionError{Stage: stage, Reason: err.Error()}
	}

	decls := []metadata.BindingDeclaration{}
	for _, v := range mod.variables {
		d, ok := mod.resource(v)
		if ok {
			decls = append(decls, d)
		}
	}
	return dedup(stage, decls), nil
}

func decodeWords(code []byte) ([]uint32, error) {
	if len(code)%4 != 0 {
		return nil, fmt.Errorf("byte length %d is not a multiple of 4", len(code))
	}
	if len(code) < headerWords*4 {
		return nil, fmt.Errorf("stream of %d bytes is shorter than the header", len(code))
	}
	var order binary.ByteOrder = binary.LittleEndian
	switch binary.LittleEndian.Uint32(code) {
	case spirv.MagicNumber:
	case byteSwapMagic:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("bad magic number %#08x", binary.LittleEndian.Uint32(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = order.Uint32(code[i*4:])
	}
	return words, nil
}

func parseModule(words []uint32) (*spvModule, error) {
	m := &spvModule{
		names:       make(map[uint32]string),
		decorations: make(map[uint32]map[spirv.Decoration]uint32),
		members:     make(map[uint32]map[uint32]map[spirv.Decoration]uint32),
		types:       make(map[uint32]instruction),
		constants:   make(map[uint32]uint32),
	}
	for i := headerWords; i < len(words); {
		count := int(words[i] >> 16)
		op := spirv.OpCode(words[i] & 0xffff)
		if count == 0 || i+count > len(words) {
			return nil, fmt.Errorf("malformed instruction at word %d", i)
		}
		ops := words[i+1 : i+count]
		i += count

		switch op {
		case spirv.OpName:
			if len(ops) >= 1 {
				m.names[ops[0]] = decodeString(ops[1:])
			}
		case spirv.OpDecorate:
			if len(ops) < 2 {
				return nil, fmt.Errorf("truncated OpDecorate")
			}
			if m.decorations[ops[0]] == nil {
				m.decorations[ops[0]] = make(map[spirv.Decoration]uint32)
			}
			var lit uint32
			if len(ops) > 2 {
				lit = ops[2]
			}
			m.decorations[ops[0]][spirv.Decoration(ops[1])] = lit
		case spirv.OpMemberDecorate:
			if len(ops) < 3 {
				return nil, fmt.Errorf("truncated OpMemberDecorate")
			}
			if m.members[ops[0]] == nil {
				m.members[ops[0]] = make(map[uint32]map[spirv.Decoration]uint32)
			}
			if m.members[ops[0]][ops[1]] == nil {
				m.members[ops[0]][ops[1]] = make(map[spirv.Decoration]uint32)
			}
			var lit uint32
			if len(ops) > 3 {
				lit = ops[3]
			}
			m.members[ops[0]][ops[1]][spirv.Decoration(ops[2])] = lit
		case spirv.OpTypeInt, spirv.OpTypeFloat, spirv.OpTypeVector, spirv.OpTypeMatrix,
			spirv.OpTypeArray, opTypeRuntimeArray, spirv.OpTypeStruct, spirv.OpTypePointer,
			spirv.OpTypeImage, spirv.OpTypeSampler, spirv.OpTypeSampledImage:
			if len(ops) < 1 {
				return nil, fmt.Errorf("truncated type instruction %d", op)
			}
			m.types[ops[0]] = instruction{op: op, operands: ops}
		case spirv.OpConstant:
			if len(ops) >= 3 {
				m.constants[ops[1]] = ops[2]
			}
		case spirv.OpVariable:
			if len(ops) < 3 {
				return nil, fmt.Errorf("truncated OpVariable")
			}
			m.variables = append(m.variables, instruction{op: op, operands: ops})
		}
	}
	return m, nil
}

func decodeString(words []uint32) string {
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		for s := 0; s < 32; s += 8 {
			c := byte(w >> s)
			if c == 0 {
				return string(buf)
			}
			buf = append(buf, c)
		}
	}
	return string(buf)
}

// resource classifies a global variable. Variables that are not shader
// resources (inputs, outputs, push constants, plain samplers) are skipped.
func (m *spvModule) resource(v instruction) (metadata.BindingDeclaration, bool) {
	resultType, id, class := v.operands[0], v.operands[1], v.operands[2]
	ptr, ok := m.types[resultType]
	if !ok || ptr.op != spirv.OpTypePointer || len(ptr.operands) < 3 {
		return metadata.BindingDeclaration{}, false
	}
	baseID := ptr.operands[2]
	base := m.types[baseID]

	var arrayLen uint32
	switch base.op {
	case spirv.OpTypeArray:
		if len(base.operands) < 3 {
			return metadata.BindingDeclaration{}, false
		}
		arrayLen = m.constants[base.operands[2]]
		baseID = base.operands[1]
		base = m.types[baseID]
	case opTypeRuntimeArray:
		if len(base.operands) < 2 {
			return metadata.BindingDeclaration{}, false
		}
		arrayLen = 1
		baseID = base.operands[1]
		base = m.types[baseID]
	}

	set, _ := m.decoration(id, spirv.DecorationDescriptorSet)
	binding, _ := m.decoration(id, spirv.DecorationBinding)
	name := m.names[id]
	if name == "" {
		name = m.names[baseID]
	}
	if name == "" {
		name = fmt.Sprintf("_%d", id)
	}

	var kind metadata.ResourceKind
	var size uint64
	switch class {
	case storageClassUniform:
		if base.op != spirv.OpTypeStruct {
			return metadata.BindingDeclaration{}, false
		}
		if _, ok := m.decoration(baseID, decorationBufferBlock); ok {
			kind = metadata.ResourceKindStorageBuffer
		} else if _, ok := m.decoration(baseID, spirv.DecorationBlock); ok {
			kind = metadata.ResourceKindUniformBuffer
		} else {
			return metadata.BindingDeclaration{}, false
		}
		size = m.typeSize(baseID, 0)
	case storageClassStorageBuffer:
		if base.op != spirv.OpTypeStruct {
			return metadata.BindingDeclaration{}, false
		}
		kind = metadata.ResourceKindStorageBuffer
		size = m.typeSize(baseID, 0)
	case storageClassUniformConstant:
		k, ok := m.imageKind(base)
		if !ok {
			return metadata.BindingDeclaration{}, false
		}
		kind = k
	default:
		return metadata.BindingDeclaration{}, false
	}
	return declare(name, kind, set, binding, size, arrayLen), true
}

func (m *spvModule) imageKind(t instruction) (metadata.ResourceKind, bool) {
	if t.op == spirv.OpTypeSampledImage {
		if len(t.operands) < 2 {
			return metadata.ResourceKindNone, false
		}
		t = m.types[t.operands[1]]
	}
	// OpTypeImage: result, sampled type, dim, depth, arrayed, ms, sampled, format
	if t.op != spirv.OpTypeImage || len(t.operands) < 7 {
		return metadata.ResourceKindNone, false
	}
	dim, sampled := t.operands[2], t.operands[6]
	if sampled == 2 {
		if dim != dim2D {
			return metadata.ResourceKindNone, false
		}
		return metadata.ResourceKindImage2D, true
	}
	switch dim {
	case dim2D:
		return metadata.ResourceKindTexture2D, true
	case dimCube:
		return metadata.ResourceKindTextureCube, true
	}
	return metadata.ResourceKindNone, false
}

// typeSize follows the explicit layout decorations where present.
func (m *spvModule) typeSize(id uint32, depth int) uint64 {
	if depth > maxTypeDepth {
		return 0
	}
	t, ok := m.types[id]
	if !ok {
		return 0
	}
	switch t.op {
	case spirv.OpTypeInt, spirv.OpTypeFloat:
		if len(t.operands) < 2 {
			return 0
		}
		return uint64(t.operands[1] / 8)
	case spirv.OpTypeVector, spirv.OpTypeMatrix:
		if len(t.operands) < 3 {
			return 0
		}
		return uint64(t.operands[2]) * m.typeSize(t.operands[1], depth+1)
	case spirv.OpTypeArray:
		if len(t.operands) < 3 {
			return 0
		}
		n := uint64(m.constants[t.operands[2]])
		if stride, ok := m.decoration(id, spirv.DecorationArrayStride); ok {
			return n * uint64(stride)
		}
		return n * m.typeSize(t.operands[1], depth+1)
	case opTypeRuntimeArray:
		return 0
	case spirv.OpTypeStruct:
		var size, cursor uint64
		for i, member := range t.operands[1:] {
			idx := uint32(i)
			offset := cursor
			if o, ok := m.memberDecoration(id, idx, spirv.DecorationOffset); ok {
				offset = uint64(o)
			}
			memberSize := m.typeSize(member, depth+1)
			if mt := m.types[member]; mt.op == spirv.OpTypeMatrix && len(mt.operands) >= 3 {
				if stride, ok := m.memberDecoration(id, idx, spirv.DecorationMatrixStride); ok {
					memberSize = uint64(mt.operands[2]) * uint64(stride)
				}
			}
			cursor = offset + memberSize
			if cursor > size {
				size = cursor
			}
		}
		return size
	}
	return 0
}
