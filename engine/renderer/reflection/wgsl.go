package reflection

import (
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

// ReflectWGSL lowers WGSL source to naga IR and reads the resource bindings of
// its global variables. @group maps to the set, @binding to the binding point.
func ReflectWGSL(stage metadata.ShaderStage, source string) (*Result, error) {
	if strings.TrimSpace(source) == "" {
		return &Result{Stage: stage}, nil
	}
	source = PrepareWGSL(source)
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, &core.ReflectionError{Stage: stage, Reason: err.Error()}
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, &core.ReflectionError{Stage: stage, Reason: err.Error()}
	}
	return ReflectIR(stage, module), nil
}

// PrepareWGSL splits a '>>' that closes two template lists, as in
// array<vec4<f32>>, into '> >'. naga lexes '>>' as a shift in every context.
// Shifts and comments are left as they are.
func PrepareWGSL(source string) string {
	if !strings.Contains(source, ">>") {
		return source
	}
	var out strings.Builder
	out.Grow(len(source) + 8)
	depth := 0
	ident := ""
	for i := 0; i < len(source); i++ {
		c := source[i]
		switch {
		case c == '/' && i+1 < len(source) && source[i+1] == '/':
			end := strings.IndexByte(source[i:], '\n')
			if end < 0 {
				end = len(source) - i
			}
			out.WriteString(source[i : i+end])
			i += end - 1
			ident = ""
			continue
		case c == '/' && i+1 < len(source) && source[i+1] == '*':
			end := strings.Index(source[i+2:], "*/")
			if end < 0 {
				out.WriteString(source[i:])
				return out.String()
			}
			out.WriteString(source[i : i+end+4])
			i += end + 3
			ident = ""
			continue
		case isIdentByte(c):
			if i == 0 || !isIdentByte(source[i-1]) {
				ident = ""
			}
			ident += string(c)
			out.WriteByte(c)
			continue
		case c == '<':
			if templated(ident) && !(i+1 < len(source) && source[i+1] == '<') {
				depth++
			}
		case c == '>' && i+1 < len(source) && source[i+1] == '>' && depth >= 2:
			out.WriteString("> ")
			depth--
			ident = ""
			continue
		case c == '>' && depth > 0:
			depth--
		case c == ';' || c == '{' || c == '}':
			depth = 0
		}
		if c != ' ' && c != '\t' {
			ident = ""
		}
		out.WriteByte(c)
	}
	return out.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// templated reports whether a '<' after name opens a template list.
func templated(name string) bool {
	switch name {
	case "array", "ptr", "atomic", "binding_array", "var", "bitcast":
		return true
	}
	dim := func(c byte) bool { return c >= '2' && c <= '4' }
	switch {
	case len(name) == 4 && strings.HasPrefix(name, "vec"):
		return dim(name[3])
	case len(name) == 6 && strings.HasPrefix(name, "mat"):
		return dim(name[3]) && name[4] == 'x' && dim(name[5])
	}
	return strings.HasPrefix(name, "texture_")
}

// ReflectIR reads the bindings of an already lowered module.
func ReflectIR(stage metadata.ShaderStage, module *ir.Module) *Result {
	decls := []metadata.BindingDeclaration{}
	for _, gv := range module.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		d, ok := irResource(module, gv)
		if !ok {
			continue
		}
		decls = append(decls, d)
	}
	return dedup(stage, decls)
}

func irType(module *ir.Module, h ir.TypeHandle) (ir.TypeInner, bool) {
	if int(h) >= len(module.Types) {
		return nil, false
	}
	return module.Types[h].Inner, true
}

func irResource(module *ir.Module, gv ir.GlobalVariable) (metadata.BindingDeclaration, bool) {
	inner, ok := irType(module, gv.Type)
	if !ok {
		return metadata.BindingDeclaration{}, false
	}

	var arrayLen uint32
	if arr, isArray := inner.(ir.ArrayType); isArray {
		// Binding arrays of resources. Arrays inside a buffer are part of its layout.
		if elem, ok := irType(module, arr.Base); ok && gv.Space == ir.SpaceHandle {
			arrayLen = 1
			if arr.Size.Constant != nil {
				arrayLen = *arr.Size.Constant
			}
			inner = elem
		}
	}

	var kind metadata.ResourceKind
	var size uint64
	switch gv.Space {
	case ir.SpaceUniform:
		kind = metadata.ResourceKindUniformBuffer
		size = irSize(module, inner)
	case ir.SpaceStorage:
		kind = metadata.ResourceKindStorageBuffer
		size = irSize(module, inner)
	case ir.SpaceHandle:
		img, isImage := inner.(ir.ImageType)
		if !isImage {
			return metadata.BindingDeclaration{}, false
		}
		switch {
		case img.Class == ir.ImageClassStorage && img.Dim == ir.Dim2D:
			kind = metadata.ResourceKindImage2D
		case img.Class == ir.ImageClassStorage:
			return metadata.BindingDeclaration{}, false
		case img.Dim == ir.Dim2D:
			kind = metadata.ResourceKindTexture2D
		case img.Dim == ir.DimCube:
			kind = metadata.ResourceKindTextureCube
		default:
			return metadata.BindingDeclaration{}, false
		}
	default:
		return metadata.BindingDeclaration{}, false
	}
	return declare(gv.Name, kind, gv.Binding.Group, gv.Binding.Binding, size, arrayLen), true
}

func irSize(module *ir.Module, inner ir.TypeInner) uint64 {
	switch t := inner.(type) {
	case ir.StructType:
		return uint64(t.Span)
	case ir.ScalarType:
		return uint64(t.Width)
	case ir.VectorType:
		return uint64(t.Size) * uint64(t.Scalar.Width)
	case ir.MatrixType:
		rows := uint64(t.Rows)
		if rows == 3 {
			rows = 4
		}
		return uint64(t.Columns) * rows * uint64(t.Scalar.Width)
	case ir.ArrayType:
		if t.Size.Constant == nil {
			return 0
		}
		return uint64(*t.Size.Constant) * uint64(t.Stride)
	}
	return 0
}
