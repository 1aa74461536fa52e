package reflection

import (
	"sort"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

/** @brief Two declarations claimed the same (set, bindingPoint). The first one wins. */
type Conflict struct {
	Kept    metadata.BindingDeclaration
	Dropped metadata.BindingDeclaration
}

/** @brief The binding interface of one shader stage. */
type Result struct {
	Stage        metadata.ShaderStage
	Declarations []metadata.BindingDeclaration
	Conflicts    []Conflict
}

// Reflector turns one stage module into its binding declarations.
type Reflector func(module metadata.ShaderModule) (*Result, error)

// Reflect dispatches on the module format.
func Reflect(module metadata.ShaderModule) (*Result, error) {
	switch module.Format {
	case metadata.ShaderFormatWGSL:
		return ReflectWGSL(module.Stage, string(module.Code))
	default:
		return ReflectSPIRV(module.Stage, module.Code)
	}
}

// dedup keeps the first declaration per (set, bindingPoint) and reports the rest.
// Output is ordered by set, then binding point.
func dedup(stage metadata.ShaderStage, decls []metadata.BindingDeclaration) *Result {
	res := &Result{Stage: stage}
	owners := make(map[metadata.SlotKey]int, len(decls))
	for _, d := range decls {
		d.Stages = d.Stages.With(stage)
		if i, ok := owners[d.Slot()]; ok {
			kept := res.Declarations[i]
			if kept.Name == d.Name && kept.Kind == d.Kind {
				continue
			}
			core.LogWarn("%s: binding point conflict at %s, keeping %s and dropping %s", stage, d.Slot(), kept.Name, d.Name)
			res.Conflicts = append(res.Conflicts, Conflict{Kept: kept, Dropped: d})
			continue
		}
		owners[d.Slot()] = len(res.Declarations)
		res.Declarations = append(res.Declarations, d)
	}
	sort.SliceStable(res.Declarations, func(i, j int) bool {
		a, b := res.Declarations[i], res.Declarations[j]
		if a.Set != b.Set {
			return a.Set < b.Set
		}
		return a.BindingPoint < b.BindingPoint
	})
	return res
}

// declare builds a declaration. arrayLen is the outermost array dimension, 0
// when the resource is not an array.
func declare(name string, kind metadata.ResourceKind, set, binding uint32, size uint64, arrayLen uint32) metadata.BindingDeclaration {
	d := metadata.BindingDeclaration{
		Name:         name,
		Kind:         kind,
		BindingPoint: binding,
		Set:          set,
		ElementSize:  size,
		ArraySize:    1,
	}
	if arrayLen > 0 {
		d.Kind = kind.Array()
		d.IsArray = true
		d.ArraySize = arrayLen
	}
	return d
}
