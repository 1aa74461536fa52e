package metadata

import "fmt"

/**
 * @brief A single resource slot discovered in (or declared for) a shader program.
 * Static once installed in a registry.
 */
type BindingDeclaration struct {
	/** @brief The resource Name as seen by the shader. */
	Name string
	/** @brief The declared resource kind. */
	Kind ResourceKind
	/** @brief The binding point within the kind's target. Array element i lives at BindingPoint+i. */
	BindingPoint uint32
	/** @brief The descriptor set. 0 when the source API has no set concept. */
	Set uint32
	/** @brief Size in bytes of one element. 0 for textures and images. */
	ElementSize uint64
	IsArray     bool
	/** @brief Upper bound on contained elements. 1 for non-array bindings. */
	ArraySize uint32
	/** @brief The stages that reference this binding. */
	Stages ShaderStageFlags
}

// Slot returns the (set, point) pair the declaration owns.
func (d BindingDeclaration) Slot() SlotKey {
	return SlotKey{Set: d.Set, Point: d.BindingPoint}
}

// Capacity is the number of elements the binding can hold.
func (d BindingDeclaration) Capacity() uint32 {
	if d.ArraySize == 0 {
		return 1
	}
	return d.ArraySize
}

// SameLayout reports whether two declarations describe the same slot layout.
func (d BindingDeclaration) SameLayout(o BindingDeclaration) bool {
	return d.Kind == o.Kind &&
		d.Set == o.Set &&
		d.BindingPoint == o.BindingPoint &&
		d.ElementSize == o.ElementSize &&
		d.Capacity() == o.Capacity()
}

func (d BindingDeclaration) String() string {
	if d.IsArray {
		return fmt.Sprintf("%s: %s[%d] set=%d binding=%d size=%d", d.Name, d.Kind, d.Capacity(), d.Set, d.BindingPoint, d.ElementSize)
	}
	return fmt.Sprintf("%s: %s set=%d binding=%d size=%d", d.Name, d.Kind, d.Set, d.BindingPoint, d.ElementSize)
}

/** @brief Set index of a declaration that is waiting for automatic set assignment. */
const UnassignedSet uint32 = ^uint32(0)

/** @brief Identifies a (set, bindingPoint) slot. */
type SlotKey struct {
	Set   uint32
	Point uint32
}

func (s SlotKey) String() string {
	return fmt.Sprintf("(%d,%d)", s.Set, s.Point)
}

/** @brief Identifies a backend binding slot: a point within a target. */
type TargetKey struct {
	Target BindTarget
	Point  uint32
}

func (t TargetKey) String() string {
	return fmt.Sprintf("%s:%d", t.Target, t.Point)
}

/** @brief The priority of a descriptor set. Lower values are bound first. */
type SetPriority uint8

const (
	SetPrioritySystem SetPriority = iota
	SetPriorityGlobal
	SetPriorityMaterial
	SetPriorityInstance
	SetPriorityCustom
)

func (p SetPriority) String() string {
	switch p {
	case SetPrioritySystem:
		return "System"
	case SetPriorityGlobal:
		return "Global"
	case SetPriorityMaterial:
		return "Material"
	case SetPriorityInstance:
		return "Instance"
	}
	return "Custom"
}

func SetPriorityFromString(s string) (SetPriority, error) {
	switch s {
	case "System", "system":
		return SetPrioritySystem, nil
	case "Global", "global":
		return SetPriorityGlobal, nil
	case "Material", "material":
		return SetPriorityMaterial, nil
	case "Instance", "instance":
		return SetPriorityInstance, nil
	case "Custom", "custom":
		return SetPriorityCustom, nil
	}
	return SetPriorityCustom, fmt.Errorf("string %s is not a valid SetPriority", s)
}

/** @brief The lifecycle state of a resource binding. */
type LifecycleState uint8

const (
	LifecycleDeclared LifecycleState = iota
	LifecycleAllocated
	LifecycleBound
	LifecycleActive
	LifecycleStale
	LifecycleUnbound
	LifecycleDeallocated
	LifecycleDestroyed
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleDeclared:
		return "Declared"
	case LifecycleAllocated:
		return "Allocated"
	case LifecycleBound:
		return "Bound"
	case LifecycleActive:
		return "Active"
	case LifecycleStale:
		return "Stale"
	case LifecycleUnbound:
		return "Unbound"
	case LifecycleDeallocated:
		return "Deallocated"
	case LifecycleDestroyed:
		return "Destroyed"
	}
	return fmt.Sprintf("LifecycleState(%d)", uint8(s))
}

var lifecycleEdges = map[LifecycleState][]LifecycleState{
	LifecycleDeclared:    {LifecycleAllocated},
	LifecycleAllocated:   {LifecycleBound, LifecycleUnbound},
	LifecycleBound:       {LifecycleActive, LifecycleUnbound},
	LifecycleActive:      {LifecycleStale, LifecycleBound, LifecycleUnbound},
	LifecycleStale:       {LifecycleActive, LifecycleUnbound, LifecycleBound},
	LifecycleUnbound:     {LifecycleAllocated, LifecycleDeallocated},
	LifecycleDeallocated: {LifecycleAllocated},
}

// CanTransition reports whether from -> to is an allowed lifecycle edge.
// Same-state transitions are allowed no-ops. Destroyed is terminal and
// reachable from every other state.
func CanTransition(from, to LifecycleState) bool {
	if from == to {
		return true
	}
	if from == LifecycleDestroyed {
		return false
	}
	if to == LifecycleDestroyed {
		return true
	}
	for _, s := range lifecycleEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

/** @brief Why a binding was invalidated. */
type InvalidationReason uint8

const (
	InvalidationUserRequested InvalidationReason = iota
	InvalidationDependencyChanged
	InvalidationFrameAged
	InvalidationGpuStateMismatch
	InvalidationTypeMismatch
)

func (r InvalidationReason) String() string {
	switch r {
	case InvalidationUserRequested:
		return "UserRequested"
	case InvalidationDependencyChanged:
		return "DependencyChanged"
	case InvalidationFrameAged:
		return "FrameAged"
	case InvalidationGpuStateMismatch:
		return "GpuStateMismatch"
	case InvalidationTypeMismatch:
		return "TypeMismatch"
	}
	return fmt.Sprintf("InvalidationReason(%d)", uint8(r))
}

/** @brief A record of one invalidation. */
type InvalidationRecord struct {
	Name         string
	Reason       InvalidationReason
	Frame        uint64
	BindingPoint uint32
	Dependencies []string
	Dependents   []string
}

/** @brief Per-kind update priority used to schedule batched updates. */
type UpdatePriority uint8

const (
	UpdatePriorityImmediate UpdatePriority = iota
	UpdatePriorityHigh
	UpdatePriorityNormal
	UpdatePriorityLow
	UpdatePriorityBackground
)

func (p UpdatePriority) String() string {
	switch p {
	case UpdatePriorityImmediate:
		return "Immediate"
	case UpdatePriorityHigh:
		return "High"
	case UpdatePriorityNormal:
		return "Normal"
	case UpdatePriorityLow:
		return "Low"
	}
	return "Background"
}

func UpdatePriorityFromString(s string) (UpdatePriority, error) {
	for p := UpdatePriorityImmediate; p <= UpdatePriorityBackground; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return UpdatePriorityNormal, fmt.Errorf("string %s is not a valid UpdatePriority", s)
}

/** @brief The update-batch lifecycle. Scheduled -> Eligible -> Processing -> Processed, or Discarded. */
type BatchState uint8

const (
	BatchScheduled BatchState = iota
	BatchEligible
	BatchProcessing
	BatchProcessed
	BatchDiscarded
)

func (s BatchState) String() string {
	switch s {
	case BatchScheduled:
		return "Scheduled"
	case BatchEligible:
		return "Eligible"
	case BatchProcessing:
		return "Processing"
	case BatchProcessed:
		return "Processed"
	}
	return "Discarded"
}

/** @brief How pending updates are committed. */
type UpdateMode uint8

const (
	UpdateModeImmediate UpdateMode = iota
	UpdateModeBatched
	UpdateModeFlush
)

func (m UpdateMode) String() string {
	switch m {
	case UpdateModeImmediate:
		return "Immediate"
	case UpdateModeBatched:
		return "Batched"
	}
	return "Flush"
}

/** @brief How Apply dispatches dirty bindings. */
type ApplyMode uint8

const (
	ApplyIndividual ApplyMode = iota
	ApplyPerSet
	ApplyBatched
	ApplyOptimal
)

func (m ApplyMode) String() string {
	switch m {
	case ApplyIndividual:
		return "Individual"
	case ApplyPerSet:
		return "PerSet"
	case ApplyBatched:
		return "Batched"
	}
	return "Optimal"
}

func (p UpdatePriority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *UpdatePriority) UnmarshalText(text []byte) error {
	v, err := UpdatePriorityFromString(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
