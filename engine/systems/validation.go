package systems

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

const (
	uniformBufferSizeAlignment = 16
	storageBufferSizeAlignment = 4
)

// DefaultBufferSize is the size of buffers created for declarations without
// an element size.
const DefaultBufferSize = 256

// Validate runs the validators selected by scope. Issues below the configured
// severity are dropped. If any error remains it is also returned as a
// ValidationError. Refused lifecycle transitions are reported once here and
// then forgotten.
func (r *ResourceRegistry) Validate(scope metadata.ValidationScope) ([]metadata.ValidationIssue, error) {
	return r.validate(scope, true)
}

// validate keeps the recorded lifecycle violations unless consume is set.
// Without consume only violations not seen by an earlier call are reported.
func (r *ResourceRegistry) validate(scope metadata.ValidationScope, consume bool) ([]metadata.ValidationIssue, error) {
	if !r.config.EnableValidation {
		return nil, core.ErrFeatureDisabled
	}
	if !r.initialized {
		return nil, core.ErrNotInitialized
	}
	issues := []metadata.ValidationIssue{}
	if scope.Has(metadata.ValidateBindingPointConflicts) {
		issues = append(issues, r.validateConflicts()...)
	}
	if scope.Has(metadata.ValidateTypeMismatch) {
		issues = append(issues, r.validateTypes()...)
	}
	if scope.Has(metadata.ValidateSizeAlignment) {
		issues = append(issues, r.validateSizes()...)
	}
	if scope.Has(metadata.ValidateLifecycle) {
		issues = append(issues, r.validateLifecycle(consume)...)
	}
	if scope.Has(metadata.ValidateDependencies) {
		issues = append(issues, r.validateDependencies()...)
	}
	if scope.Has(metadata.ValidateStaleness) {
		issues = append(issues, r.validateStaleness()...)
	}

	kept := issues[:0]
	for _, i := range issues {
		if i.Severity >= r.config.SeverityFilter {
			kept = append(kept, i)
		}
	}
	sort.SliceStable(kept, func(a, b int) bool {
		if kept[a].Category != kept[b].Category {
			return kept[a].Category < kept[b].Category
		}
		return kept[a].Name < kept[b].Name
	})

	failed := []fmt.Stringer{}
	for _, i := range kept {
		if i.Severity == metadata.SeverityError {
			failed = append(failed, i)
		}
	}
	if len(failed) > 0 {
		return kept, &core.ValidationError{Issues: failed}
	}
	return kept, nil
}

func issue(sev metadata.Severity, cat metadata.IssueCategory, name, format string, args ...interface{}) metadata.ValidationIssue {
	return metadata.ValidationIssue{Severity: sev, Category: cat, Name: name, Message: fmt.Sprintf(format, args...)}
}

func (r *ResourceRegistry) validateConflicts() []metadata.ValidationIssue {
	out := []metadata.ValidationIssue{}
	owners := map[metadata.SlotKey][]string{}
	for _, n := range r.Names() {
		d := r.bindings[n].Declaration
		if d.Set == metadata.UnassignedSet {
			continue
		}
		owners[d.Slot()] = append(owners[d.Slot()], n)
	}
	for slot, names := range owners {
		if len(names) > 1 {
			out = append(out, issue(metadata.SeverityError, metadata.IssueBindingPointConflict, names[1],
				"shares %s with '%s'", slot, names[0]))
		}
	}
	// every backend point belongs to one binding, whatever the sets
	held := map[metadata.TargetKey]string{}
	for _, n := range r.Names() {
		b := r.bindings[n]
		for i := uint32(0); i < b.Declaration.Capacity(); i++ {
			k := metadata.TargetKey{Target: b.Declaration.Kind.Target(), Point: b.BackendPoint + i}
			if owner, taken := held[k]; taken {
				out = append(out, issue(metadata.SeverityError, metadata.IssueBindingPointConflict, n,
					"binds %s like '%s'", k, owner))
				break
			}
			held[k] = n
		}
	}
	for _, m := range r.sets.Missing(func(name string) bool { _, ok := r.bindings[name]; return ok }) {
		out = append(out, issue(metadata.SeverityError, metadata.IssueBindingPointConflict, m, "descriptor set member has no binding"))
	}
	return out
}

func (r *ResourceRegistry) validateTypes() []metadata.ValidationIssue {
	out := []metadata.ValidationIssue{}
	for _, n := range r.Names() {
		b := r.bindings[n]
		if b.Resource.IsEmpty() {
			continue
		}
		if _, err := checkResource(b.Declaration, b.Resource); err != nil {
			out = append(out, issue(metadata.SeverityError, metadata.IssueTypeMismatch, n, "%s", err))
		}
	}
	return out
}

func (r *ResourceRegistry) validateSizes() []metadata.ValidationIssue {
	out := []metadata.ValidationIssue{}
	limits := r.backend.Limits()
	for _, n := range r.Names() {
		b := r.bindings[n]
		d := b.Declaration
		target := d.Kind.Target()
		switch {
		case target == metadata.BindTargetUniformBuffer && !metadata.IsAligned(d.ElementSize, uniformBufferSizeAlignment):
			out = append(out, issue(metadata.SeverityWarning, metadata.IssueSizeAlignment, n,
				"uniform buffer size %d is not a multiple of %d bytes", d.ElementSize, uniformBufferSizeAlignment))
		case target == metadata.BindTargetStorageBuffer && !metadata.IsAligned(d.ElementSize, storageBufferSizeAlignment):
			out = append(out, issue(metadata.SeverityError, metadata.IssueSizeAlignment, n,
				"storage buffer size %d is not a multiple of %d bytes", d.ElementSize, storageBufferSizeAlignment))
		}
		if max := limits.MaxPoints(target); target == metadata.BindTargetTexture && b.BackendPoint+d.Capacity() > max {
			out = append(out, issue(metadata.SeverityError, metadata.IssueSizeAlignment, n,
				"texture unit %d is beyond the %d units of %s", b.BackendPoint+d.Capacity()-1, max, r.backend.Name()))
		}
		for i := 0; i < b.Resource.Len(); i++ {
			e, _ := b.Resource.Element(i)
			if !e.Kind.IsBuffer() {
				continue
			}
			align := limits.UniformBufferOffsetAlignment
			if e.Kind.Target() == metadata.BindTargetStorageBuffer {
				align = limits.StorageBufferOffsetAlignment
			}
			if !metadata.IsAligned(e.Buffer.Offset, align) {
				out = append(out, issue(metadata.SeverityError, metadata.IssueSizeAlignment, n,
					"element %d offset %d is not aligned to %d", i, e.Buffer.Offset, align))
			}
		}
	}
	return out
}

// validateLifecycle reports the refused transitions recorded since the last
// validation.
func (r *ResourceRegistry) validateLifecycle(consume bool) []metadata.ValidationIssue {
	from := r.violationsSeen
	if consume {
		from = 0
	}
	out := make([]metadata.ValidationIssue, 0, len(r.violations)-from)
	for _, v := range r.violations[from:] {
		out = append(out, issue(metadata.SeverityError, metadata.IssueLifecycleTransition, v.name,
			"invalid transition from %s to %s at frame %d", v.from, v.to, v.frame))
	}
	if consume {
		r.violations = nil
		r.violationsSeen = 0
	} else {
		r.violationsSeen = len(r.violations)
	}
	for _, n := range r.Names() {
		b := r.bindings[n]
		if b.IsActive && (b.GpuHandle == 0 || b.Resource.IsEmpty()) {
			out = append(out, issue(metadata.SeverityError, metadata.IssueLifecycleTransition, n,
				"active without a GPU object"))
		}
	}
	return out
}

func (r *ResourceRegistry) validateDependencies() []metadata.ValidationIssue {
	out := []metadata.ValidationIssue{}
	if r.deps.HasCycle() {
		out = append(out, issue(metadata.SeverityError, metadata.IssueDependency, "", "dependency graph has a cycle"))
	}
	for _, n := range nameSetKeys(r.required) {
		for _, req := range r.required[n].sorted() {
			if !r.deps.DependsOn(n, req) {
				out = append(out, issue(metadata.SeverityError, metadata.IssueDependency, n, "missing required dependency '%s'", req))
			}
		}
	}
	for _, n := range nameSetKeys(r.forbidden) {
		for _, f := range r.forbidden[n].sorted() {
			if r.deps.DependsOn(n, f) {
				out = append(out, issue(metadata.SeverityError, metadata.IssueDependency, n, "depends on forbidden '%s'", f))
			}
		}
	}
	return out
}

func nameSetKeys(m map[string]nameSet) []string {
	s := nameSet{}
	for k := range m {
		s[k] = struct{}{}
	}
	return s.sorted()
}

func (r *ResourceRegistry) validateStaleness() []metadata.ValidationIssue {
	out := []metadata.ValidationIssue{}
	now := r.now()
	limit := r.config.StaleAge.Std()
	for _, n := range r.Names() {
		b := r.bindings[n]
		if b.LastAccessed.IsZero() || limit <= 0 {
			continue
		}
		if age := now.Sub(b.LastAccessed); age > limit {
			out = append(out, issue(metadata.SeverityInfo, metadata.IssueStaleness, n, "not accessed for %s", age.Round(1e6)))
		}
	}
	return out
}
