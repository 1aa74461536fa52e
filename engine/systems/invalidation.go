package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

// Invalidate marks name dirty on behalf of the caller, without propagation.
func (r *ResourceRegistry) Invalidate(name string) error {
	return r.InvalidateWith(name, metadata.InvalidationUserRequested, false)
}

// InvalidateWith marks name dirty for reason. With propagate every transitive
// dependent is invalidated breadth first with DependencyChanged. Names already
// invalidated are not revisited.
func (r *ResourceRegistry) InvalidateWith(name string, reason metadata.InvalidationReason, propagate bool) error {
	if !r.initialized {
		return core.ErrNotInitialized
	}
	b, ok := r.bindings[name]
	if !ok {
		return &core.UnknownResourceError{Name: name}
	}
	r.markInvalidated(b, reason)
	if propagate {
		r.propagate(name)
	}
	return nil
}

func (r *ResourceRegistry) propagate(from string) {
	queue := r.deps.Dependents(from)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if _, seen := r.invalidated[n]; seen {
			continue
		}
		b, ok := r.bindings[n]
		if !ok {
			continue
		}
		r.markInvalidated(b, metadata.InvalidationDependencyChanged)
		queue = append(queue, r.deps.Dependents(n)...)
	}
}

func (r *ResourceRegistry) markInvalidated(b *ResourceBinding, reason metadata.InvalidationReason) {
	name := b.Declaration.Name
	rec := metadata.InvalidationRecord{
		Name:         name,
		Reason:       reason,
		Frame:        r.frame,
		BindingPoint: b.Declaration.BindingPoint,
		Dependencies: r.deps.Dependencies(name),
		Dependents:   r.deps.Dependents(name),
	}
	b.IsDirty = true
	r.forgetSlots(b, true)
	r.invalidated[name] = rec
	r.history = append(r.history, rec)
	if len(r.history) > maxInvalidationHistory {
		r.history = r.history[len(r.history)-maxInvalidationHistory:]
	}
	r.stats.Invalidations++
}

// InvalidatedNames returns the names invalidated since their last successful bind.
func (r *ResourceRegistry) InvalidatedNames() []string {
	s := nameSet{}
	for n := range r.invalidated {
		s[n] = struct{}{}
	}
	return s.sorted()
}

// InvalidationHistory returns the most recent invalidation records, oldest first.
func (r *ResourceRegistry) InvalidationHistory() []metadata.InvalidationRecord {
	return append([]metadata.InvalidationRecord(nil), r.history...)
}

// NotifyDependencyUpdated is the entry point for external "dependency
// changed" notifications: the dependents of name are invalidated. A failure
// while doing so is logged, the invalidated set is restored and pending
// updates are flushed.
func (r *ResourceRegistry) NotifyDependencyUpdated(name string) (err error) {
	if !r.initialized {
		return core.ErrNotInitialized
	}
	snapshot := make(map[string]metadata.InvalidationRecord, len(r.invalidated))
	for k, v := range r.invalidated {
		snapshot[k] = v
	}
	defer func() {
		if p := recover(); p != nil {
			core.LogError("%s: dependency notification for '%s' failed: %v", r, name, p)
			r.invalidated = snapshot
			if _, cerr := r.CommitPendingUpdates(); cerr != nil {
				core.LogError("%s: flushing pending updates: %s", r, cerr)
			}
			err = fmt.Errorf("%w: dependency notification for '%s': %v", core.ErrUnknown, name, p)
		}
	}()
	if _, ok := r.bindings[name]; !ok {
		return &core.UnknownResourceError{Name: name}
	}
	r.propagate(name)
	return nil
}

// AddResourceDependency records that dependent must be re-bound whenever
// dependency is invalidated with propagation.
func (r *ResourceRegistry) AddResourceDependency(dependent, dependency string) error {
	if !r.initialized {
		return core.ErrNotInitialized
	}
	return r.addDependency(dependent, dependency)
}

func (r *ResourceRegistry) addDependency(dependent, dependency string) error {
	for _, n := range []string{dependent, dependency} {
		if _, ok := r.bindings[n]; !ok {
			return &core.UnknownResourceError{Name: n}
		}
	}
	if err := r.deps.AddEdge(dependent, dependency); err != nil {
		core.LogWarn("%s: %s", r, err)
		return err
	}
	return nil
}

func (r *ResourceRegistry) RemoveResourceDependency(dependent, dependency string) {
	r.deps.RemoveEdge(dependent, dependency)
}

// SetRequiredDependencies declares the dependencies name must have. Checked by
// the dependency validator.
func (r *ResourceRegistry) SetRequiredDependencies(name string, required ...string) error {
	if _, ok := r.bindings[name]; !ok {
		return &core.UnknownResourceError{Name: name}
	}
	r.required[name] = toSet(required)
	return nil
}

// SetForbiddenDependencies declares the dependencies name must not have.
func (r *ResourceRegistry) SetForbiddenDependencies(name string, forbidden ...string) error {
	if _, ok := r.bindings[name]; !ok {
		return &core.UnknownResourceError{Name: name}
	}
	r.forbidden[name] = toSet(forbidden)
	return nil
}
