package systems

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

/** @brief One descriptor set of a registry. */
type DescriptorSetInfo struct {
	Index    uint32
	Priority metadata.SetPriority
	Name     string
	/** @brief Member resource names, in insertion order. */
	Members  []string
	IsActive bool
	/** @brief How many applies emitted at least one bind for this set. */
	BindFrequency  uint64
	LastBoundFrame uint64
}

// DefaultSetMapping is the priority to set index mapping used unless
// configured otherwise.
func DefaultSetMapping() map[metadata.SetPriority]uint32 {
	return map[metadata.SetPriority]uint32{
		metadata.SetPrioritySystem:   0,
		metadata.SetPriorityGlobal:   1,
		metadata.SetPriorityMaterial: 2,
		metadata.SetPriorityInstance: 3,
		metadata.SetPriorityCustom:   4,
	}
}

/**
 * @brief Partitions the bindings of a registry into priority ordered sets.
 */
type DescriptorSetTable struct {
	sets        map[uint32]*DescriptorSetInfo
	membership  map[string]uint32
	order       []uint32
	mapping     map[metadata.SetPriority]uint32
	startSet    uint32
	endSet      uint32
	usePriority bool
}

func NewDescriptorSetTable(usePriority bool, startSet, endSet uint32) (*DescriptorSetTable, error) {
	if endSet < startSet {
		return nil, fmt.Errorf("func NewDescriptorSetTable - endSet %d is lower than startSet %d", endSet, startSet)
	}
	return &DescriptorSetTable{
		sets:        make(map[uint32]*DescriptorSetInfo),
		membership:  make(map[string]uint32),
		mapping:     DefaultSetMapping(),
		startSet:    startSet,
		endSet:      endSet,
		usePriority: usePriority,
	}, nil
}

func (t *DescriptorSetTable) String() string {
	return fmt.Sprintf("descriptor-sets/%d-%d", t.startSet, t.endSet)
}

// SetMapping replaces the priority to index mapping. Indices outside the
// table range are rejected.
func (t *DescriptorSetTable) SetMapping(mapping map[metadata.SetPriority]uint32) error {
	for p, idx := range mapping {
		if idx < t.startSet || idx > t.endSet {
			return &core.CapacityError{What: fmt.Sprintf("set index of %s", p), Limit: uint64(t.endSet), Got: uint64(idx)}
		}
	}
	t.mapping = make(map[metadata.SetPriority]uint32, len(mapping))
	for p, idx := range mapping {
		t.mapping[p] = idx
	}
	for idx, s := range t.sets {
		s.Priority = t.PriorityFor(idx)
	}
	t.reorder()
	return nil
}

func (t *DescriptorSetTable) Mapping() map[metadata.SetPriority]uint32 {
	out := make(map[metadata.SetPriority]uint32, len(t.mapping))
	for p, idx := range t.mapping {
		out[p] = idx
	}
	return out
}

// IndexFor returns the set index priority maps to, clamped to the table range.
func (t *DescriptorSetTable) IndexFor(priority metadata.SetPriority) uint32 {
	idx, ok := t.mapping[priority]
	if !ok {
		idx = t.mapping[metadata.SetPriorityCustom]
	}
	return metadata.Clamp(idx, t.startSet, t.endSet)
}

// PriorityFor returns the priority of a set index. Unmapped indices are Custom.
func (t *DescriptorSetTable) PriorityFor(index uint32) metadata.SetPriority {
	best := metadata.SetPriorityCustom
	found := false
	for p, idx := range t.mapping {
		if idx == index && (!found || p < best) {
			best = p
			found = true
		}
	}
	return best
}

func (t *DescriptorSetTable) InRange(index uint32) bool {
	return index >= t.startSet && index <= t.endSet
}

func (t *DescriptorSetTable) ensure(index uint32) *DescriptorSetInfo {
	s, ok := t.sets[index]
	if !ok {
		p := t.PriorityFor(index)
		s = &DescriptorSetInfo{
			Index:    index,
			Priority: p,
			Name:     fmt.Sprintf("%s_%d", p, index),
			IsActive: true,
		}
		t.sets[index] = s
		t.reorder()
	}
	return s
}

func (t *DescriptorSetTable) Rename(index uint32, name string) {
	t.ensure(index).Name = name
}

func (t *DescriptorSetTable) SetActive(index uint32, active bool) {
	if s, ok := t.sets[index]; ok {
		s.IsActive = active
	}
}

// AddMember puts name into set index, moving it out of any previous set. The
// table range only bounds automatic assignment: shaders may use any index.
func (t *DescriptorSetTable) AddMember(index uint32, name string) {
	if prev, ok := t.membership[name]; ok {
		if prev == index {
			return
		}
		t.RemoveMember(name)
	}
	s := t.ensure(index)
	s.Members = append(s.Members, name)
	t.membership[name] = index
}

func (t *DescriptorSetTable) RemoveMember(name string) {
	idx, ok := t.membership[name]
	if !ok {
		return
	}
	delete(t.membership, name)
	s := t.sets[idx]
	for i, m := range s.Members {
		if m == name {
			s.Members = append(s.Members[:i], s.Members[i+1:]...)
			break
		}
	}
}

func (t *DescriptorSetTable) SetOf(name string) (uint32, bool) {
	idx, ok := t.membership[name]
	return idx, ok
}

func (t *DescriptorSetTable) Get(index uint32) (DescriptorSetInfo, bool) {
	s, ok := t.sets[index]
	if !ok {
		return DescriptorSetInfo{}, false
	}
	c := *s
	c.Members = append([]string(nil), s.Members...)
	return c, true
}

// reorder recomputes the binding order: a stable sort by priority, then index.
// With priorities disabled sets are bound by index.
func (t *DescriptorSetTable) reorder() {
	t.order = t.order[:0]
	for idx := range t.sets {
		t.order = append(t.order, idx)
	}
	sort.Slice(t.order, func(i, j int) bool { return t.order[i] < t.order[j] })
	if t.usePriority {
		sort.SliceStable(t.order, func(i, j int) bool {
			return t.sets[t.order[i]].Priority < t.sets[t.order[j]].Priority
		})
	}
}

// Order returns the set indices in binding order.
func (t *DescriptorSetTable) Order() []uint32 {
	return append([]uint32(nil), t.order...)
}

// Sets returns a copy of every set in binding order.
func (t *DescriptorSetTable) Sets() []DescriptorSetInfo {
	out := make([]DescriptorSetInfo, 0, len(t.order))
	for _, idx := range t.order {
		s, _ := t.Get(idx)
		out = append(out, s)
	}
	return out
}

func (t *DescriptorSetTable) MarkBound(index uint32, frame uint64) {
	if s, ok := t.sets[index]; ok {
		s.BindFrequency++
		s.LastBoundFrame = frame
	}
}

// Missing returns the members for which exists reports false.
func (t *DescriptorSetTable) Missing(exists func(name string) bool) []string {
	missing := []string{}
	for _, idx := range t.order {
		for _, m := range t.sets[idx].Members {
			if !exists(m) {
				missing = append(missing, m)
			}
		}
	}
	return missing
}

func (t *DescriptorSetTable) Len() int {
	return len(t.sets)
}

func (t *DescriptorSetTable) Clear() {
	t.sets = make(map[uint32]*DescriptorSetInfo)
	t.membership = make(map[string]uint32)
	t.order = nil
}
