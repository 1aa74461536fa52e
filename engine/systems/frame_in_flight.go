package systems

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-srbc/engine/core"
	"github.com/spaghettifunk/anima-srbc/engine/renderer/metadata"
)

type frameResource struct {
	kind metadata.ResourceKind
	// instances[subIndex][frameIndex]
	instances [][]metadata.ResourceHandle
}

/**
 * @brief Keeps N parallel instances of each registered resource, one per frame
 * in flight. Not synchronized: NextFrame is called once per frame on the GPU
 * thread, and the caller guarantees at most N frames are ever in flight.
 */
type FrameInFlightManager struct {
	framesInFlight uint32
	frameIndex     uint32
	frameCount     uint64
	resources      map[string]*frameResource
}

func NewFrameInFlightManager(framesInFlight uint32) (*FrameInFlightManager, error) {
	if framesInFlight == 0 {
		return nil, fmt.Errorf("func NewFrameInFlightManager - framesInFlight must be > 0")
	}
	return &FrameInFlightManager{
		framesInFlight: framesInFlight,
		resources:      make(map[string]*frameResource),
	}, nil
}

func (m *FrameInFlightManager) String() string {
	return fmt.Sprintf("frames-in-flight/%d", m.framesInFlight)
}

func (m *FrameInFlightManager) FramesInFlight() uint32 {
	return m.framesInFlight
}

// FrameIndex is the instance index of the current frame, in [0, N).
func (m *FrameInFlightManager) FrameIndex() uint32 {
	return m.frameIndex
}

func (m *FrameInFlightManager) FrameCount() uint64 {
	return m.frameCount
}

func (m *FrameInFlightManager) checkInstances(name string, kind metadata.ResourceKind, instances []metadata.ResourceHandle) error {
	if uint32(len(instances)) != m.framesInFlight {
		return &core.CapacityError{What: fmt.Sprintf("frame instances of '%s'", name), Limit: uint64(m.framesInFlight), Got: uint64(len(instances))}
	}
	for _, h := range instances {
		if h.Kind != kind {
			return &core.TypeMismatchError{Name: name, Expected: kind, Got: h.Kind}
		}
	}
	return nil
}

// Register installs one instance per frame for name. Re-registering replaces
// the previous instances.
func (m *FrameInFlightManager) Register(name string, kind metadata.ResourceKind, instances ...metadata.ResourceHandle) error {
	if err := m.checkInstances(name, kind, instances); err != nil {
		return err
	}
	m.resources[name] = &frameResource{
		kind:      kind,
		instances: [][]metadata.ResourceHandle{append([]metadata.ResourceHandle(nil), instances...)},
	}
	return nil
}

// RegisterArray installs per-frame instances for every element of an array
// resource. elements[i] holds the N instances of element i.
func (m *FrameInFlightManager) RegisterArray(name string, kind metadata.ResourceKind, elements [][]metadata.ResourceHandle) error {
	if len(elements) == 0 {
		return &core.CapacityError{What: fmt.Sprintf("elements of '%s'", name), Limit: 1, Got: 0}
	}
	r := &frameResource{kind: kind, instances: make([][]metadata.ResourceHandle, 0, len(elements))}
	for _, e := range elements {
		if err := m.checkInstances(name, kind, e); err != nil {
			return err
		}
		r.instances = append(r.instances, append([]metadata.ResourceHandle(nil), e...))
	}
	m.resources[name] = r
	return nil
}

// CreateInstances registers name with N instances built by create.
func (m *FrameInFlightManager) CreateInstances(name string, kind metadata.ResourceKind, create func(frame uint32) (metadata.ResourceHandle, error)) error {
	instances := make([]metadata.ResourceHandle, 0, m.framesInFlight)
	for f := uint32(0); f < m.framesInFlight; f++ {
		h, err := create(f)
		if err != nil {
			return err
		}
		instances = append(instances, h)
	}
	return m.Register(name, kind, instances...)
}

// GetCurrent returns the current frame's instance of element 0.
func (m *FrameInFlightManager) GetCurrent(name string) (metadata.ResourceHandle, bool) {
	return m.GetCurrentAt(name, 0)
}

func (m *FrameInFlightManager) GetCurrentAt(name string, subIndex uint32) (metadata.ResourceHandle, bool) {
	return m.GetFrame(name, subIndex, m.frameIndex)
}

// GetFrame returns the instance of a specific frame index.
func (m *FrameInFlightManager) GetFrame(name string, subIndex, frame uint32) (metadata.ResourceHandle, bool) {
	r, ok := m.resources[name]
	if !ok || int(subIndex) >= len(r.instances) || frame >= m.framesInFlight {
		return metadata.ResourceHandle{}, false
	}
	return r.instances[subIndex][frame], true
}

// Current returns the resource to bind for name this frame. Array resources
// are assembled from the current instance of each element.
func (m *FrameInFlightManager) Current(name string) (metadata.ResourceHandle, bool) {
	r, ok := m.resources[name]
	if !ok {
		return metadata.ResourceHandle{}, false
	}
	if len(r.instances) == 1 {
		return r.instances[0][m.frameIndex], true
	}
	if r.kind.IsBuffer() {
		buffers := make([]metadata.BufferRef, 0, len(r.instances))
		for _, e := range r.instances {
			buffers = append(buffers, e[m.frameIndex].Buffer)
		}
		return metadata.ResourceHandle{Kind: r.kind.Array(), Buffers: buffers}, true
	}
	textures := make([]metadata.TextureRef, 0, len(r.instances))
	for _, e := range r.instances {
		textures = append(textures, e[m.frameIndex].Texture)
	}
	return metadata.ResourceHandle{Kind: r.kind.Array(), Textures: textures}, true
}

func (m *FrameInFlightManager) Has(name string) bool {
	_, ok := m.resources[name]
	return ok
}

// Names returns the registered names in a stable order.
func (m *FrameInFlightManager) Names() []string {
	names := make([]string, 0, len(m.resources))
	for n := range m.resources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Instances returns every instance of name, element by element.
func (m *FrameInFlightManager) Instances(name string) []metadata.ResourceHandle {
	r, ok := m.resources[name]
	if !ok {
		return nil
	}
	out := []metadata.ResourceHandle{}
	for _, e := range r.instances {
		out = append(out, e...)
	}
	return out
}

// NextFrame advances to the next instance index and returns it.
func (m *FrameInFlightManager) NextFrame() uint32 {
	m.frameCount++
	m.frameIndex = uint32(m.frameCount % uint64(m.framesInFlight))
	return m.frameIndex
}

func (m *FrameInFlightManager) Remove(name string) {
	delete(m.resources, name)
}

func (m *FrameInFlightManager) Clear() {
	m.resources = make(map[string]*frameResource)
}
