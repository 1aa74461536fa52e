package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kindName string

func (k kindName) String() string { return string(k) }

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	var err error = &TypeMismatchError{Name: "Camera", Expected: kindName("UniformBuffer"), Got: kindName("Texture2D")}
	assert.ErrorIs(t, err, ErrTypeMismatch)
	var tm *TypeMismatchError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &tm)
	assert.Equal(t, "Camera", tm.Name)

	be := &BackendError{Op: "BindUniformBuffer", Point: 2, Err: errors.New("GL_INVALID_VALUE")}
	assert.ErrorIs(t, be, ErrBackendFailure)
	assert.Contains(t, be.Error(), "GL_INVALID_VALUE")

	assert.ErrorIs(t, &CycleError{Dependent: "a", Dependency: "b"}, ErrCycleDetected)
	assert.ErrorIs(t, &CapacityError{What: "array", Limit: 4, Got: 5}, ErrCapacityExceeded)
	assert.ErrorIs(t, &UnknownResourceError{Name: "x"}, ErrUnknownResource)
	assert.ErrorIs(t, &ValidationError{}, ErrValidationFailed)
}

func TestIDAllocatorReusesReleasedIDs(t *testing.T) {
	a := NewIDAllocator()
	first := a.Acquire("a")
	second := a.Acquire("b")
	assert.Equal(t, uint32(1), first)
	assert.Equal(t, uint32(2), second)
	require.NoError(t, a.Release(first))
	assert.Equal(t, first, a.Acquire("c"))
	assert.Error(t, a.Release(0))
	assert.Error(t, a.Release(99))
	owner, ok := a.Owner(second)
	assert.True(t, ok)
	assert.Equal(t, "b", owner)
	assert.Equal(t, 2, a.InUse())
}

func TestEventBusStopsAtFirstHandler(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	listenerA, listenerB := &struct{ a int }{}, &struct{ b int }{}
	require.True(t, bus.Register(EVENT_CODE_RESOURCE_UPDATED, listenerA, func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		calls++
		return true
	}))
	require.True(t, bus.Register(EVENT_CODE_RESOURCE_UPDATED, listenerB, func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		calls += 10
		return false
	}))
	assert.False(t, bus.Register(EVENT_CODE_RESOURCE_UPDATED, listenerA, func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }))

	assert.True(t, bus.Fire(EVENT_CODE_RESOURCE_UPDATED, nil, EventContext{}))
	assert.Equal(t, 1, calls)

	require.True(t, bus.Unregister(EVENT_CODE_RESOURCE_UPDATED, listenerA))
	assert.False(t, bus.Fire(EVENT_CODE_RESOURCE_UPDATED, nil, EventContext{}))
	assert.Equal(t, 11, calls)

	bus.UnregisterAll(listenerB)
	assert.False(t, bus.Fire(EVENT_CODE_RESOURCE_UPDATED, nil, EventContext{}))
	assert.Equal(t, 11, calls)
}

func TestRollingAverage(t *testing.T) {
	var r RollingAverage
	assert.Equal(t, time.Duration(0), r.Average())
	r.Add(2 * time.Millisecond)
	r.Add(4 * time.Millisecond)
	assert.Equal(t, 3*time.Millisecond, r.Average())
	for i := 0; i < int(AVG_COUNT); i++ {
		r.Add(time.Millisecond)
	}
	assert.Equal(t, time.Millisecond, r.Average())
	assert.Equal(t, uint64(AVG_COUNT)+2, r.Count())
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, InfoLevel, ParseLogLevel("nonsense"))
}
