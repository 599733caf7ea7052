package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ReleasesInReverseOrder(t *testing.T) {
	m := NewManager(nil)
	var order []string
	for _, name := range []string{"process", "streams", "session"} {
		name := name
		require.NoError(t, m.Push(name, func() error {
			order = append(order, name)
			return nil
		}))
	}
	assert.Equal(t, 3, m.Len())

	require.NoError(t, m.Release())
	assert.Equal(t, []string{"session", "streams", "process"}, order)
	assert.True(t, m.Released())
	assert.Equal(t, 0, m.Len())
}

func TestManager_ReleaseRunsOnce(t *testing.T) {
	m := NewManager(nil)
	calls := 0
	boom := errors.New("boom")
	_ = m.Push("x", func() error {
		calls++
		return boom
	})

	err1 := m.Release()
	err2 := m.Release()
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err1, boom)
	assert.Equal(t, err1, err2, "later releases report the first result")
}

func TestManager_FailuresDoNotStopUnwinding(t *testing.T) {
	m := NewManager(nil)
	var order []string
	errA := errors.New("a failed")
	errC := errors.New("c failed")

	_ = m.Push("a", func() error { order = append(order, "a"); return errA })
	_ = m.Push("b", func() error { order = append(order, "b"); panic("b exploded") })
	_ = m.Push("c", func() error { order = append(order, "c"); return errC })

	err := m.Release()
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Contains(t, err.Error(), "release b: panic: b exploded")
}

func TestManager_PushAfterReleaseRunsImmediately(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Release())

	ran := false
	err := m.Push("late", func() error { ran = true; return nil })
	assert.True(t, ran, "late resources must not leak")
	assert.ErrorIs(t, err, ErrReleased)
}
