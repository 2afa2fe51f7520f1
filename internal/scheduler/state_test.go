package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Iron-Ham/maestro/internal/task"
)

func TestStateCapacity(t *testing.T) {
	s := NewState(2)
	assert.True(t, s.HasCapacity())
	assert.Equal(t, 2, s.AvailableSlots())
	assert.Equal(t, 0, s.RunningCount())

	s = s.Add("w1")
	assert.Equal(t, 1, s.AvailableSlots())
	assert.True(t, s.HasCapacity())

	s = s.Add("w2")
	assert.Equal(t, 0, s.AvailableSlots())
	assert.False(t, s.HasCapacity())

	s = s.Remove("w1")
	assert.Equal(t, 1, s.AvailableSlots())
	assert.False(t, s.IsRunning("w1"))
	assert.True(t, s.IsRunning("w2"))
}

func TestStateImmutable(t *testing.T) {
	base := NewState(4)
	withWorker := base.Add("w1")

	assert.Equal(t, 0, base.RunningCount(), "Add must not mutate the receiver")
	assert.Equal(t, 1, withWorker.RunningCount())

	removed := withWorker.Remove("w1")
	assert.Equal(t, 1, withWorker.RunningCount(), "Remove must not mutate the receiver")
	assert.Equal(t, 0, removed.RunningCount())
}

func TestStateAddIdempotent(t *testing.T) {
	s := NewState(3).Add("w1").Add("w1")
	assert.Equal(t, 1, s.RunningCount())
}

func TestStateRemoveAbsentWorker(t *testing.T) {
	s := NewState(3).Remove("ghost")
	assert.Equal(t, 0, s.RunningCount())
	assert.Equal(t, 3, s.AvailableSlots())
}

func TestStateZeroCapacity(t *testing.T) {
	s := NewState(0)
	assert.False(t, s.HasCapacity())
	assert.Equal(t, 0, s.AvailableSlots())

	// Over-subscription never yields negative slots.
	s = s.Add("w1")
	assert.Equal(t, 0, s.AvailableSlots())
}

func TestStateWorkersSorted(t *testing.T) {
	s := NewState(5).Add("w3").Add("w1").Add("w2")
	assert.Equal(t, []task.WorkerID{"w1", "w2", "w3"}, s.Workers())
}
