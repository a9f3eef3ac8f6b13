package process

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestShutdownStackLIFO verifies resources are torn down in strict
// reverse-acquisition order, matching the spec's contextlib-stack
// shutdown discipline.
func TestShutdownStackLIFO(t *testing.T) {
	var order []int
	var stack ShutdownStack
	for i := 0; i < 3; i++ {
		i := i
		stack.Push(func() error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, stack.Unwind(nil))
	assert.Equal(t, []int{2, 1, 0}, order)
}

// TestShutdownStackContinuesPastFailure verifies one Closer failing does
// not stop the rest from running, and the first error is surfaced.
func TestShutdownStackContinuesPastFailure(t *testing.T) {
	var ran []string
	var stack ShutdownStack
	boom := errors.New("boom")
	stack.Push(func() error { ran = append(ran, "first"); return nil })
	stack.Push(func() error { ran = append(ran, "second"); return boom })
	stack.Push(func() error { ran = append(ran, "third"); return nil })

	err := stack.Unwind(nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"third", "second", "first"}, ran)
}

func TestEmergencyStopError(t *testing.T) {
	err := &EmergencyStop{Reason: "operator pressed estop"}
	assert.Contains(t, err.Error(), "operator pressed estop")
}
