package readstate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sixy6e/go-arraycore/readstate"
)

func TestStateTransitions(t *testing.T) {
	m := readstate.New()
	assert.Equal(t, readstate.Uninit, m.Status())

	m.Init()
	assert.Equal(t, readstate.Ready, m.Status())

	m.Overflow(0)
	assert.True(t, m.Overflowed())
	assert.Equal(t, readstate.Overflowed, m.Status())

	m.SplitOk()
	assert.Equal(t, readstate.Ready, m.Status())
	assert.False(t, m.Overflowed())

	m.Emit()
	assert.Equal(t, readstate.Emitted, m.Status())

	m.BackToReady()
	assert.Equal(t, readstate.Ready, m.Status())

	m.MarkDone()
	assert.True(t, m.Done())
}

func TestUnsplittableTerminal(t *testing.T) {
	m := readstate.New()
	m.Init()
	m.Overflow(0)
	m.SplitFailed()
	assert.Equal(t, readstate.Unsplittable, m.Status())
	assert.True(t, m.Unsplittable())
}

func TestForwardProgressDetectsFragmentAdvance(t *testing.T) {
	m := readstate.New()
	m.Init()
	m.Emit() // snapshot at (0,0) for any cursors touched so far (none yet)

	c := m.Cursor("f1")
	c.CellPos = 5
	require.NoError(t, m.CheckForwardProgress())
}

func TestForwardProgressDetectsPartitionAdvance(t *testing.T) {
	m := readstate.New()
	m.Init()
	m.Cursor("f1") // touch without advancing
	m.Emit()

	m.AdvancePartition()
	require.NoError(t, m.CheckForwardProgress())
}

func TestForwardProgressViolation(t *testing.T) {
	m := readstate.New()
	m.Init()
	c := m.Cursor("f1")
	c.CellPos = 5
	m.Emit() // snapshot records cell_pos=5

	// No fragment cursor moves and no partition advance happens.
	err := m.CheckForwardProgress()
	assert.Error(t, err)
}
