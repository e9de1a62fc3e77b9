// Package readstate implements the Read State Machine of spec §4.9: the
// per-query cursor over fragments and the sub-partition, the
// overflow/unsplittable/done flags, and the forward-progress invariant
// dowork must respect.
package readstate

import "github.com/sixy6e/go-arraycore/errs"

// Status is one of the state machine's named states (spec §4.9).
type Status uint8

const (
	Uninit Status = iota
	Ready
	Emitted
	Overflowed
	Unsplittable
	Done
)

func (s Status) String() string {
	switch s {
	case Uninit:
		return "uninit"
	case Ready:
		return "ready"
	case Emitted:
		return "emitted"
	case Overflowed:
		return "overflowed"
	case Unsplittable:
		return "unsplittable"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// FragmentCursor tracks one fragment's forward-progress position: the
// tile currently being consumed and the cell offset within it.
type FragmentCursor struct {
	TileIndex int
	CellPos   int
}

// Machine is the per-query Read State (spec §3, "Read State").
type Machine struct {
	status Status

	fragCursors map[string]*FragmentCursor

	overflowed   bool
	unsplittable bool
	done         bool

	// lastProgress snapshots the cursor state as of the last successful
	// (non-overflow) dowork call, for the forward-progress check.
	lastProgress map[string]FragmentCursor
	partitionGen int
	lastPartitionGen int
}

// New creates a Machine in the uninit state.
func New() *Machine {
	return &Machine{status: Uninit, fragCursors: map[string]*FragmentCursor{}}
}

// Status reports the current state.
func (m *Machine) Status() Status { return m.status }

// Init transitions uninit -> ready, positioning the partitioner on its
// first sub-partition (the caller does that positioning; Init only marks
// the transition).
func (m *Machine) Init() {
	m.status = Ready
	m.lastProgress = map[string]FragmentCursor{}
}

// Cursor returns (creating if absent) the fragment's cursor.
func (m *Machine) Cursor(fragID string) *FragmentCursor {
	c, ok := m.fragCursors[fragID]
	if !ok {
		c = &FragmentCursor{}
		m.fragCursors[fragID] = c
	}
	return c
}

// AdvancePartition records that the partitioner moved to a new
// sub-partition, satisfying the forward-progress invariant even when no
// fragment cursor moved (spec §4.9).
func (m *Machine) AdvancePartition() {
	m.partitionGen++
}

// Emit transitions ready -> emitted: results were produced and buffers
// are non-empty.
func (m *Machine) Emit() {
	m.status = Emitted
	m.overflowed = false
	m.snapshotProgress()
}

// Overflow transitions ready -> overflowed: an output buffer could not
// hold everything produced this iteration.
func (m *Machine) Overflow(detail errs.StatusDetail) {
	m.status = Overflowed
	m.overflowed = true
	_ = detail
}

// SplitOk transitions overflowed -> ready (same partition, finer).
func (m *Machine) SplitOk() {
	if m.status != Overflowed {
		return
	}
	m.status = Ready
	m.overflowed = false
}

// SplitFailed transitions overflowed -> unsplittable (terminal).
func (m *Machine) SplitFailed() {
	m.status = Unsplittable
	m.unsplittable = true
}

// MarkDone transitions ready -> done: no fragments, or no results after
// all partitions were consumed.
func (m *Machine) MarkDone() {
	m.status = Done
	m.done = true
}

// BackToReady transitions emitted -> ready for the next dowork call,
// after the caller has advanced the partition cursor.
func (m *Machine) BackToReady() {
	if m.status != Emitted {
		return
	}
	m.status = Ready
}

func (m *Machine) Overflowed() bool   { return m.overflowed }
func (m *Machine) Unsplittable() bool { return m.unsplittable }
func (m *Machine) Done() bool         { return m.done }

func (m *Machine) snapshotProgress() {
	for id, c := range m.fragCursors {
		m.lastProgress[id] = *c
	}
	m.lastPartitionGen = m.partitionGen
}

// CheckForwardProgress enforces spec §4.9: across two successive
// non-overflow dowork calls, either some fragment's (tile_index, cell_pos)
// strictly advanced, or the partition cursor advanced. Call this after a
// successful (non-overflow) iteration, before snapshotting via Emit.
func (m *Machine) CheckForwardProgress() error {
	if m.partitionGen != m.lastPartitionGen {
		return nil
	}
	for id, c := range m.fragCursors {
		prev, ok := m.lastProgress[id]
		if !ok {
			if c.TileIndex > 0 || c.CellPos > 0 {
				return nil
			}
			continue
		}
		if c.TileIndex > prev.TileIndex || (c.TileIndex == prev.TileIndex && c.CellPos > prev.CellPos) {
			return nil
		}
	}
	if len(m.fragCursors) == 0 {
		return nil
	}
	return errs.New(errs.Internal, "read state: no forward progress across successive dowork calls")
}
