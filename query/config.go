// Package query implements the top-level orchestration of spec §5-6: it
// wires the Subarray Partitioner, Tile Store, Bitmap Evaluator, Result
// Space Tile Planner, Sparse Result-Tile Selector, Merge Engine, Query
// Condition Engine, and Copy Engine behind a single dowork loop driven by
// the Read State Machine.
package query

import (
	"github.com/sixy6e/go-arraycore/copyengine"
)

// Config is the configuration surface of spec §5: one total memory
// budget, the sub-partitioner scale used to bound unordered-layout sort
// working sets, the offsets encoding applied to every bound buffer
// (applyOffsetsMode), and the parallel-bitmap switch.
type Config struct {
	// MemoryBudget is the total byte budget handed to memtrack.New.
	MemoryBudget uint64
	// SubPartitionerScale is the initial fraction of the parent
	// partitioner's per-attribute budget a secondary partitioner starts
	// at when bounding an unordered merge's working set (spec §4.1,
	// NewSecondary); doubled (capped at 1.0) on repeated failure to
	// make progress.
	SubPartitionerScale float64

	OffsetsMode         copyengine.OffsetsMode
	OffsetsBits         int
	OffsetsExtraElement bool

	// ParallelBitmap enables bitmap.EvaluateParallel via the bound
	// worker pool instead of the sequential per-tile loop (spec §5(b)).
	ParallelBitmap bool
}

// DefaultConfig returns the default query configuration. The arrayread
// CLI starts from it, replaces MemoryBudget only when its TOML value is
// positive, and always takes ParallelBitmap from the TOML.
func DefaultConfig() Config {
	return Config{
		MemoryBudget:        64 << 20,
		SubPartitionerScale: 0.25,
		OffsetsMode:         copyengine.OffsetsBytes,
		OffsetsBits:         64,
		OffsetsExtraElement: false,
		ParallelBitmap: true,
	}
}
