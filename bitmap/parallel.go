package bitmap

import (
	"github.com/alitto/pond"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/tilestore"
)

// EvaluateParallel computes a bitmap for each result tile concurrently and
// assigns it to rt.Bitmap, implementing the bounded data-parallel fan-out
// spec §5(b) calls for ("parallel per-tile bitmap computation"). Grounded
// on the teacher's use of alitto/pond for bounded worker pools
// (cmd/main.go: pond.New(n, 0, pond.MinWorkers(n), pond.Context(ctx))).
func EvaluateParallel(pool *pond.WorkerPool, rts []*tilestore.ResultTile, dm *domain.Domain, dimRanges [][]domain.Range, cellOrder domain.Order, useCounts bool) {
	group := pool.Group()
	for _, rt := range rts {
		rt := rt
		group.Submit(func() {
			rt.Bitmap = Evaluate(rt, dm, dimRanges, cellOrder, useCounts)
		})
	}
	group.Wait()
}
