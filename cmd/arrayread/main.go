package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"

	"github.com/alitto/pond"
	"github.com/urfave/cli/v2"

	"github.com/sixy6e/go-arraycore/cmd/arrayread/internal/config"
	"github.com/sixy6e/go-arraycore/cmd/arrayread/internal/manifest"
	"github.com/sixy6e/go-arraycore/copyengine"
	"github.com/sixy6e/go-arraycore/domain"
	"github.com/sixy6e/go-arraycore/query"
	"github.com/sixy6e/go-arraycore/statslog"
	"github.com/sixy6e/go-arraycore/subarray"
	"github.com/sixy6e/go-arraycore/tilestore"
	"go.uber.org/zap"
)

// runRead drives one arrayread invocation to completion, submitting until
// Complete, logging each round's status and detail and, at the end, the
// fixed-buffer bytes copied per field.
func runRead(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	schema, err := cfg.Schema()
	if err != nil {
		return err
	}
	catalog, err := manifest.Load(cfg.Storage.Manifest)
	if err != nil {
		return err
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer zlog.Sync()
	logger := statslog.NewZapSink(zlog)

	fs := tilestore.NewLocalFS(cfg.Storage.Root)
	arr, err := query.Open(schema, catalog, fs, logger)
	if err != nil {
		return err
	}

	layout := subarray.RowMajor
	sa, err := subarray.New(schema, layout)
	if err != nil {
		return err
	}
	for _, rs := range cfg.Query.Ranges {
		di, ok := schema.DimensionIndex(rs.Dimension)
		if !ok {
			return fmt.Errorf("arrayread: unknown dimension %q in query.ranges", rs.Dimension)
		}
		dt := schema.Domain.Dimensions[di].Type
		r := domain.Range{Low: domain.EncodeInt64(dt, rs.Low), High: domain.EncodeInt64(dt, rs.High)}
		if err := sa.AddRange(di, r); err != nil {
			return err
		}
	}

	qcfg := query.DefaultConfig()
	if cfg.Query.MemoryBudget > 0 {
		qcfg.MemoryBudget = cfg.Query.MemoryBudget
	}
	qcfg.ParallelBitmap = cfg.Query.ParallelBitmap

	q, err := query.NewQuery(arr, qcfg, sa)
	if err != nil {
		return err
	}

	n := runtime.NumCPU()
	pool := pond.New(n, 0, pond.MinWorkers(n))
	defer pool.StopAndWait()
	q.SetWorkerPool(pool)

	bufByField := map[string]copyengine.BufferSpec{}
	for _, b := range cfg.Query.Buffers {
		spec := copyengine.BufferSpec{Fixed: make([]byte, b.FixedBytes)}
		if b.VarBytes > 0 {
			spec.Var = make([]byte, b.VarBytes)
		}
		if b.ValidityBytes > 0 {
			spec.Validity = make([]byte, b.ValidityBytes)
		}
		bufByField[b.Field] = spec
	}

	for _, name := range cfg.Query.BindFields {
		spec, ok := bufByField[name]
		if !ok {
			return fmt.Errorf("arrayread: field %q bound but has no [[query.buffers]] entry", name)
		}
		if di, ok := schema.DimensionIndex(name); ok {
			if err := q.BindDimBuffer(di, spec); err != nil {
				return err
			}
			continue
		}
		if err := q.BindAttrBuffer(name, spec); err != nil {
			return err
		}
	}

	total := map[string]int{}
	rounds := 0
	for {
		rounds++
		status, err := q.Submit(ctx)
		if err != nil {
			return err
		}
		for name, res := range q.Results() {
			total[name] += res.FixedBytes
		}
		log.Printf("round %d: status=%s detail=%d", rounds, status, q.StatusDetail())
		if status == query.Complete {
			break
		}
		if status == query.QueryError {
			return fmt.Errorf("arrayread: query failed: detail=%d", q.StatusDetail())
		}
	}
	q.Finalize()

	for name, bytes := range total {
		log.Printf("field %s: %d bytes copied", name, bytes)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "arrayread",
		Usage: "read a sparse/dense multi-dimensional array through the read core",
		Commands: []*cli.Command{
			{
				Name:  "read",
				Usage: "submit a query to completion against a TOML-described array",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Usage:    "path to the arrayread TOML config",
						Required: true,
					},
				},
				Action: func(cCtx *cli.Context) error {
					ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
					defer stop()
					return runRead(ctx, cCtx.String("config"))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
