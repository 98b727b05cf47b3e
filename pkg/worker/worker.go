// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/novatechflow/nitfscale/pkg/dispatch"
	"github.com/novatechflow/nitfscale/pkg/metadata"
	"github.com/novatechflow/nitfscale/pkg/product"
	"github.com/novatechflow/nitfscale/pkg/provider"
)

// ErrWrongJob is returned for tasks addressed to another job.
var ErrWrongJob = errors.New("task belongs to another job")

// Flusher is implemented by sinks that buffer ranges.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Config wires a Worker.
type Config struct {
	Job        string
	ProducerID string
	Logger     *slog.Logger
	// OnTask observes every handled task.
	OnTask func(t dispatch.RowTask, written int64, elapsed time.Duration, err error)
}

// Worker turns row tasks into written file ranges: it reads the rows, asks
// the provider where their bytes belong, writes them and records the range.
type Worker struct {
	cfg     Config
	product *product.Product
	source  PixelSource
	sink    provider.RangeWriter
	store   metadata.Store
	logger  *slog.Logger
}

// New builds a worker for one job.
func New(cfg Config, p *product.Product, source PixelSource, sink provider.RangeWriter, store metadata.Store) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:     cfg,
		product: p,
		source:  source,
		sink:    sink,
		store:   store,
		logger:  logger.With("job", cfg.Job),
	}
}

// LoadProduct rebuilds the product of job from its stored manifest.
func LoadProduct(ctx context.Context, store metadata.Store, job string) (*product.Product, error) {
	raw, err := store.Manifest(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", job, err)
	}
	m, err := product.DecodeManifest(raw)
	if err != nil {
		return nil, err
	}
	return product.FromManifest(m)
}

// Handle processes one task. It is safe to repeat: every byte lands at the
// same offset with the same value.
func (w *Worker) Handle(ctx context.Context, t dispatch.RowTask) error {
	start := time.Now()
	written, err := w.handle(ctx, t)
	if w.cfg.OnTask != nil {
		w.cfg.OnTask(t, written, time.Since(start), err)
	}
	if err != nil {
		w.logger.Warn("task failed", "image", t.Image, "first_row", t.FirstRow, "end_row", t.EndRow, "attempt", t.Attempt, "error", err)
		return err
	}
	w.logger.Debug("task written", "image", t.Image, "first_row", t.FirstRow, "end_row", t.EndRow, "bytes", written, "elapsed", time.Since(start))
	return nil
}

func (w *Worker) handle(ctx context.Context, t dispatch.RowTask) (int64, error) {
	if t.Job != w.cfg.Job {
		return 0, fmt.Errorf("%w: %s", ErrWrongJob, t.Job)
	}
	ranges, err := w.product.Provider.ContributionRanges(int(t.Image), t.FirstRow, t.EndRow)
	if err != nil {
		return 0, err
	}
	strip, err := w.source.ReadRows(ctx, int(t.Image), t.FirstRow, t.EndRow)
	if err != nil {
		return 0, err
	}
	if err := provider.WriteRanges(ctx, w.sink, ranges, strip); err != nil {
		return 0, err
	}
	if f, ok := w.sink.(Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return 0, fmt.Errorf("flush ranges: %w", err)
		}
	}
	var written int64
	for _, r := range ranges {
		written += r.Length
	}
	rec := metadata.RangeRecord{
		Image:     t.Image,
		FirstRow:  t.FirstRow,
		EndRow:    t.EndRow,
		Producer:  w.cfg.ProducerID,
		WrittenAt: time.Now().UTC(),
	}
	if err := w.store.MarkWritten(ctx, t.Job, rec); err != nil {
		return written, fmt.Errorf("record rows: %w", err)
	}
	return written, nil
}

// WriteMetadata writes header, subheader, DES and index ranges so a file
// can be completed even when no task touches them.
func (w *Worker) WriteMetadata(ctx context.Context) error {
	ranges := w.product.Provider.MetadataRanges()
	if err := provider.WriteRanges(ctx, w.sink, ranges, provider.Strip{}); err != nil {
		return err
	}
	if f, ok := w.sink.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// RunLocal handles tasks with up to parallel goroutines sharing the worker
// and returns the first error. It is the single-process path without Kafka.
func (w *Worker) RunLocal(ctx context.Context, tasks []dispatch.RowTask, parallel int) error {
	if parallel <= 0 {
		parallel = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, t := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return w.Handle(gctx, t)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
