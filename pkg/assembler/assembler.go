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

package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/novatechflow/nitfscale/pkg/metadata"
	"github.com/novatechflow/nitfscale/pkg/product"
	"github.com/novatechflow/nitfscale/pkg/storage"
)

// ErrIncomplete is returned when a job does not reach full row coverage in time.
var ErrIncomplete = errors.New("job rows not fully written")

// Config wires an Assembler.
type Config struct {
	Job          string
	Namespace    string
	OutputName   string
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
	// OnProgress observes the number of rows still missing after each check.
	OnProgress func(missing int64)
}

// Assembler waits for a job's rows to be written and turns the staged
// ranges into the finished container.
type Assembler struct {
	cfg    Config
	store  metadata.Store
	s3     storage.S3Client
	ranges *storage.RangeStore
	logger *slog.Logger
}

// New returns an assembler for cfg.Job. s3Client may be nil when producers
// write the output file in place.
func New(cfg Config, store metadata.Store, s3Client storage.S3Client, ranges *storage.RangeStore) *Assembler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		cfg:    cfg,
		store:  store,
		s3:     s3Client,
		ranges: ranges,
		logger: logger.With("job", cfg.Job),
	}
}

// Missing reports the row gaps of p that no written-range record covers yet.
func (a *Assembler) Missing(ctx context.Context, p *product.Product) ([]metadata.RowGap, error) {
	recs, err := a.store.WrittenRanges(ctx, a.cfg.Job)
	if err != nil {
		return nil, err
	}
	numRows := make([]int64, len(p.Spec.Images))
	for i, img := range p.Spec.Images {
		numRows[i] = img.NumRows
	}
	return metadata.MissingRows(recs, numRows), nil
}

// Wait blocks until every row of p is recorded as written. It re-checks on
// store notifications and on every poll interval.
func (a *Assembler) Wait(ctx context.Context, p *product.Product) error {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	changes := a.store.Watch(ctx, a.cfg.Job)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	var last []metadata.RowGap
	for {
		gaps, err := a.Missing(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return a.waitErr(ctx, last)
			}
			return err
		}
		last = gaps
		missing := countRows(gaps)
		if a.cfg.OnProgress != nil {
			a.cfg.OnProgress(missing)
		}
		if len(gaps) == 0 {
			return nil
		}
		a.logger.Debug("waiting for rows", "missing_rows", missing, "gaps", len(gaps))
		select {
		case <-ctx.Done():
			return a.waitErr(ctx, last)
		case _, ok := <-changes:
			if !ok {
				changes = nil
			}
		case <-ticker.C:
		}
	}
}

func (a *Assembler) waitErr(ctx context.Context, gaps []metadata.RowGap) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	if len(gaps) == 0 {
		return fmt.Errorf("%w: no coverage check completed", ErrIncomplete)
	}
	return fmt.Errorf("%w: %d rows in %d gaps, first image %d rows [%d,%d)", ErrIncomplete,
		countRows(gaps), len(gaps), gaps[0].Image, gaps[0].FirstRow, gaps[0].EndRow)
}

func countRows(gaps []metadata.RowGap) int64 {
	var n int64
	for _, g := range gaps {
		n += g.EndRow - g.FirstRow
	}
	return n
}

// ComposeFile writes the staged ranges of p into a local file at path.
func (a *Assembler) ComposeFile(ctx context.Context, p *product.Product, path string) error {
	if a.ranges == nil {
		return fmt.Errorf("compose %s: no range store", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := f.Truncate(p.TotalLength()); err != nil {
		_ = f.Close()
		return fmt.Errorf("size output: %w", err)
	}
	if err := a.ranges.Compose(ctx, f, p.TotalLength()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Publish streams the staged ranges of p into the output object and returns its key.
func (a *Assembler) Publish(ctx context.Context, p *product.Product) (string, error) {
	if a.ranges == nil || a.s3 == nil {
		return "", errors.New("publish: object storage not configured")
	}
	// Check the tiling before anything is uploaded.
	parts, err := a.ranges.Parts(ctx)
	if err != nil {
		return "", err
	}
	if _, err := storage.Plan(parts, p.TotalLength()); err != nil {
		return "", err
	}

	key := storage.OutputKey(a.cfg.Namespace, a.cfg.Job, a.cfg.OutputName)
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.ranges.ComposeTo(ctx, pw, p.TotalLength()))
	}()
	if err := a.s3.UploadStream(ctx, key, pr, p.TotalLength()); err != nil {
		_ = pr.CloseWithError(err)
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	a.logger.Info("container published", "key", key, "bytes", p.TotalLength())
	return key, nil
}

// RowIndex encodes the sidecar row index of p.
func RowIndex(p *product.Product) ([]byte, error) {
	return storage.BuildRowIndex(storage.RowIndexFromLayout(p.Layout), p.TotalLength())
}

// PublishIndex uploads the row index of p next to the output object key.
func (a *Assembler) PublishIndex(ctx context.Context, p *product.Product, outputKey string) error {
	data, err := RowIndex(p)
	if err != nil {
		return err
	}
	return a.s3.UploadObject(ctx, storage.IndexKey(outputKey), data)
}

// WriteIndexFile writes the row index of p next to a local output file.
func WriteIndexFile(p *product.Product, outputPath string) error {
	data, err := RowIndex(p)
	if err != nil {
		return err
	}
	return os.WriteFile(storage.IndexKey(outputPath), data, 0o644)
}

// Cleanup removes the staged ranges and the job metadata.
func (a *Assembler) Cleanup(ctx context.Context) error {
	if a.ranges != nil {
		if err := a.ranges.Cleanup(ctx); err != nil {
			return fmt.Errorf("cleanup ranges: %w", err)
		}
	}
	if err := a.store.DeleteJob(ctx, a.cfg.Job); err != nil && !errors.Is(err, metadata.ErrUnknownJob) {
		return fmt.Errorf("cleanup metadata: %w", err)
	}
	return nil
}
