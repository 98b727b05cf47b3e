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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/novatechflow/nitfscale/internal/app"
	"github.com/novatechflow/nitfscale/internal/config"
	"github.com/novatechflow/nitfscale/internal/metrics"
	"github.com/novatechflow/nitfscale/pkg/cache"
	"github.com/novatechflow/nitfscale/pkg/dispatch"
	"github.com/novatechflow/nitfscale/pkg/layout"
	"github.com/novatechflow/nitfscale/pkg/metadata"
	"github.com/novatechflow/nitfscale/pkg/product"
	"github.com/novatechflow/nitfscale/pkg/storage"
	"github.com/novatechflow/nitfscale/pkg/worker"
)

const publishBatch = 500

func main() {
	configPath := flag.String("config", "nitfscale.yaml", "path to the job configuration")
	dryRun := flag.Bool("dry-run", false, "print the plan without storing or publishing it")
	local := flag.Bool("local", false, "write and assemble the job in this process instead of publishing tasks")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := app.NewLogger("planner")

	if err := run(ctx, *configPath, *dryRun, *local, os.Stdout, logger); err != nil {
		logger.Error("planner failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, dryRun, local bool, out io.Writer, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	p, err := product.Build(cfg.Product)
	if err != nil {
		return fmt.Errorf("build product: %w", err)
	}
	tasks := dispatch.PlanTasks(cfg.Job, p.Layout, cfg.Tasks.RowsPerTask)
	if err := writeSummary(out, summarize(cfg.Job, p, tasks)); err != nil {
		return err
	}
	if dryRun {
		return nil
	}
	if local {
		cfg.Metadata.Backend = "memory"
	}

	store, closeStore, err := app.BuildStore(ctx, cfg.Metadata, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := storeManifest(ctx, store, cfg.Job, p); err != nil {
		return err
	}
	logger.Info("manifest stored", "job", cfg.Job, "fingerprint", p.Fingerprint(), "total_length", p.TotalLength())

	if local {
		return runLocal(ctx, cfg, p, store, tasks, logger)
	}

	client, err := dispatch.NewClient(dispatch.ClientConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	if err := dispatch.EnsureTopic(ctx, client, cfg.Kafka.Topic, int32(cfg.Kafka.Partitions), int16(cfg.Kafka.Replication)); err != nil {
		return err
	}
	if err := publishTasks(ctx, dispatch.NewPublisher(client, cfg.Kafka.Topic), tasks); err != nil {
		return err
	}
	logger.Info("tasks published", "job", cfg.Job, "topic", cfg.Kafka.Topic, "tasks", len(tasks))
	return nil
}

// storeManifest records the manifest of p. Re-running the planner for the
// same product is a no-op.
func storeManifest(ctx context.Context, store metadata.Store, job string, p *product.Product) error {
	encoded, err := p.Manifest(job).Encode()
	if err != nil {
		return err
	}
	if err := store.PutManifest(ctx, job, encoded); err != nil {
		if errors.Is(err, metadata.ErrJobExists) {
			return fmt.Errorf("job %s already planned with a different product: %w", job, err)
		}
		return err
	}
	return nil
}

type taskPublisher interface {
	Publish(ctx context.Context, tasks ...dispatch.RowTask) error
}

func publishTasks(ctx context.Context, pub taskPublisher, tasks []dispatch.RowTask) error {
	for start := 0; start < len(tasks); start += publishBatch {
		end := min(start+publishBatch, len(tasks))
		if err := pub.Publish(ctx, tasks[start:end]...); err != nil {
			return err
		}
		metrics.TasksPublished.Add(float64(end - start))
	}
	return nil
}

func runLocal(ctx context.Context, cfg config.Config, p *product.Product, store metadata.Store, tasks []dispatch.RowTask, logger *slog.Logger) error {
	var s3Client storage.S3Client
	if app.NeedsS3(cfg) {
		var err error
		if s3Client, err = app.BuildS3Client(ctx, cfg.S3, logger); err != nil {
			return err
		}
	}
	rangeCache := cache.NewRangeCache(cfg.Cache.CapacityBytes)
	src, err := app.OpenSource(ctx, cfg, p, s3Client, rangeCache)
	if err != nil {
		return err
	}
	defer src.Close()
	sink, err := app.OpenSink(cfg, p, s3Client, metrics.ObserveS3)
	if err != nil {
		return err
	}
	w := worker.New(worker.Config{
		Job:        cfg.Job,
		ProducerID: cfg.Server.ProducerID,
		Logger:     logger,
		OnTask: func(_ dispatch.RowTask, written int64, elapsed time.Duration, err error) {
			metrics.ObserveTask(written, elapsed, err)
		},
	}, p, src, sink, store)
	if err := w.RunLocal(ctx, tasks, cfg.Tasks.Parallel); err != nil {
		_ = sink.Close()
		return err
	}
	if err := sink.Close(); err != nil {
		return err
	}

	a := app.NewAssembler(cfg, store, s3Client, metrics.ObserveS3, logger, nil)
	if err := a.Wait(ctx, p); err != nil {
		return err
	}
	where, err := app.Finalize(ctx, cfg, a, p, logger)
	if err != nil {
		return err
	}
	logger.Info("job complete", "job", cfg.Job, "output", where)
	return nil
}

type segmentSummary struct {
	Index           int    `json:"index"`
	ID              string `json:"id"`
	FirstRow        int64  `json:"first_row"`
	NumRows         int64  `json:"num_rows"`
	SubheaderOffset int64  `json:"subheader_offset"`
	DataOffset      int64  `json:"data_offset"`
	DataLength      int64  `json:"data_length"`
}

type imageSummary struct {
	Index     int              `json:"index"`
	NumRows   int64            `json:"num_rows"`
	NumCols   int64            `json:"num_cols"`
	PixelType string           `json:"pixel_type"`
	Segments  []segmentSummary `json:"segments"`
}

type regionSummary struct {
	Kind   string `json:"kind"`
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
}

type planSummary struct {
	Job         string          `json:"job"`
	Profile     string          `json:"profile"`
	Fingerprint string          `json:"fingerprint"`
	TotalLength int64           `json:"total_length"`
	Images      []imageSummary  `json:"images"`
	Regions     []regionSummary `json:"regions"`
	Tasks       int             `json:"tasks"`
}

func summarize(job string, p *product.Product, tasks []dispatch.RowTask) planSummary {
	s := planSummary{
		Job:         job,
		Profile:     string(p.Spec.Profile),
		Fingerprint: p.Fingerprint(),
		TotalLength: p.TotalLength(),
		Tasks:       len(tasks),
	}
	if s.Profile == "" {
		s.Profile = string(product.ProfileSICD)
	}
	for i, il := range p.Layout.Images {
		img := imageSummary{
			Index:     i,
			NumRows:   p.Spec.Images[i].NumRows,
			NumCols:   p.Spec.Images[i].NumCols,
			PixelType: p.Spec.Images[i].PixelType.String(),
		}
		for _, seg := range il.Segments {
			img.Segments = append(img.Segments, segmentSummary{
				Index:           seg.Info.Index,
				ID:              product.SegmentID(product.Profile(s.Profile), i, seg.Info.Index, len(il.Segments)),
				FirstRow:        seg.Info.FirstRow,
				NumRows:         seg.Info.NumRows,
				SubheaderOffset: seg.Subheader.Offset,
				DataOffset:      seg.Data.Offset,
				DataLength:      seg.Data.Length,
			})
		}
		s.Images = append(s.Images, img)
	}
	for _, r := range p.Layout.Regions() {
		if r.Kind == layout.RegionImageSubheader || r.Kind == layout.RegionImageData {
			continue
		}
		s.Regions = append(s.Regions, regionSummary{Kind: r.Kind.String(), Offset: r.Offset, Length: r.Length})
	}
	return s
}

func writeSummary(out io.Writer, s planSummary) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
