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
	"errors"
	"flag"
	"fmt"
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
	"github.com/novatechflow/nitfscale/pkg/metadata"
	"github.com/novatechflow/nitfscale/pkg/product"
	"github.com/novatechflow/nitfscale/pkg/storage"
	"github.com/novatechflow/nitfscale/pkg/worker"
)

const (
	manifestPollInterval = 2 * time.Second
	cacheMetricsInterval = 10 * time.Second
	healthUpdateInterval = 2 * time.Second
)

func main() {
	configPath := flag.String("config", "nitfscale.yaml", "path to the job configuration")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := app.NewLogger("producer")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("producer failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger = logger.With("producer", cfg.Server.ProducerID)
	monitor := storage.NewHealthMonitor(storage.HealthConfig{})
	onS3Op := app.ChainS3Ops(metrics.ObserveS3, monitor.Observe)

	store, closeStore, err := app.BuildStore(ctx, cfg.Metadata, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var s3Client storage.S3Client
	if app.NeedsS3(cfg) {
		if s3Client, err = app.BuildS3Client(ctx, cfg.S3, logger); err != nil {
			return err
		}
	}

	app.StartMetricsServer(ctx, cfg.Server.MetricsListen, app.MonitorReadiness(monitor), func(context.Context) (any, error) {
		return monitor.Snapshot(), nil
	}, logger)
	if _, err := app.StartHealthServer(ctx, cfg.Server.GRPCListen, monitor, healthUpdateInterval, logger); err != nil {
		return err
	}

	p, err := waitForProduct(ctx, store, cfg.Job, manifestPollInterval, logger)
	if err != nil {
		return err
	}
	rangeCache := cache.NewRangeCache(cfg.Cache.CapacityBytes)
	go exportCacheMetrics(ctx, rangeCache, cacheMetricsInterval)

	w, closeWorker, err := newWorker(ctx, cfg, p, store, s3Client, rangeCache, onS3Op, logger)
	if err != nil {
		return err
	}
	defer closeWorker()

	client, err := dispatch.NewClient(dispatch.ClientConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		Group:    cfg.Kafka.Group,
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	consumer := dispatch.NewConsumer(client, dispatch.ConsumerConfig{
		MaxAttempts: int32(cfg.Tasks.MaxAttempts),
		Retry:       dispatch.NewPublisher(client, cfg.Kafka.Topic),
	}, logger)
	logger.Info("consuming tasks", "job", cfg.Job, "topic", cfg.Kafka.Topic, "group", cfg.Kafka.Group, "total_length", p.TotalLength())
	return consumer.Run(ctx, jobFilter(cfg.Job, w.Handle, logger))
}

// waitForProduct polls until the planner has stored the job manifest.
func waitForProduct(ctx context.Context, store metadata.Store, job string, interval time.Duration, logger *slog.Logger) (*product.Product, error) {
	for {
		p, err := worker.LoadProduct(ctx, store, job)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, metadata.ErrUnknownJob) {
			return nil, err
		}
		logger.Info("waiting for job manifest", "job", job)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func newWorker(ctx context.Context, cfg config.Config, p *product.Product, store metadata.Store, s3Client storage.S3Client, c *cache.RangeCache, onS3Op func(string, time.Duration, error), logger *slog.Logger) (*worker.Worker, func(), error) {
	src, err := app.OpenSource(ctx, cfg, p, s3Client, c)
	if err != nil {
		return nil, nil, err
	}
	sink, err := app.OpenSink(cfg, p, s3Client, onS3Op)
	if err != nil {
		_ = src.Close()
		return nil, nil, err
	}
	w := worker.New(worker.Config{
		Job:        cfg.Job,
		ProducerID: cfg.Server.ProducerID,
		Logger:     logger,
		OnTask: func(_ dispatch.RowTask, written int64, elapsed time.Duration, err error) {
			metrics.ObserveTask(written, elapsed, err)
		},
	}, p, src, sink, store)
	closeAll := func() {
		if err := sink.Close(); err != nil {
			logger.Warn("close sink", "error", err)
		}
		if err := src.Close(); err != nil {
			logger.Warn("close source", "error", err)
		}
	}
	// Every producer stages the headers, subheaders and DES once. Repeats
	// carry identical bytes.
	if err := w.WriteMetadata(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("write metadata ranges: %w", err)
	}
	return w, closeAll, nil
}

// jobFilter skips tasks of other jobs sharing the topic. They are committed
// by the consumer like handled tasks.
func jobFilter(job string, handle dispatch.Handler, logger *slog.Logger) dispatch.Handler {
	return func(ctx context.Context, t dispatch.RowTask) error {
		if t.Job != job {
			logger.Debug("skipping task of another job", "task_job", t.Job)
			return nil
		}
		if err := handle(ctx, t); err != nil {
			return fmt.Errorf("handle %s: %w", t.Key(), err)
		}
		return nil
	}
}

func exportCacheMetrics(ctx context.Context, c *cache.RangeCache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateCache(c)
		}
	}
}
