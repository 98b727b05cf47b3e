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
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/novatechflow/nitfscale/internal/app"
	"github.com/novatechflow/nitfscale/internal/config"
	"github.com/novatechflow/nitfscale/internal/metrics"
	"github.com/novatechflow/nitfscale/pkg/metadata"
	"github.com/novatechflow/nitfscale/pkg/storage"
	"github.com/novatechflow/nitfscale/pkg/worker"
)

func main() {
	configPath := flag.String("config", "nitfscale.yaml", "path to the job configuration")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := app.NewLogger("assembler")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	store, closeStore, err := app.BuildStore(ctx, cfg.Metadata, logger)
	if err != nil {
		logger.Error("open metadata store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var s3Client storage.S3Client
	if cfg.Output.Mode == "s3" {
		if s3Client, err = app.BuildS3Client(ctx, cfg.S3, logger); err != nil {
			logger.Error("open object storage", "error", err)
			os.Exit(1)
		}
	}
	app.StartMetricsServer(ctx, cfg.Server.MetricsListen, func() (bool, string) { return true, "assembling" }, jobStatus(cfg, store), logger)

	where, err := assemble(ctx, cfg, store, s3Client, logger)
	if err != nil {
		logger.Error("assembly failed", "job", cfg.Job, "error", err)
		os.Exit(1)
	}
	logger.Info("job complete", "job", cfg.Job, "output", where)
}

type statusResponse struct {
	Job         string            `json:"job"`
	MissingRows int64             `json:"missing_rows"`
	Gaps        []metadata.RowGap `json:"gaps"`
	Complete    bool              `json:"complete"`
}

// jobStatus reports the row coverage of the job for /status.
func jobStatus(cfg config.Config, store metadata.Store) app.StatusFunc {
	return func(ctx context.Context) (any, error) {
		recs, err := store.WrittenRanges(ctx, cfg.Job)
		if err != nil {
			return nil, err
		}
		numRows := make([]int64, len(cfg.Product.Images))
		for i, img := range cfg.Product.Images {
			numRows[i] = img.NumRows
		}
		gaps := metadata.MissingRows(recs, numRows)
		resp := statusResponse{Job: cfg.Job, Gaps: gaps, Complete: len(gaps) == 0}
		for _, g := range gaps {
			resp.MissingRows += g.EndRow - g.FirstRow
		}
		return resp, nil
	}
}

// assemble waits for every row of the job and finalizes the container.
func assemble(ctx context.Context, cfg config.Config, store metadata.Store, s3Client storage.S3Client, logger *slog.Logger) (string, error) {
	p, err := worker.LoadProduct(ctx, store, cfg.Job)
	if err != nil {
		return "", err
	}
	a := app.NewAssembler(cfg, store, s3Client, metrics.ObserveS3, logger, func(missing int64) {
		metrics.MissingRows.Set(float64(missing))
	})
	logger.Info("waiting for rows", "job", cfg.Job, "images", len(p.Spec.Images), "total_length", p.TotalLength())
	if err := a.Wait(ctx, p); err != nil {
		return "", err
	}
	where, err := app.Finalize(ctx, cfg, a, p, logger)
	if err != nil {
		return "", err
	}
	metrics.AssembledBytes.Add(float64(p.TotalLength()))
	return where, nil
}
