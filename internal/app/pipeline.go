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

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/novatechflow/nitfscale/internal/config"
	"github.com/novatechflow/nitfscale/pkg/assembler"
	"github.com/novatechflow/nitfscale/pkg/cache"
	"github.com/novatechflow/nitfscale/pkg/metadata"
	"github.com/novatechflow/nitfscale/pkg/product"
	"github.com/novatechflow/nitfscale/pkg/provider"
	"github.com/novatechflow/nitfscale/pkg/storage"
	"github.com/novatechflow/nitfscale/pkg/worker"
)

// NeedsS3 reports whether cfg touches object storage at all.
func NeedsS3(cfg config.Config) bool {
	return cfg.Output.Mode == "s3" || cfg.ObjectInputs()
}

// OpenSource opens the raw pixel inputs of p, from local files or objects.
func OpenSource(ctx context.Context, cfg config.Config, p *product.Product, s3Client storage.S3Client, c *cache.RangeCache) (*worker.RawSource, error) {
	if len(cfg.Inputs) == 0 {
		return nil, errors.New("no raw inputs configured")
	}
	if cfg.ObjectInputs() {
		if s3Client == nil {
			return nil, errors.New("object inputs need an s3 client")
		}
		return worker.NewObjectSource(ctx, s3Client, p.Plans, cfg.RawInputs(), cfg.Cache.WindowBytes, c)
	}
	return worker.OpenFileSource(p.Plans, cfg.RawInputs())
}

// Sink is a range writer with a release function.
type Sink struct {
	provider.RangeWriter
	Close func() error
}

// OpenSink returns where producers write file ranges: a buffered staging
// store in s3 mode, or the shared output file in file mode.
func OpenSink(cfg config.Config, p *product.Product, s3Client storage.S3Client, onS3Op func(string, time.Duration, error)) (Sink, error) {
	switch cfg.Output.Mode {
	case "s3":
		ranges := storage.NewRangeStore(s3Client, cfg.Namespace, cfg.Job, onS3Op)
		buf := storage.NewWriteBuffer(storage.WriteBufferConfig{MaxBytes: cfg.Output.FlushBytes}, ranges)
		return Sink{RangeWriter: buf, Close: func() error { return nil }}, nil
	case "file":
		f, err := os.OpenFile(cfg.Output.Path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return Sink{}, fmt.Errorf("open output: %w", err)
		}
		if err := f.Truncate(p.TotalLength()); err != nil {
			_ = f.Close()
			return Sink{}, fmt.Errorf("size output: %w", err)
		}
		return Sink{RangeWriter: provider.WriterAtSink{W: f}, Close: f.Close}, nil
	}
	return Sink{}, fmt.Errorf("output mode %q not supported", cfg.Output.Mode)
}

// Flush passes through to buffering sinks so worker tasks end with their
// ranges durable.
func (s Sink) Flush(ctx context.Context) error {
	if f, ok := s.RangeWriter.(worker.Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

// NewAssembler wires an assembler for cfg.
func NewAssembler(cfg config.Config, store metadata.Store, s3Client storage.S3Client, onS3Op func(string, time.Duration, error), logger *slog.Logger, progress func(int64)) *assembler.Assembler {
	var ranges *storage.RangeStore
	if cfg.Output.Mode == "s3" {
		ranges = storage.NewRangeStore(s3Client, cfg.Namespace, cfg.Job, onS3Op)
	}
	return assembler.New(assembler.Config{
		Job:          cfg.Job,
		Namespace:    cfg.Namespace,
		OutputName:   cfg.Output.Name,
		PollInterval: time.Duration(cfg.Assembler.PollIntervalSeconds) * time.Second,
		Timeout:      time.Duration(cfg.Assembler.TimeoutSeconds) * time.Second,
		Logger:       logger,
		OnProgress:   progress,
	}, store, s3Client, ranges)
}

// Finalize turns a fully written job into its deliverable and returns its
// location: the published object key in s3 mode, the local path in file
// mode. In s3 mode a configured output.path receives a local copy as well.
func Finalize(ctx context.Context, cfg config.Config, a *assembler.Assembler, p *product.Product, logger *slog.Logger) (string, error) {
	if cfg.Output.Mode == "file" {
		if cfg.Output.RowIndex {
			if err := assembler.WriteIndexFile(p, cfg.Output.Path); err != nil {
				return "", fmt.Errorf("write row index: %w", err)
			}
		}
		if cfg.Assembler.Cleanup {
			if err := a.Cleanup(ctx); err != nil {
				return "", err
			}
		}
		logger.Info("container complete", "path", cfg.Output.Path, "bytes", p.TotalLength())
		return cfg.Output.Path, nil
	}

	if cfg.Output.Path != "" {
		if err := a.ComposeFile(ctx, p, cfg.Output.Path); err != nil {
			return "", err
		}
		logger.Info("container composed", "path", cfg.Output.Path, "bytes", p.TotalLength())
	}
	key, err := a.Publish(ctx, p)
	if err != nil {
		return "", err
	}
	if cfg.Output.RowIndex {
		if err := a.PublishIndex(ctx, p, key); err != nil {
			return "", fmt.Errorf("publish row index: %w", err)
		}
	}
	if cfg.Assembler.Cleanup {
		if err := a.Cleanup(ctx); err != nil {
			return "", err
		}
	}
	return key, nil
}
