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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/novatechflow/nitfscale/internal/config"
	"github.com/novatechflow/nitfscale/pkg/cache"
	"github.com/novatechflow/nitfscale/pkg/dispatch"
	"github.com/novatechflow/nitfscale/pkg/geo"
	"github.com/novatechflow/nitfscale/pkg/metadata"
	"github.com/novatechflow/nitfscale/pkg/nitf"
	"github.com/novatechflow/nitfscale/pkg/pixel"
	"github.com/novatechflow/nitfscale/pkg/product"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSpec() product.Spec {
	when := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	corners := geo.Corners{{Lat: 5, Lon: 5}, {Lat: 5, Lon: 6}, {Lat: 4, Lon: 6}, {Lat: 4, Lon: 5}}
	return product.Spec{
		FileHeader: nitf.FileHeader{DateTime: when},
		Images: []product.ImageSpec{{
			NumRows:   12,
			NumCols:   3,
			PixelType: pixel.AMP8I_PHS8I,
			Corners:   corners,
			Subheader: nitf.ImageSubheader{DateTime: when},
		}},
		DES: []product.DESSpec{{
			XML:  &nitf.XMLDataContent{DateTime: when, Footprint: corners},
			Data: []byte("<SICD/>"),
		}},
	}
}

func TestWaitForProductPollsUntilPlanned(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store := metadata.NewInMemoryStore()
	p, err := product.Build(testSpec())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	encoded, err := p.Manifest("job").Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = store.PutManifest(ctx, "job", encoded)
	}()
	loaded, err := waitForProduct(ctx, store, "job", 10*time.Millisecond, discardLogger())
	if err != nil {
		t.Fatalf("waitForProduct: %v", err)
	}
	if loaded.Fingerprint() != p.Fingerprint() {
		t.Fatalf("rebuilt product differs")
	}

	short, shortCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer shortCancel()
	if _, err := waitForProduct(short, store, "other", 10*time.Millisecond, discardLogger()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestJobFilterSkipsOtherJobs(t *testing.T) {
	var handled []string
	h := jobFilter("mine", func(ctx context.Context, task dispatch.RowTask) error {
		handled = append(handled, task.Job)
		if task.FirstRow == 99 {
			return errors.New("read failed")
		}
		return nil
	}, discardLogger())
	ctx := context.Background()
	if err := h(ctx, dispatch.RowTask{Job: "theirs"}); err != nil {
		t.Fatalf("foreign task: %v", err)
	}
	if err := h(ctx, dispatch.RowTask{Job: "mine", EndRow: 1}); err != nil {
		t.Fatalf("own task: %v", err)
	}
	if err := h(ctx, dispatch.RowTask{Job: "mine", FirstRow: 99, EndRow: 100}); err == nil {
		t.Fatalf("expected handler error")
	}
	if len(handled) != 2 {
		t.Fatalf("expected 2 handled tasks, got %v", handled)
	}
}

func TestNewWorkerWritesFileRanges(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, err := product.Build(testSpec())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	raw := make([]byte, 12*3*2)
	for i := range raw {
		raw[i] = byte(200 - i)
	}
	input := filepath.Join(dir, "raw.bin")
	if err := os.WriteFile(input, raw, 0o644); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	store := metadata.NewInMemoryStore()
	encoded, _ := p.Manifest("job").Encode()
	if err := store.PutManifest(ctx, "job", encoded); err != nil {
		t.Fatalf("PutManifest: %v", err)
	}
	cfg := config.Config{
		Job:    "job",
		Inputs: []config.InputConfig{{Path: input}},
		Output: config.OutputConfig{Mode: "file", Path: filepath.Join(dir, "out.ntf")},
		Server: config.ServerConfig{ProducerID: "producer-3"},
	}
	w, closeWorker, err := newWorker(ctx, cfg, p, store, nil, cache.NewRangeCache(1024), nil, discardLogger())
	if err != nil {
		t.Fatalf("newWorker: %v", err)
	}
	early, err := os.ReadFile(cfg.Output.Path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	des := p.Layout.DES[0]
	if string(early[:9]) != "NITF02.10" || string(early[des.Data.Offset:des.Data.End()]) != string(testSpec().DES[0].Data) {
		t.Fatalf("metadata ranges not written at startup")
	}
	for _, task := range dispatch.PlanTasks("job", p.Layout, 5) {
		if err := w.Handle(ctx, task); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	closeWorker()

	recs, err := store.WrittenRanges(ctx, "job")
	if err != nil {
		t.Fatalf("WrittenRanges: %v", err)
	}
	if !metadata.Complete(recs, []int64{12}) || recs[0].Producer != "producer-3" {
		t.Fatalf("unexpected records %+v", recs)
	}
	data, err := os.ReadFile(cfg.Output.Path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	seg := p.Layout.Images[0].Segments[0]
	if int64(len(data)) != p.TotalLength() || string(data[seg.Data.Offset:seg.Data.End()]) != string(raw) {
		t.Fatalf("output does not carry the raw pixels")
	}
}
