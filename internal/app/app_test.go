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
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/novatechflow/nitfscale/internal/config"
	"github.com/novatechflow/nitfscale/pkg/metadata"
	"github.com/novatechflow/nitfscale/pkg/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMetricsMuxReadiness(t *testing.T) {
	ready := true
	mux := MetricsMux(func() (bool, string) {
		if ready {
			return true, "healthy"
		}
		return false, "unavailable"
	}, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "ready state=healthy") {
		t.Fatalf("unexpected ready response %d %q", rec.Code, rec.Body.String())
	}

	ready = false
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != 503 || !strings.Contains(rec.Body.String(), "not ready") {
		t.Fatalf("unexpected not-ready response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "state=unavailable") {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "nitfscale_") {
		t.Fatalf("expected nitfscale metrics, got %d", rec.Code)
	}
}

func TestMetricsMuxStatus(t *testing.T) {
	fail := false
	mux := MetricsMux(func() (bool, string) { return true, "healthy" }, func(ctx context.Context) (any, error) {
		if fail {
			return nil, errors.New("etcd down")
		}
		return []metadata.RowGap{{Image: 1, FirstRow: 4, EndRow: 9}}, nil
	})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != 200 || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected status response %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `[{"image":1,"first_row":4,"end_row":9}]` {
		t.Fatalf("unexpected body %s", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/status", nil))
	if rec.Code != 405 {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	fail = true
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != 500 || !strings.Contains(rec.Body.String(), "etcd down") {
		t.Fatalf("unexpected error response %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	MetricsMux(func() (bool, string) { return true, "healthy" }, nil).ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != 404 {
		t.Fatalf("status is only served when configured, got %d", rec.Code)
	}
}

func TestMonitorReadiness(t *testing.T) {
	m := storage.NewHealthMonitor(storage.HealthConfig{})
	ready := MonitorReadiness(m)
	if ok, state := ready(); !ok || state != "healthy" {
		t.Fatalf("expected healthy, got %v %s", ok, state)
	}
	for i := 0; i < 5; i++ {
		m.Observe("upload_range", time.Millisecond, errors.New("boom"))
	}
	if ok, state := ready(); ok || state != "unavailable" {
		t.Fatalf("expected unavailable, got %v %s", ok, state)
	}
}

func TestChainS3Ops(t *testing.T) {
	var calls []string
	hook := ChainS3Ops(
		func(op string, _ time.Duration, _ error) { calls = append(calls, "a:"+op) },
		nil,
		func(op string, _ time.Duration, _ error) { calls = append(calls, "b:"+op) },
	)
	hook("list_ranges", time.Millisecond, nil)
	if len(calls) != 2 || calls[0] != "a:list_ranges" || calls[1] != "b:list_ranges" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestBuildMemoryBackends(t *testing.T) {
	ctx := context.Background()
	s3, err := BuildS3Client(ctx, config.S3Config{Memory: true}, discardLogger())
	if err != nil {
		t.Fatalf("BuildS3Client: %v", err)
	}
	if _, ok := s3.(*storage.MemoryS3Client); !ok {
		t.Fatalf("expected memory client, got %T", s3)
	}
	store, closeStore, err := BuildStore(ctx, config.MetadataConfig{Backend: "memory"}, discardLogger())
	if err != nil {
		t.Fatalf("BuildStore: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*metadata.InMemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	if _, _, err := BuildStore(ctx, config.MetadataConfig{Backend: "consul"}, discardLogger()); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}

func TestServingStatus(t *testing.T) {
	if ServingStatus(storage.StateDegraded) != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("degraded stores still serve")
	}
	if ServingStatus(storage.StateUnavailable) != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unavailable stores do not serve")
	}
}

func TestHealthServerFollowsMonitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := storage.NewHealthMonitor(storage.HealthConfig{})
	addr, err := StartHealthServer(ctx, "127.0.0.1:0", m, 10*time.Millisecond, discardLogger())
	if err != nil {
		t.Fatalf("StartHealthServer: %v", err)
	}
	conn, err := grpc.NewClient(addr.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
		defer callCancel()
		resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: HealthService})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}
	for i := 0; i < 5; i++ {
		m.Observe("download_range", time.Millisecond, errors.New("boom"))
	}
	deadline := time.Now().Add(2 * time.Second)
	for check() != healthpb.HealthCheckResponse_NOT_SERVING {
		if time.Now().After(deadline) {
			t.Fatalf("health status did not follow monitor")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
