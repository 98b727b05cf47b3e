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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/novatechflow/nitfscale/internal/config"
	"github.com/novatechflow/nitfscale/internal/metrics"
	"github.com/novatechflow/nitfscale/pkg/metadata"
	"github.com/novatechflow/nitfscale/pkg/storage"
)

// NewLogger returns the JSON process logger tagged with component.
func NewLogger(component string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("NITFSCALE_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler).With("component", component)
}

// BuildS3Client connects to the configured bucket and makes sure it exists.
func BuildS3Client(ctx context.Context, cfg config.S3Config, logger *slog.Logger) (storage.S3Client, error) {
	if cfg.Memory {
		logger.Info("using in-memory S3 client", "env", "NITFSCALE_S3_MEMORY=1")
		return storage.NewMemoryS3Client(), nil
	}
	client, err := storage.NewS3Client(ctx, storage.S3Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		ForcePathStyle:  cfg.PathStyle,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
		KMSKeyARN:       cfg.KMSKeyARN,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	logger.Info("using AWS-compatible S3 client", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint,
		"force_path_style", cfg.PathStyle, "kms_configured", cfg.KMSKeyARN != "", "credentials_provided", cfg.AccessKeyID != "")
	return client, nil
}

// BuildStore opens the configured job metadata store. The returned close
// function releases it.
func BuildStore(ctx context.Context, cfg config.MetadataConfig, logger *slog.Logger) (metadata.Store, func() error, error) {
	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory metadata store")
		return metadata.NewInMemoryStore(), func() error { return nil }, nil
	case "etcd":
		store, err := metadata.NewEtcdStore(ctx, metadata.EtcdStoreConfig{
			Endpoints: cfg.Etcd.Endpoints,
			Username:  cfg.Etcd.Username,
			Password:  cfg.Etcd.Password,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using etcd metadata store", "endpoints", strings.Join(cfg.Etcd.Endpoints, ","))
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("metadata backend %q not supported", cfg.Backend)
}

// ChainS3Ops fans one object store observation out to every hook.
func ChainS3Ops(hooks ...func(string, time.Duration, error)) func(string, time.Duration, error) {
	return func(op string, latency time.Duration, err error) {
		for _, hook := range hooks {
			if hook != nil {
				hook(op, latency, err)
			}
		}
	}
}

// Readiness reports whether the process should receive work and a short state label.
type Readiness func() (bool, string)

// MonitorReadiness turns a health monitor into a Readiness, updating the
// health gauge on every probe.
func MonitorReadiness(m *storage.HealthMonitor) Readiness {
	return func() (bool, string) {
		state := m.State()
		metrics.SetHealth(state)
		return state != storage.StateUnavailable, string(state)
	}
}

// StatusFunc reports the JSON body of /status.
type StatusFunc func(ctx context.Context) (any, error)

// MetricsMux serves /metrics, /healthz, /readyz and, when status is set, /status.
func MetricsMux(ready Readiness, status StatusFunc) *http.ServeMux {
	mux := http.NewServeMux()
	if status != nil {
		mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			body, err := status(r.Context())
			if err != nil {
				http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, body)
		})
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, state := ready()
		fmt.Fprintf(w, "ok state=%s\n", state)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if ok, state := ready(); !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "not ready state=%s\n", state)
		} else {
			fmt.Fprintf(w, "ready state=%s\n", state)
		}
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

// StartMetricsServer serves MetricsMux on addr until ctx is done.
func StartMetricsServer(ctx context.Context, addr string, ready Readiness, status StatusFunc, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           MetricsMux(ready, status),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

// ServingStatus maps an object store state to a gRPC health status.
func ServingStatus(state storage.HealthState) healthpb.HealthCheckResponse_ServingStatus {
	if state == storage.StateUnavailable {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// HealthService is the gRPC health service name reported by producers.
const HealthService = "nitfscale.Producer"

// StartHealthServer serves the standard gRPC health service on addr and
// follows the monitor state every interval until ctx is done. It returns
// the bound address.
func StartHealthServer(ctx context.Context, addr string, m *storage.HealthMonitor, interval time.Duration, logger *slog.Logger) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("health server listen: %w", err)
	}
	server := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	update := func() {
		status := ServingStatus(m.State())
		hs.SetServingStatus("", status)
		hs.SetServingStatus(HealthService, status)
	}
	update()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				done := make(chan struct{})
				go func() {
					server.GracefulStop()
					close(done)
				}()
				select {
				case <-done:
				case <-time.After(2 * time.Second):
					server.Stop()
				}
				return
			case <-ticker.C:
				update()
			}
		}
	}()
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("health server error", "error", err)
		}
	}()
	return lis.Addr(), nil
}
