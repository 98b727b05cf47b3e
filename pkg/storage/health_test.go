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

package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHealthStateTransitions(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{
		Window:      time.Second,
		LatencyWarn: time.Millisecond,
		LatencyCrit: time.Hour,
		ErrorWarn:   0.5,
		ErrorCrit:   0.8,
		MaxSamples:  64,
	})

	if got := monitor.State(); got != StateHealthy {
		t.Fatalf("expected initial state healthy got %s", got)
	}

	monitor.Observe("upload_range", 2*time.Millisecond, nil)
	if got := monitor.State(); got != StateDegraded {
		t.Fatalf("expected degraded after high latency got %s", got)
	}

	for i := 0; i < 10; i++ {
		monitor.Observe("upload_range", 100*time.Microsecond, errors.New("boom"))
	}
	if got := monitor.State(); got != StateUnavailable || monitor.Ready() {
		t.Fatalf("expected unavailable after repeated errors got %s", got)
	}

	for i := 0; i < 20; i++ {
		monitor.Observe("upload_range", 100*time.Microsecond, nil)
	}
	monitor.Observe("download_range", 100*time.Microsecond, nil)
	if got := monitor.State(); got != StateHealthy {
		t.Fatalf("expected healthy after recovery got %s", got)
	}
	snap := monitor.Snapshot()
	if snap.Ops["upload_range"] != 31 || snap.Ops["download_range"] != 1 {
		t.Fatalf("unexpected op counts %v", snap.Ops)
	}
}

func TestHealthMonitorObservesRangeStore(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{})
	store := NewRangeStore(NewMemoryS3Client(), "ns", "job", monitor.Observe)
	if err := store.WriteRange(context.Background(), 0, []byte("abc")); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}
	if _, err := store.Parts(context.Background()); err != nil {
		t.Fatalf("Parts: %v", err)
	}
	snap := monitor.Snapshot()
	if snap.Ops["upload_range"] != 1 || snap.Ops["list_ranges"] != 1 || snap.State != StateHealthy {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
