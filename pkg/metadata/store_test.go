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

package metadata

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Manifest(ctx, "job-1"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected unknown job, got %v", err)
	}
	if err := store.MarkWritten(ctx, "job-1", RangeRecord{FirstRow: 0, EndRow: 10}); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected unknown job on MarkWritten, got %v", err)
	}
	if err := store.PutManifest(ctx, "job-1", []byte("manifest-v1")); err != nil {
		t.Fatalf("PutManifest: %v", err)
	}
	if err := store.PutManifest(ctx, "job-1", []byte("manifest-v1")); err != nil {
		t.Fatalf("identical PutManifest: %v", err)
	}
	if err := store.PutManifest(ctx, "job-1", []byte("manifest-v2")); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected job exists, got %v", err)
	}
	manifest, err := store.Manifest(ctx, "job-1")
	if err != nil || string(manifest) != "manifest-v1" {
		t.Fatalf("Manifest: %q %v", manifest, err)
	}

	written := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []RangeRecord{
		{Image: 1, FirstRow: 0, EndRow: 5, Producer: "p-2", WrittenAt: written},
		{Image: 0, FirstRow: 10, EndRow: 20, Producer: "p-1", WrittenAt: written},
		{Image: 0, FirstRow: 0, EndRow: 10, Producer: "p-1", WrittenAt: written},
	}
	for _, rec := range recs {
		if err := store.MarkWritten(ctx, "job-1", rec); err != nil {
			t.Fatalf("MarkWritten: %v", err)
		}
	}
	// redelivered task overwrites its own record
	if err := store.MarkWritten(ctx, "job-1", recs[1]); err != nil {
		t.Fatalf("MarkWritten again: %v", err)
	}
	if err := store.MarkWritten(ctx, "job-1", RangeRecord{FirstRow: 5, EndRow: 5}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected invalid range, got %v", err)
	}

	got, err := store.WrittenRanges(ctx, "job-1")
	if err != nil {
		t.Fatalf("WrittenRanges: %v", err)
	}
	want := []RangeRecord{recs[2], recs[1], recs[0]}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected ranges:\n got %+v\nwant %+v", got, want)
	}
	if !Complete(got, []int64{20, 5}) {
		t.Fatalf("expected coverage, missing %+v", MissingRows(got, []int64{20, 5}))
	}

	if err := store.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := store.WrittenRanges(ctx, "job-1"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected unknown job after delete, got %v", err)
	}
	if err := store.DeleteJob(ctx, "job-1"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected unknown job on second delete, got %v", err)
	}
}

func TestInMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewInMemoryStore())
}

func TestInMemoryStoreWatch(t *testing.T) {
	store := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	if err := store.PutManifest(ctx, "job", []byte("m")); err != nil {
		t.Fatalf("PutManifest: %v", err)
	}
	changes := store.Watch(ctx, "job")
	if err := store.MarkWritten(ctx, "job", RangeRecord{FirstRow: 0, EndRow: 1}); err != nil {
		t.Fatalf("MarkWritten: %v", err)
	}
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatalf("expected change notification")
	}
	cancel()
	select {
	case _, ok := <-changes:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("watch channel not closed after cancel")
	}
}

func TestMissingRows(t *testing.T) {
	recs := []RangeRecord{
		{Image: 0, FirstRow: 20, EndRow: 30},
		{Image: 0, FirstRow: 0, EndRow: 10},
		{Image: 0, FirstRow: 5, EndRow: 12},
		{Image: 2, FirstRow: 0, EndRow: 50},
	}
	got := MissingRows(recs, []int64{40, 8, 40})
	want := []RowGap{
		{Image: 0, FirstRow: 12, EndRow: 20},
		{Image: 0, FirstRow: 30, EndRow: 40},
		{Image: 1, FirstRow: 0, EndRow: 8},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected gaps:\n got %+v\nwant %+v", got, want)
	}
	if Complete(recs, []int64{40, 8, 40}) {
		t.Fatalf("expected incomplete coverage")
	}
	if !Complete(nil, nil) {
		t.Fatalf("empty product is complete")
	}
}

func TestRangeRecordCodec(t *testing.T) {
	rec := RangeRecord{
		Image:     3,
		FirstRow:  7902,
		EndRow:    11790,
		Producer:  "producer-7",
		WrittenAt: time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC),
	}
	got, err := DecodeRangeRecord(EncodeRangeRecord(rec))
	if err != nil {
		t.Fatalf("DecodeRangeRecord: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("codec mismatch: %+v vs %+v", got, rec)
	}
	if _, err := DecodeRangeRecord(EncodeRangeRecord(RangeRecord{FirstRow: 4, EndRow: 2})); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected invalid range, got %v", err)
	}
	if _, err := DecodeRangeRecord([]byte{0x08}); err == nil {
		t.Fatalf("expected truncated varint error")
	}
}

func TestRangeKeys(t *testing.T) {
	key := RangeKey("job", 2, 7902)
	if key != "/nitfscale/jobs/job/ranges/0002/00000000000000007902" {
		t.Fatalf("unexpected key %s", key)
	}
	image, row, ok := ParseRangeKey("job", key)
	if !ok || image != 2 || row != 7902 {
		t.Fatalf("ParseRangeKey: %d %d %v", image, row, ok)
	}
	for _, bad := range []string{ManifestKey("job"), RangePrefix("job") + "x/1", RangePrefix("other") + "0000/1"} {
		if _, _, ok := ParseRangeKey("job", bad); ok {
			t.Fatalf("expected %s to be rejected", bad)
		}
	}
}
