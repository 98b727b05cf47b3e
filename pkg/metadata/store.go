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
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Store persists assembly jobs: the product manifest every producer rebuilds
// its layout from, and the row ranges producers report as written.
type Store interface {
	// PutManifest stores the manifest of job if none exists. Storing identical
	// bytes again is a no-op; different bytes return ErrJobExists.
	PutManifest(ctx context.Context, job string, manifest []byte) error
	// Manifest returns the stored manifest or ErrUnknownJob.
	Manifest(ctx context.Context, job string) ([]byte, error)
	// MarkWritten records that a producer finished a row range.
	MarkWritten(ctx context.Context, job string, rec RangeRecord) error
	// WrittenRanges lists the recorded ranges ordered by image and first row.
	WrittenRanges(ctx context.Context, job string) ([]RangeRecord, error)
	// DeleteJob removes the manifest and every range record of job.
	DeleteJob(ctx context.Context, job string) error
	// Watch signals on the returned channel whenever a range of job is
	// recorded. The channel closes when ctx is done.
	Watch(ctx context.Context, job string) <-chan struct{}
}

var (
	// ErrUnknownJob indicates no manifest is stored for the job.
	ErrUnknownJob = errors.New("unknown job")
	// ErrJobExists indicates a different manifest is already stored for the job.
	ErrJobExists = errors.New("job already exists")
	// ErrInvalidRange indicates a malformed range record.
	ErrInvalidRange = errors.New("invalid range record")
)

// RangeRecord reports rows [FirstRow, EndRow) of one image as written.
type RangeRecord struct {
	Image     int32
	FirstRow  int64
	EndRow    int64
	Producer  string
	WrittenAt time.Time
}

func (r RangeRecord) validate() error {
	if r.Image < 0 || r.FirstRow < 0 || r.EndRow <= r.FirstRow {
		return ErrInvalidRange
	}
	return nil
}

func sortRecords(recs []RangeRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Image != recs[j].Image {
			return recs[i].Image < recs[j].Image
		}
		if recs[i].FirstRow != recs[j].FirstRow {
			return recs[i].FirstRow < recs[j].FirstRow
		}
		return recs[i].EndRow < recs[j].EndRow
	})
}

type memoryJob struct {
	manifest []byte
	ranges   map[[2]int64]RangeRecord
}

// InMemoryStore is a Store backed by in-process state. Useful for single
// process runs and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*memoryJob
	watchers map[string][]chan struct{}
}

// NewInMemoryStore builds an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs:     make(map[string]*memoryJob),
		watchers: make(map[string][]chan struct{}),
	}
}

// PutManifest implements Store.
func (s *InMemoryStore) PutManifest(ctx context.Context, job string, manifest []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job]; ok {
		if bytes.Equal(existing.manifest, manifest) {
			return nil
		}
		return ErrJobExists
	}
	s.jobs[job] = &memoryJob{
		manifest: append([]byte(nil), manifest...),
		ranges:   make(map[[2]int64]RangeRecord),
	}
	return nil
}

// Manifest implements Store.
func (s *InMemoryStore) Manifest(ctx context.Context, job string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[job]
	if !ok {
		return nil, ErrUnknownJob
	}
	return append([]byte(nil), j.manifest...), nil
}

// MarkWritten implements Store. Re-recording a range replaces the record.
func (s *InMemoryStore) MarkWritten(ctx context.Context, job string, rec RangeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	j, ok := s.jobs[job]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownJob
	}
	j.ranges[[2]int64{int64(rec.Image), rec.FirstRow}] = rec
	watchers := append([]chan struct{}(nil), s.watchers[job]...)
	s.mu.Unlock()
	for _, ch := range watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// WrittenRanges implements Store.
func (s *InMemoryStore) WrittenRanges(ctx context.Context, job string) ([]RangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[job]
	if !ok {
		return nil, ErrUnknownJob
	}
	out := make([]RangeRecord, 0, len(j.ranges))
	for _, rec := range j.ranges {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

// DeleteJob implements Store.
func (s *InMemoryStore) DeleteJob(ctx context.Context, job string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job]; !ok {
		return ErrUnknownJob
	}
	delete(s.jobs, job)
	return nil
}

// Watch implements Store.
func (s *InMemoryStore) Watch(ctx context.Context, job string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers[job] = append(s.watchers[job], ch)
	s.mu.Unlock()
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[job]
		for i, w := range list {
			if w == ch {
				s.watchers[job] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.watchers[job]) == 0 {
			delete(s.watchers, job)
		}
		close(ch)
	}()
	return ch
}
