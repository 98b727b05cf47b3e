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
	"sync"
	"time"
)

// WriteBufferConfig controls flush thresholds.
type WriteBufferConfig struct {
	MaxBytes      int
	MaxRanges     int
	FlushInterval time.Duration
}

// RangeSink receives coalesced ranges.
type RangeSink interface {
	WriteRange(ctx context.Context, offset int64, data []byte) error
}

// WriteBuffer coalesces adjacent ranges before they reach the sink, so a
// blocked segment written in many small spans becomes a few large parts.
type WriteBuffer struct {
	cfg       WriteBufferConfig
	sink      RangeSink
	mu        sync.Mutex
	offset    int64
	data      []byte
	ranges    int
	lastFlush time.Time
}

// NewWriteBuffer creates an empty buffer in front of sink.
func NewWriteBuffer(cfg WriteBufferConfig, sink RangeSink) *WriteBuffer {
	return &WriteBuffer{
		cfg:       cfg,
		sink:      sink,
		lastFlush: time.Now(),
	}
}

// WriteRange appends data. A range that does not continue the buffered run
// flushes the run first.
func (b *WriteBuffer) WriteRange(ctx context.Context, offset int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) > 0 && b.offset+int64(len(b.data)) != offset {
		if err := b.flushLocked(ctx); err != nil {
			return err
		}
	}
	if len(b.data) == 0 {
		b.offset = offset
	}
	b.data = append(b.data, data...)
	b.ranges++
	if b.shouldFlushLocked(time.Now()) {
		return b.flushLocked(ctx)
	}
	return nil
}

// ShouldFlush checks if size thresholds or time elapsed require a flush.
func (b *WriteBuffer) ShouldFlush(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shouldFlushLocked(now)
}

func (b *WriteBuffer) shouldFlushLocked(now time.Time) bool {
	if len(b.data) == 0 {
		return false
	}
	if b.cfg.MaxBytes > 0 && len(b.data) >= b.cfg.MaxBytes {
		return true
	}
	if b.cfg.MaxRanges > 0 && b.ranges >= b.cfg.MaxRanges {
		return true
	}
	if b.cfg.FlushInterval > 0 && now.Sub(b.lastFlush) >= b.cfg.FlushInterval {
		return true
	}
	return false
}

// Flush hands the buffered run to the sink.
func (b *WriteBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

func (b *WriteBuffer) flushLocked(ctx context.Context) error {
	if len(b.data) == 0 {
		return nil
	}
	if err := b.sink.WriteRange(ctx, b.offset, b.data); err != nil {
		return err
	}
	b.data = nil
	b.ranges = 0
	b.lastFlush = time.Now()
	return nil
}

// Size returns the buffered byte count (for tests/metrics).
func (b *WriteBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
