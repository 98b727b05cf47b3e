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
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/novatechflow/nitfscale/pkg/provider"
	"github.com/novatechflow/nitfscale/pkg/segment"
)

type memWriterAt struct {
	mu  sync.Mutex
	buf []byte
}

func (m *memWriterAt) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if end := int(off) + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[off:], p)
	return len(p), nil
}

func filled(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func stagingProvider(t *testing.T) (*provider.Provider, *segment.Plan) {
	t.Helper()
	l := testLayout(t)
	blobs := provider.Blobs{
		FileHeader:      filled(100, 1),
		ImageSubheaders: [][][]byte{{filled(10, 2), filled(10, 3), filled(10, 4)}, {filled(10, 5)}},
	}
	p, err := provider.New(l, blobs)
	if err != nil {
		t.Fatalf("provider.New: %v", err)
	}
	return p, l.Images[0].Plan
}

func rowStrip(plan *segment.Plan, r0, r1 int64) provider.Strip {
	desc := plan.Descriptor
	return provider.Strip{
		FirstRow:      r0,
		NumCols:       desc.NumCols,
		BytesPerPixel: desc.BytesPerPixel,
		Data:          filled(int((r1-r0)*desc.BytesPerRow()), byte(r0)),
	}
}

func writeContributions(t *testing.T, p *provider.Provider, w provider.RangeWriter) {
	t.Helper()
	ctx := context.Background()
	for image, img := range p.Layout().Images {
		for _, seg := range img.Segments {
			ranges, err := p.ContributionRanges(image, seg.Info.FirstRow, seg.Info.EndRow())
			if err != nil {
				t.Fatalf("ContributionRanges: %v", err)
			}
			if err := provider.WriteRanges(ctx, w, ranges, rowStrip(img.Plan, seg.Info.FirstRow, seg.Info.EndRow())); err != nil {
				t.Fatalf("WriteRanges: %v", err)
			}
		}
	}
}

func TestComposeMatchesDirectAssembly(t *testing.T) {
	p, _ := stagingProvider(t)
	direct := &memWriterAt{}
	writeContributions(t, p, provider.WriterAtSink{W: direct})

	var ops []string
	s3 := NewMemoryS3Client()
	store := NewRangeStore(s3, "", "job-1", func(op string, d time.Duration, err error) {
		ops = append(ops, op)
	})
	writeContributions(t, p, store)

	composed := &memWriterAt{}
	if err := store.Compose(context.Background(), composed, p.TotalLength()); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !bytes.Equal(direct.buf, composed.buf) {
		t.Fatalf("composed file differs from direct assembly")
	}
	var streamed bytes.Buffer
	if err := store.ComposeTo(context.Background(), &streamed, p.TotalLength()); err != nil {
		t.Fatalf("ComposeTo: %v", err)
	}
	if !bytes.Equal(direct.buf, streamed.Bytes()) {
		t.Fatalf("streamed file differs from direct assembly")
	}
	if len(ops) == 0 || ops[0] != "upload_range" {
		t.Fatalf("expected s3 op hooks, got %v", ops)
	}
	if store.Prefix() != "default/job-1/ranges/" {
		t.Fatalf("unexpected prefix %q", store.Prefix())
	}
}

func TestComposeThroughWriteBuffer(t *testing.T) {
	p, _ := stagingProvider(t)
	direct := &memWriterAt{}
	writeContributions(t, p, provider.WriterAtSink{W: direct})

	store := NewRangeStore(NewMemoryS3Client(), "ns", "job-2", nil)
	buf := NewWriteBuffer(WriteBufferConfig{MaxBytes: 1 << 20}, store)
	writeContributions(t, p, buf)
	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	parts, err := store.Parts(context.Background())
	if err != nil {
		t.Fatalf("Parts: %v", err)
	}
	if len(parts) != 1 || parts[0].Length != p.TotalLength() {
		t.Fatalf("expected one coalesced part, got %+v", parts)
	}
	composed := &memWriterAt{}
	if err := store.Compose(context.Background(), composed, p.TotalLength()); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !bytes.Equal(direct.buf, composed.buf) {
		t.Fatalf("composed file differs from direct assembly")
	}
}

func TestPlanDetectsGaps(t *testing.T) {
	cases := []struct {
		name   string
		parts  []Part
		want   error
		pieces int
		skips  []int64
	}{
		{name: "tiled", parts: []Part{{Offset: 0, Length: 4}, {Offset: 4, Length: 6}}, pieces: 2, skips: []int64{0, 0}},
		{name: "duplicate", parts: []Part{{Offset: 0, Length: 4}, {Offset: 0, Length: 4}, {Offset: 4, Length: 6}}, pieces: 2, skips: []int64{0, 0}},
		{name: "overlap", parts: []Part{{Offset: 0, Length: 6}, {Offset: 4, Length: 6}}, pieces: 2, skips: []int64{0, 2}},
		{name: "contained", parts: []Part{{Key: "a", Offset: 0, Length: 4}, {Key: "b", Offset: 0, Length: 10}}, pieces: 2, skips: []int64{0, 4}},
		{name: "leading gap", parts: []Part{{Offset: 2, Length: 8}}, want: ErrGap},
		{name: "inner gap", parts: []Part{{Offset: 0, Length: 4}, {Offset: 5, Length: 5}}, want: ErrGap},
		{name: "trailing gap", parts: []Part{{Offset: 0, Length: 9}}, want: ErrGap},
		{name: "past end", parts: []Part{{Offset: 0, Length: 12}}, want: ErrOverlap},
	}
	for _, tc := range cases {
		out, err := Plan(tc.parts, 10)
		if tc.want == nil {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			if len(out) != tc.pieces {
				t.Fatalf("%s: expected %d pieces got %d", tc.name, tc.pieces, len(out))
			}
			for i, skip := range tc.skips {
				if out[i].Skip != skip {
					t.Fatalf("%s: piece %d skip %d, expected %d", tc.name, i, out[i].Skip, skip)
				}
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v got %v", tc.name, tc.want, err)
		}
	}
}

func TestComposeAcceptsRedundantWrites(t *testing.T) {
	p, plan := stagingProvider(t)
	ctx := context.Background()
	direct := &memWriterAt{}
	writeContributions(t, p, provider.WriterAtSink{W: direct})

	store := NewRangeStore(NewMemoryS3Client(), "ns", "job-3", nil)
	whole := NewWriteBuffer(WriteBufferConfig{MaxBytes: 1 << 20}, store)
	writeContributions(t, p, whole)
	if err := whole.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// a second producer stages the header on its own
	header := p.HeaderRange()
	headerBytes, err := header.Bytes(provider.Strip{})
	if err != nil {
		t.Fatalf("header Bytes: %v", err)
	}
	if err := store.WriteRange(ctx, header.Offset, headerBytes); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}

	// the first segment is redelivered to a producer with a small flush size
	small := NewWriteBuffer(WriteBufferConfig{MaxBytes: 16}, store)
	seg := p.Layout().Images[0].Segments[0]
	ranges, err := p.ContributionRanges(0, seg.Info.FirstRow, seg.Info.EndRow())
	if err != nil {
		t.Fatalf("ContributionRanges: %v", err)
	}
	if err := provider.WriteRanges(ctx, small, ranges, rowStrip(plan, seg.Info.FirstRow, seg.Info.EndRow())); err != nil {
		t.Fatalf("WriteRanges: %v", err)
	}
	if err := small.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	parts, err := store.Parts(ctx)
	if err != nil {
		t.Fatalf("Parts: %v", err)
	}
	if len(parts) < 3 {
		t.Fatalf("expected overlapping parts, got %+v", parts)
	}
	composed := &memWriterAt{}
	if err := store.Compose(ctx, composed, p.TotalLength()); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !bytes.Equal(direct.buf, composed.buf) {
		t.Fatalf("composed file differs from direct assembly")
	}
	var streamed bytes.Buffer
	if err := store.ComposeTo(ctx, &streamed, p.TotalLength()); err != nil {
		t.Fatalf("ComposeTo: %v", err)
	}
	if !bytes.Equal(direct.buf, streamed.Bytes()) {
		t.Fatalf("streamed file differs from direct assembly")
	}
}

func TestComposeRejectsConflictingOverlap(t *testing.T) {
	store := NewRangeStore(NewMemoryS3Client(), "ns", "job-4", nil)
	ctx := context.Background()
	if err := store.WriteRange(ctx, 0, []byte("abcdef")); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}
	if err := store.WriteRange(ctx, 4, []byte("xfgh")); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}
	err := store.Compose(ctx, &memWriterAt{}, 8)
	if !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected overlap error, got %v", err)
	}
	var streamed bytes.Buffer
	if err := store.ComposeTo(ctx, &streamed, 8); !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected overlap error from ComposeTo, got %v", err)
	}
}

func TestPartsIgnoresForeignObjects(t *testing.T) {
	s3 := NewMemoryS3Client()
	store := NewRangeStore(s3, "ns", "job", nil)
	ctx := context.Background()
	if err := store.WriteRange(ctx, 8, []byte("abcd")); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}
	if err := store.WriteRange(ctx, 0, nil); err != nil {
		t.Fatalf("empty WriteRange: %v", err)
	}
	_ = s3.UploadObject(ctx, store.Prefix()+"notes.txt", []byte("x"))
	_ = s3.UploadObject(ctx, store.partKey(0, 99), []byte("short"))

	parts, err := store.Parts(ctx)
	if err != nil {
		t.Fatalf("Parts: %v", err)
	}
	if len(parts) != 1 || parts[0].Offset != 8 || parts[0].End() != 12 {
		t.Fatalf("unexpected parts %+v", parts)
	}
}

func TestCleanupRemovesParts(t *testing.T) {
	s3 := NewMemoryS3Client()
	store := NewRangeStore(s3, "ns", "job", nil)
	ctx := context.Background()
	for off := int64(0); off < 12; off += 4 {
		if err := store.WriteRange(ctx, off, []byte("abcd")); err != nil {
			t.Fatalf("WriteRange: %v", err)
		}
	}
	if err := store.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	objects, err := s3.ListObjects(ctx, store.Prefix())
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 0 {
		t.Fatalf("expected no objects after cleanup, got %+v", objects)
	}
}
