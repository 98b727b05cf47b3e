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

package provider

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/novatechflow/nitfscale/pkg/block"
	"github.com/novatechflow/nitfscale/pkg/layout"
	"github.com/novatechflow/nitfscale/pkg/segment"
)

type memFile struct {
	mu     sync.Mutex
	buf    []byte
	writes []int
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := int(off) + len(p)
	if end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
		m.writes = append(m.writes, make([]int, end-len(m.writes))...)
	}
	copy(m.buf[off:], p)
	for i := int(off); i < end; i++ {
		m.writes[i]++
	}
	return len(p), nil
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i%251)
	}
	return out
}

func pixelByte(row, col, b int64) byte {
	return byte(row*31 + col*7 + b)
}

func makeStrip(desc segment.ImageDescriptor, r0, r1 int64) Strip {
	data := make([]byte, 0, (r1-r0)*desc.BytesPerRow())
	for row := r0; row < r1; row++ {
		for col := int64(0); col < desc.NumCols; col++ {
			for b := int64(0); b < desc.BytesPerPixel; b++ {
				data = append(data, pixelByte(row, col, b))
			}
		}
	}
	return Strip{FirstRow: r0, NumCols: desc.NumCols, BytesPerPixel: desc.BytesPerPixel, Data: data}
}

type fixture struct {
	layout   *layout.Layout
	provider *Provider
	blobs    Blobs
}

func newFixture(t *testing.T, plans []*segment.Plan, grids [][]block.Grid, des []DESBlob, index []byte) fixture {
	t.Helper()
	blobs := Blobs{FileHeader: pattern(37, 1), DES: des, IndexTables: index}
	sizes := layout.Sizes{FileHeader: int64(len(blobs.FileHeader)), IndexTables: int64(len(index))}
	for i, plan := range plans {
		img := layout.ImageSizes{Plan: plan}
		var subs [][]byte
		for j := range plan.Segments {
			sub := pattern(11+j, byte(40+i))
			subs = append(subs, sub)
			img.Subheaders = append(img.Subheaders, int64(len(sub)))
		}
		if grids != nil {
			img.Grids = grids[i]
		}
		blobs.ImageSubheaders = append(blobs.ImageSubheaders, subs)
		sizes.Images = append(sizes.Images, img)
	}
	for _, d := range des {
		sizes.DES = append(sizes.DES, layout.DESSizes{Subheader: int64(len(d.Subheader)), Data: int64(len(d.Data))})
	}
	l, err := layout.Build(sizes)
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	p, err := New(l, blobs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fixture{layout: l, provider: p, blobs: blobs}
}

func mustPlan(t *testing.T, desc segment.ImageDescriptor) *segment.Plan {
	t.Helper()
	plan, err := segment.PlanImage(desc)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return plan
}

func TestRangesForSingleSegmentFullRange(t *testing.T) {
	plan := mustPlan(t, segment.ImageDescriptor{NumRows: 100, NumCols: 10, BytesPerPixel: 4})
	f := newFixture(t, []*segment.Plan{plan}, nil, nil, nil)
	ranges, err := RangesFor(f.layout, 0, 0, 100)
	if err != nil {
		t.Fatalf("RangesFor: %v", err)
	}
	off, _ := f.layout.PixelDataOffset(0, 0)
	if len(ranges) != 1 || ranges[0].Offset != off || ranges[0].Length != 100*10*4 {
		t.Fatalf("unexpected ranges %+v", ranges)
	}
	if ranges[0].Source.Kind != SourcePixels || ranges[0].Source.FirstRow != 0 || ranges[0].Source.EndRow != 100 {
		t.Fatalf("unexpected source %+v", ranges[0].Source)
	}
}

func TestRangesForLargeMultiSegmentImage(t *testing.T) {
	plan := mustPlan(t, segment.ImageDescriptor{NumRows: 11790, NumCols: 6163, BytesPerPixel: 8, MaxProductSize: 7902 * 6163 * 8})
	l, err := layout.Build(layout.Sizes{
		FileHeader: 404,
		Images:     []layout.ImageSizes{{Plan: plan, Subheaders: []int64{512, 512}}},
	})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	ranges, err := RangesFor(l, 0, 0, 7902)
	if err != nil {
		t.Fatalf("RangesFor: %v", err)
	}
	off, _ := l.PixelDataOffset(0, 0)
	if len(ranges) != 1 || ranges[0].Offset != off || ranges[0].Length != 7902*6163*8 {
		t.Fatalf("unexpected ranges %+v", ranges)
	}

	ranges, err = RangesFor(l, 0, 7902, 7910)
	if err != nil {
		t.Fatalf("RangesFor second segment: %v", err)
	}
	off1, _ := l.PixelDataOffset(0, 1)
	if ranges[0].Offset != off1 {
		t.Fatalf("second segment starts at %d, expected %d", ranges[0].Offset, off1)
	}

	_, err = RangesFor(l, 0, 7000, 8000)
	if !errors.Is(err, ErrCrossSegmentRequest) {
		t.Fatalf("expected ErrCrossSegmentRequest, got %v", err)
	}
	var cross *CrossSegmentError
	if !errors.As(err, &cross) || cross.Boundary != 7902 || cross.Segment != 0 {
		t.Fatalf("unexpected cross segment error %#v", err)
	}
}

func TestRangesForOutOfBounds(t *testing.T) {
	plan := mustPlan(t, segment.ImageDescriptor{NumRows: 10, NumCols: 2, BytesPerPixel: 1})
	f := newFixture(t, []*segment.Plan{plan}, nil, nil, nil)
	cases := []struct {
		image  int
		r0, r1 int64
	}{
		{0, 5, 5},
		{0, 6, 5},
		{0, -1, 2},
		{0, 0, 11},
		{1, 0, 1},
		{-1, 0, 1},
	}
	for _, tc := range cases {
		if _, err := f.provider.RangesFor(tc.image, tc.r0, tc.r1); !errors.Is(err, ErrOutOfBounds) {
			t.Fatalf("image %d rows [%d,%d): expected ErrOutOfBounds, got %v", tc.image, tc.r0, tc.r1, err)
		}
	}
}

func TestRangesForIdempotent(t *testing.T) {
	plan := mustPlan(t, segment.ImageDescriptor{NumRows: 40, NumCols: 5, BytesPerPixel: 2, MaxProductSize: 100})
	f := newFixture(t, []*segment.Plan{plan}, nil, nil, nil)
	a, err := f.provider.RangesFor(0, 12, 19)
	if err != nil {
		t.Fatalf("RangesFor: %v", err)
	}
	b, err := f.provider.RangesFor(0, 12, 19)
	if err != nil {
		t.Fatalf("RangesFor: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("ranges differ between calls: %+v vs %+v", a, b)
	}
}

func TestHeaderAndSegmentRangesReconstructFile(t *testing.T) {
	a := mustPlan(t, segment.ImageDescriptor{NumRows: 23, NumCols: 3, BytesPerPixel: 2, MaxProductSize: 60})
	b := mustPlan(t, segment.ImageDescriptor{NumRows: 4, NumCols: 3, BytesPerPixel: 1})
	des := []DESBlob{{Subheader: pattern(9, 90), Data: pattern(30, 100)}, {Subheader: pattern(5, 120), Data: nil}}
	f := newFixture(t, []*segment.Plan{a, b}, nil, des, pattern(16, 200))

	ranges := f.provider.MetadataRanges()
	for i, plan := range []*segment.Plan{a, b} {
		for _, seg := range plan.Segments {
			rs, err := f.provider.RangesFor(i, seg.FirstRow, seg.EndRow())
			if err != nil {
				t.Fatalf("RangesFor image %d segment %d: %v", i, seg.Index, err)
			}
			ranges = append(ranges, rs...)
		}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Offset < ranges[j].Offset })
	var cursor int64
	for _, r := range ranges {
		if r.Offset != cursor {
			t.Fatalf("gap or overlap at %d (cursor %d)", r.Offset, cursor)
		}
		cursor = r.End()
	}
	if cursor != f.layout.TotalLength {
		t.Fatalf("ranges cover %d bytes, total %d", cursor, f.layout.TotalLength)
	}
}

func TestContributionsAssembleFile(t *testing.T) {
	desc := segment.ImageDescriptor{NumRows: 23, NumCols: 3, BytesPerPixel: 2, MaxProductSize: 60}
	plan := mustPlan(t, desc)
	des := []DESBlob{{Subheader: pattern(9, 90), Data: pattern(30, 100)}}
	f := newFixture(t, []*segment.Plan{plan}, nil, des, pattern(16, 200))

	out := &memFile{}
	sink := WriterAtSink{W: out}
	ctx := context.Background()
	for _, seg := range plan.Segments {
		mid := seg.FirstRow + seg.NumRows/2
		for _, rows := range [][2]int64{{seg.FirstRow, mid}, {mid, seg.EndRow()}} {
			if rows[0] == rows[1] {
				continue
			}
			ranges, err := f.provider.ContributionRanges(0, rows[0], rows[1])
			if err != nil {
				t.Fatalf("ContributionRanges %v: %v", rows, err)
			}
			for i := 1; i < len(ranges); i++ {
				if ranges[i].Offset < ranges[i-1].Offset {
					t.Fatalf("contribution not ascending: %+v", ranges)
				}
			}
			if err := WriteRanges(ctx, sink, ranges, makeStrip(plan.Descriptor, rows[0], rows[1])); err != nil {
				t.Fatalf("WriteRanges: %v", err)
			}
		}
	}

	var want bytes.Buffer
	want.Write(f.blobs.FileHeader)
	for j, seg := range plan.Segments {
		want.Write(f.blobs.ImageSubheaders[0][j])
		want.Write(makeStrip(plan.Descriptor, seg.FirstRow, seg.EndRow()).Data)
	}
	want.Write(des[0].Subheader)
	want.Write(des[0].Data)
	want.Write(f.blobs.IndexTables)

	if int64(len(out.buf)) != f.layout.TotalLength {
		t.Fatalf("assembled %d bytes, total %d", len(out.buf), f.layout.TotalLength)
	}
	for i, n := range out.writes {
		if n != 1 {
			t.Fatalf("byte %d written %d times", i, n)
		}
	}
	if !bytes.Equal(out.buf, want.Bytes()) {
		t.Fatalf("assembled file differs from sequential serialization")
	}
}

func TestBlockedContributionsPlacePixels(t *testing.T) {
	desc := segment.ImageDescriptor{NumRows: 10, NumCols: 10, BytesPerPixel: 1}
	plan := mustPlan(t, desc)
	grid, err := block.Blockify(plan.Segments[0], desc.NumCols, desc.BytesPerPixel, block.Spec{RowsPerBlock: 4, ColsPerBlock: 4})
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}
	f := newFixture(t, []*segment.Plan{plan}, [][]block.Grid{{grid}}, nil, nil)

	out := &memFile{}
	for _, rows := range [][2]int64{{0, 3}, {3, 7}, {7, 10}} {
		ranges, err := f.provider.ContributionRanges(0, rows[0], rows[1])
		if err != nil {
			t.Fatalf("ContributionRanges %v: %v", rows, err)
		}
		if err := WriteRanges(context.Background(), WriterAtSink{W: out}, ranges, makeStrip(desc, rows[0], rows[1])); err != nil {
			t.Fatalf("WriteRanges: %v", err)
		}
	}
	if int64(len(out.buf)) != f.layout.TotalLength {
		t.Fatalf("assembled %d bytes, total %d", len(out.buf), f.layout.TotalLength)
	}
	for i, n := range out.writes {
		if n != 1 {
			t.Fatalf("byte %d written %d times", i, n)
		}
	}
	base, _ := f.layout.PixelDataOffset(0, 0)
	for row := int64(0); row < 10; row++ {
		for col := int64(0); col < 10; col++ {
			off, err := grid.PixelOffset(row, col)
			if err != nil {
				t.Fatalf("PixelOffset: %v", err)
			}
			if got := out.buf[base+off]; got != pixelByte(row, col, 0) {
				t.Fatalf("pixel (%d,%d) = %d, expected %d", row, col, got, pixelByte(row, col, 0))
			}
		}
	}
	// bottom-right block: rows 8-9 valid, rows 10-11 pad
	lastBlock := base + 8*grid.BlockBytes()
	for i := int64(2 * 4); i < grid.BlockBytes(); i++ {
		if out.buf[lastBlock+i] != 0 {
			t.Fatalf("pad byte %d of last block is %d", i, out.buf[lastBlock+i])
		}
	}
}

func TestNewRejectsMismatchedBlobs(t *testing.T) {
	plan := mustPlan(t, segment.ImageDescriptor{NumRows: 10, NumCols: 2, BytesPerPixel: 1})
	l, err := layout.Build(layout.Sizes{FileHeader: 5, Images: []layout.ImageSizes{{Plan: plan, Subheaders: []int64{3}}}})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	cases := []Blobs{
		{FileHeader: make([]byte, 4), ImageSubheaders: [][][]byte{{make([]byte, 3)}}},
		{FileHeader: make([]byte, 5), ImageSubheaders: [][][]byte{{make([]byte, 2)}}},
		{FileHeader: make([]byte, 5)},
		{FileHeader: make([]byte, 5), ImageSubheaders: [][][]byte{{make([]byte, 3)}}, DES: []DESBlob{{}}},
		{FileHeader: make([]byte, 5), ImageSubheaders: [][][]byte{{make([]byte, 3)}}, IndexTables: []byte{1}},
	}
	for i, blobs := range cases {
		if _, err := New(l, blobs); !errors.Is(err, ErrBlobMismatch) {
			t.Fatalf("case %d: expected ErrBlobMismatch, got %v", i, err)
		}
	}
}

func TestBytesRejectsShortStrip(t *testing.T) {
	desc := segment.ImageDescriptor{NumRows: 10, NumCols: 2, BytesPerPixel: 1}
	plan := mustPlan(t, desc)
	f := newFixture(t, []*segment.Plan{plan}, nil, nil, nil)
	ranges, err := f.provider.RangesFor(0, 2, 6)
	if err != nil {
		t.Fatalf("RangesFor: %v", err)
	}
	if _, err := ranges[0].Bytes(makeStrip(desc, 2, 5)); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds for short strip, got %v", err)
	}
	data, err := ranges[0].Bytes(makeStrip(desc, 0, 10))
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.Equal(data, makeStrip(desc, 2, 6).Data) {
		t.Fatalf("unexpected bytes %v", data)
	}
}
