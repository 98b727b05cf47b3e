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

package block

import (
	"errors"
	"sort"
	"testing"

	"github.com/novatechflow/nitfscale/pkg/segment"
)

func seg(rows int64) segment.SegmentInfo {
	return segment.SegmentInfo{NumRows: rows}
}

func TestBlockifyDefaultsToExtent(t *testing.T) {
	g, err := Blockify(seg(10), 6, 2, Spec{})
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}
	if g.Blocked() || g.RowsPerBlock != 10 || g.ColsPerBlock != 6 {
		t.Fatalf("expected unblocked grid, got %+v", g)
	}
	if g != Unblocked(10, 6, 2) {
		t.Fatalf("grid differs from Unblocked: %+v", g)
	}
	spans, err := g.Spans(0, 10)
	if err != nil {
		t.Fatalf("Spans: %v", err)
	}
	if len(spans) != 1 || spans[0].Offset != 0 || spans[0].Length != 120 {
		t.Fatalf("unexpected spans %+v", spans)
	}
}

func TestBlockifyRejectsOversizedBlocks(t *testing.T) {
	if _, err := Blockify(seg(10), 6, 1, Spec{RowsPerBlock: 11}); !errors.Is(err, segment.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	if _, err := Blockify(seg(10), 6, 1, Spec{ColsPerBlock: 7}); !errors.Is(err, segment.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	g, err := Blockify(seg(10), 6, 1, Spec{RowsPerBlock: 11, ColsPerBlock: 7, ClampToExtent: true})
	if err != nil {
		t.Fatalf("clamped Blockify: %v", err)
	}
	if g.RowsPerBlock != 10 || g.ColsPerBlock != 6 {
		t.Fatalf("expected clamp to extent, got %+v", g)
	}
}

func TestGridArithmetic(t *testing.T) {
	g, err := Blockify(seg(10), 10, 1, Spec{RowsPerBlock: 4, ColsPerBlock: 4})
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}
	if g.BlockRows != 3 || g.BlockCols != 3 || g.NumBlocks() != 9 {
		t.Fatalf("unexpected block counts %+v", g)
	}
	if g.PadRows() != 2 || g.PadCols() != 2 {
		t.Fatalf("unexpected padding rows=%d cols=%d", g.PadRows(), g.PadCols())
	}
	if g.DataLength() != 144 {
		t.Fatalf("expected padded length 144 got %d", g.DataLength())
	}
	blk, err := g.BlockIndex(5, 5)
	if err != nil || blk != 4 {
		t.Fatalf("BlockIndex(5,5) = %d, %v", blk, err)
	}
	off, err := g.PixelOffset(5, 5)
	if err != nil || off != 69 {
		t.Fatalf("PixelOffset(5,5) = %d, %v", off, err)
	}
	if _, err := g.PixelOffset(10, 0); err == nil {
		t.Fatalf("expected error outside extent")
	}
}

func TestSpansCoverPaddedData(t *testing.T) {
	g, err := Blockify(seg(10), 10, 1, Spec{RowsPerBlock: 4, ColsPerBlock: 4})
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}
	var all []Span
	for _, rows := range [][2]int64{{0, 3}, {3, 7}, {7, 10}} {
		spans, err := g.Spans(rows[0], rows[1])
		if err != nil {
			t.Fatalf("Spans(%v): %v", rows, err)
		}
		for i := 1; i < len(spans); i++ {
			if spans[i].Offset < spans[i-1].Offset {
				t.Fatalf("spans not ascending: %+v", spans)
			}
		}
		all = append(all, spans...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Offset < all[j].Offset })
	var cursor, fill int64
	for _, s := range all {
		if s.Offset != cursor {
			t.Fatalf("gap or overlap at %d (cursor %d)", s.Offset, cursor)
		}
		if !s.Fill {
			width := (s.EndCol-s.FirstCol)*g.BytesPerPixel + s.PadPerRow
			if width*(s.EndRow-s.FirstRow) != s.Length {
				t.Fatalf("span length mismatch %+v", s)
			}
		} else {
			fill += s.Length
		}
		cursor += s.Length
	}
	if cursor != g.DataLength() {
		t.Fatalf("spans cover %d bytes, expected %d", cursor, g.DataLength())
	}
	if fill != 3*2*4 {
		t.Fatalf("expected 24 fill bytes got %d", fill)
	}
}

func TestSpansMergeFullWidthBlocks(t *testing.T) {
	g, err := Blockify(seg(10), 6, 1, Spec{RowsPerBlock: 4})
	if err != nil {
		t.Fatalf("Blockify: %v", err)
	}
	spans, err := g.Spans(0, 10)
	if err != nil {
		t.Fatalf("Spans: %v", err)
	}
	if len(spans) != 2 {
		t.Fatalf("expected merged pixel span plus fill, got %+v", spans)
	}
	if spans[0].Length != 60 || spans[0].FirstRow != 0 || spans[0].EndRow != 10 {
		t.Fatalf("unexpected pixel span %+v", spans[0])
	}
	if !spans[1].Fill || spans[1].Offset != 60 || spans[1].Length != 12 {
		t.Fatalf("unexpected fill span %+v", spans[1])
	}
	if _, err := g.Spans(4, 4); err == nil {
		t.Fatalf("expected error for empty range")
	}
}
