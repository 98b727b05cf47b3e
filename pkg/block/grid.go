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

// Package block computes SIDD pixel blocking inside one image segment. Blocks
// are stored in row-major block order, each block row-major by pixel and
// padded to full size at the right and bottom edges.
package block

import (
	"fmt"

	"github.com/novatechflow/nitfscale/pkg/segment"
)

// Spec requests a block size. Zero dimensions mean no blocking along that axis.
type Spec struct {
	RowsPerBlock  int64 `json:"rows_per_block,omitempty" yaml:"rows_per_block"`
	ColsPerBlock  int64 `json:"cols_per_block,omitempty" yaml:"cols_per_block"`
	ClampToExtent bool  `json:"clamp_to_extent,omitempty" yaml:"clamp_to_extent"`
}

// IsZero reports whether the spec requests no blocking at all.
func (s Spec) IsZero() bool {
	return s.RowsPerBlock == 0 && s.ColsPerBlock == 0
}

// Grid is the block arrangement of one segment.
type Grid struct {
	Rows          int64 `json:"rows"`
	Cols          int64 `json:"cols"`
	BytesPerPixel int64 `json:"bytes_per_pixel"`
	RowsPerBlock  int64 `json:"rows_per_block"`
	ColsPerBlock  int64 `json:"cols_per_block"`
	BlockRows     int64 `json:"block_rows"`
	BlockCols     int64 `json:"block_cols"`
}

// Unblocked returns the single-block grid covering rows x cols.
func Unblocked(rows, cols, bytesPerPixel int64) Grid {
	return Grid{
		Rows:          rows,
		Cols:          cols,
		BytesPerPixel: bytesPerPixel,
		RowsPerBlock:  rows,
		ColsPerBlock:  cols,
		BlockRows:     1,
		BlockCols:     1,
	}
}

// Blockify lays spec over seg. A block dimension larger than the segment is
// rejected unless spec.ClampToExtent is set.
func Blockify(seg segment.SegmentInfo, numCols, bytesPerPixel int64, spec Spec) (Grid, error) {
	if seg.NumRows <= 0 || numCols <= 0 || bytesPerPixel <= 0 {
		return Grid{}, fmt.Errorf("%w: segment %d extent %dx%d with %d bytes per pixel", segment.ErrInvalidConfiguration, seg.Index, seg.NumRows, numCols, bytesPerPixel)
	}
	if spec.RowsPerBlock < 0 || spec.ColsPerBlock < 0 {
		return Grid{}, fmt.Errorf("%w: negative block size %dx%d", segment.ErrInvalidConfiguration, spec.RowsPerBlock, spec.ColsPerBlock)
	}
	rpb, err := blockDim(spec.RowsPerBlock, seg.NumRows, spec.ClampToExtent, "rows")
	if err != nil {
		return Grid{}, err
	}
	cpb, err := blockDim(spec.ColsPerBlock, numCols, spec.ClampToExtent, "cols")
	if err != nil {
		return Grid{}, err
	}
	return Grid{
		Rows:          seg.NumRows,
		Cols:          numCols,
		BytesPerPixel: bytesPerPixel,
		RowsPerBlock:  rpb,
		ColsPerBlock:  cpb,
		BlockRows:     ceilDiv(seg.NumRows, rpb),
		BlockCols:     ceilDiv(numCols, cpb),
	}, nil
}

func blockDim(requested, extent int64, clamp bool, axis string) (int64, error) {
	if requested == 0 {
		return extent, nil
	}
	if requested > extent {
		if !clamp {
			return 0, fmt.Errorf("%w: %d %s per block exceeds segment extent %d", segment.ErrInvalidConfiguration, requested, axis, extent)
		}
		return extent, nil
	}
	return requested, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// Blocked reports whether the grid has more than one block.
func (g Grid) Blocked() bool {
	return g.BlockRows > 1 || g.BlockCols > 1
}

// NumBlocks returns the number of blocks in the grid.
func (g Grid) NumBlocks() int64 {
	return g.BlockRows * g.BlockCols
}

// BlockBytes returns the padded size of one block.
func (g Grid) BlockBytes() int64 {
	return g.RowsPerBlock * g.ColsPerBlock * g.BytesPerPixel
}

// DataLength returns the padded size of the whole segment.
func (g Grid) DataLength() int64 {
	return g.NumBlocks() * g.BlockBytes()
}

// PadRows returns the number of fill rows in the bottom block row.
func (g Grid) PadRows() int64 {
	return g.BlockRows*g.RowsPerBlock - g.Rows
}

// PadCols returns the number of fill columns in the rightmost block column.
func (g Grid) PadCols() int64 {
	return g.BlockCols*g.ColsPerBlock - g.Cols
}

// BlockIndex maps a segment-local pixel to its block number.
func (g Grid) BlockIndex(row, col int64) (int64, error) {
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return 0, fmt.Errorf("pixel (%d,%d) outside segment %dx%d", row, col, g.Rows, g.Cols)
	}
	return (row/g.RowsPerBlock)*g.BlockCols + col/g.ColsPerBlock, nil
}

// PixelOffset maps a segment-local pixel to its byte offset inside the segment data.
func (g Grid) PixelOffset(row, col int64) (int64, error) {
	blk, err := g.BlockIndex(row, col)
	if err != nil {
		return 0, err
	}
	localRow := row % g.RowsPerBlock
	localCol := col % g.ColsPerBlock
	return blk*g.BlockBytes() + (localRow*g.ColsPerBlock+localCol)*g.BytesPerPixel, nil
}

// Span is a contiguous byte run inside the segment data. Pixel spans carry
// rows [FirstRow, EndRow) and columns [FirstCol, EndCol), each row followed by
// PadPerRow fill bytes. Fill spans carry only zeros.
type Span struct {
	Offset    int64
	Length    int64
	Fill      bool
	FirstRow  int64
	EndRow    int64
	FirstCol  int64
	EndCol    int64
	PadPerRow int64
}

// Spans returns the byte runs written by segment-local rows [r0, r1) across
// all columns, in ascending offset order. When r1 reaches the last row the
// bottom fill of every edge block is included.
func (g Grid) Spans(r0, r1 int64) ([]Span, error) {
	if r0 < 0 || r1 > g.Rows || r0 >= r1 {
		return nil, fmt.Errorf("rows [%d,%d) outside segment of %d rows", r0, r1, g.Rows)
	}
	rowWeight := g.ColsPerBlock * g.BytesPerPixel
	out := make([]Span, 0, g.BlockCols)
	for br := r0 / g.RowsPerBlock; br*g.RowsPerBlock < r1; br++ {
		top := br * g.RowsPerBlock
		a := max(r0, top)
		b := min(r1, top+g.RowsPerBlock)
		for bc := int64(0); bc < g.BlockCols; bc++ {
			base := (br*g.BlockCols + bc) * g.BlockBytes()
			c0 := bc * g.ColsPerBlock
			c1 := min(c0+g.ColsPerBlock, g.Cols)
			out = appendSpan(out, Span{
				Offset:    base + (a-top)*rowWeight,
				Length:    (b - a) * rowWeight,
				FirstRow:  a,
				EndRow:    b,
				FirstCol:  c0,
				EndCol:    c1,
				PadPerRow: (g.ColsPerBlock - (c1 - c0)) * g.BytesPerPixel,
			}, g.Cols)
			if b == g.Rows && g.PadRows() > 0 {
				valid := g.Rows - top
				out = append(out, Span{
					Offset: base + valid*rowWeight,
					Length: (g.RowsPerBlock - valid) * rowWeight,
					Fill:   true,
				})
			}
		}
	}
	return out, nil
}

// appendSpan merges full-width pixel spans that continue the previous one.
func appendSpan(out []Span, s Span, cols int64) []Span {
	if n := len(out); n > 0 {
		prev := &out[n-1]
		if !prev.Fill && prev.PadPerRow == 0 && s.PadPerRow == 0 &&
			prev.FirstCol == 0 && prev.EndCol == cols && s.FirstCol == 0 && s.EndCol == cols &&
			prev.EndRow == s.FirstRow && prev.Offset+prev.Length == s.Offset {
			prev.EndRow = s.EndRow
			prev.Length += s.Length
			return out
		}
	}
	return append(out, s)
}
