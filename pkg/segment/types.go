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

package segment

import (
	"errors"
	"fmt"
	"math"

	"github.com/novatechflow/nitfscale/pkg/geo"
)

const (
	// DefaultMaxProductSize is the largest image segment the NITF LI field can describe.
	DefaultMaxProductSize int64 = 9_999_999_998
	// DefaultNumRowsLimit is the largest row offset the NITF ILOC field can carry.
	DefaultNumRowsLimit int64 = 99_999
)

// ErrInvalidConfiguration is returned when an image cannot be segmented with the supplied limits.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ImageDescriptor describes one logical pixel array before segmentation.
type ImageDescriptor struct {
	NumRows        int64       `json:"num_rows"`
	NumCols        int64       `json:"num_cols"`
	BytesPerPixel  int64       `json:"bytes_per_pixel"`
	Corners        geo.Corners `json:"corners"`
	MaxProductSize int64       `json:"max_product_size,omitempty"`
	NumRowsLimit   int64       `json:"num_rows_limit,omitempty"`
}

// BytesPerRow returns the serialized size of one image row.
func (d ImageDescriptor) BytesPerRow() int64 {
	return d.BytesPerPixel * d.NumCols
}

func (d ImageDescriptor) withDefaults() ImageDescriptor {
	if d.MaxProductSize == 0 {
		d.MaxProductSize = DefaultMaxProductSize
	}
	if d.NumRowsLimit == 0 {
		d.NumRowsLimit = DefaultNumRowsLimit
	}
	return d
}

func (d ImageDescriptor) validate() error {
	switch {
	case d.NumRows <= 0:
		return fmt.Errorf("%w: image has %d rows", ErrInvalidConfiguration, d.NumRows)
	case d.NumCols <= 0:
		return fmt.Errorf("%w: image has %d columns", ErrInvalidConfiguration, d.NumCols)
	case d.BytesPerPixel <= 0:
		return fmt.Errorf("%w: %d bytes per pixel", ErrInvalidConfiguration, d.BytesPerPixel)
	case d.NumCols > math.MaxInt64/d.BytesPerPixel:
		return fmt.Errorf("%w: row of %d columns at %d bytes overflows", ErrInvalidConfiguration, d.NumCols, d.BytesPerPixel)
	case d.NumRows > math.MaxInt64/d.BytesPerRow():
		return fmt.Errorf("%w: image of %d rows at %d bytes per row overflows", ErrInvalidConfiguration, d.NumRows, d.BytesPerRow())
	case d.MaxProductSize < 0:
		return fmt.Errorf("%w: negative maxProductSize %d", ErrInvalidConfiguration, d.MaxProductSize)
	case d.NumRowsLimit < 0:
		return fmt.Errorf("%w: negative numRowsLimit %d", ErrInvalidConfiguration, d.NumRowsLimit)
	}
	return nil
}

// SegmentInfo is one image segment of a plan.
type SegmentInfo struct {
	Index    int   `json:"index"`
	FirstRow int64 `json:"first_row"`
	NumRows  int64 `json:"num_rows"`
	// RowOffset is the row position relative to the previous segment (NITF ILOC).
	RowOffset int64       `json:"row_offset"`
	Corners   geo.Corners `json:"corners"`
}

// EndRow is the exclusive last row of the segment.
func (s SegmentInfo) EndRow() int64 {
	return s.FirstRow + s.NumRows
}

// Contains reports whether row falls inside the segment.
func (s SegmentInfo) Contains(row int64) bool {
	return row >= s.FirstRow && row < s.EndRow()
}

// Plan is the immutable segmentation of one image.
type Plan struct {
	Descriptor     ImageDescriptor `json:"descriptor"`
	BytesPerRow    int64           `json:"bytes_per_row"`
	RowsPerSegment int64           `json:"rows_per_segment"`
	Segments       []SegmentInfo   `json:"segments"`
}

// NumSegments returns the number of segments in the plan.
func (p *Plan) NumSegments() int {
	return len(p.Segments)
}

// Segment returns segment i.
func (p *Plan) Segment(i int) (SegmentInfo, error) {
	if i < 0 || i >= len(p.Segments) {
		return SegmentInfo{}, fmt.Errorf("segment %d outside plan of %d segments", i, len(p.Segments))
	}
	return p.Segments[i], nil
}

// SegmentForRow returns the segment holding row. Every segment but the last
// has RowsPerSegment rows, so the lookup is a division.
func (p *Plan) SegmentForRow(row int64) (SegmentInfo, error) {
	if row < 0 || row >= p.Descriptor.NumRows {
		return SegmentInfo{}, fmt.Errorf("row %d outside image of %d rows", row, p.Descriptor.NumRows)
	}
	idx := int(row / p.RowsPerSegment)
	if idx >= len(p.Segments) {
		idx = len(p.Segments) - 1
	}
	return p.Segments[idx], nil
}

// Boundaries returns the first row of every segment after the first.
func (p *Plan) Boundaries() []int64 {
	out := make([]int64, 0, len(p.Segments))
	for _, seg := range p.Segments[1:] {
		out = append(out, seg.FirstRow)
	}
	return out
}

// TotalBytes returns the unblocked pixel payload of the whole image.
func (p *Plan) TotalBytes() int64 {
	return p.Descriptor.NumRows * p.BytesPerRow
}
