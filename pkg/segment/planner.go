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

// Package segment partitions a logical pixel array into NITF image segments
// that respect the per-segment byte ceiling and row-count limit.
package segment

import (
	"fmt"

	"github.com/novatechflow/nitfscale/pkg/geo"
)

// Planner computes segment plans using a geodetic converter for corner interpolation.
type Planner struct {
	conv geo.Converter
}

// NewPlanner returns a planner; a nil converter selects WGS-84.
func NewPlanner(conv geo.Converter) *Planner {
	if conv == nil {
		conv = geo.WGS84
	}
	return &Planner{conv: conv}
}

// PlanImage plans desc with the WGS-84 converter.
func PlanImage(desc ImageDescriptor) (*Plan, error) {
	return NewPlanner(nil).Plan(desc)
}

// Plan segments desc. Non-terminal segments are packed to the row limit and
// the last segment carries the remainder.
func (p *Planner) Plan(desc ImageDescriptor) (*Plan, error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}
	desc = desc.withDefaults()

	bytesPerRow := desc.BytesPerRow()
	rowsLimit := desc.MaxProductSize / bytesPerRow
	if rowsLimit == 0 {
		return nil, fmt.Errorf("%w: maxProductSize [%d] < bytesPerRow [%d]", ErrInvalidConfiguration, desc.MaxProductSize, bytesPerRow)
	}
	if desc.NumRowsLimit < rowsLimit {
		rowsLimit = desc.NumRowsLimit
	}

	var segments []SegmentInfo
	if desc.NumRows*bytesPerRow <= desc.MaxProductSize && desc.NumRows <= rowsLimit {
		segments = []SegmentInfo{{
			Index:    0,
			FirstRow: 0,
			NumRows:  desc.NumRows,
		}}
	} else {
		count := (desc.NumRows-1)/rowsLimit + 1
		segments = make([]SegmentInfo, count)
		for i := range segments {
			seg := SegmentInfo{
				Index:    i,
				FirstRow: int64(i) * rowsLimit,
				NumRows:  rowsLimit,
			}
			if i > 0 {
				seg.RowOffset = rowsLimit
			}
			segments[i] = seg
		}
		last := &segments[count-1]
		last.NumRows = desc.NumRows - (count-1)*rowsLimit
	}

	p.assignCorners(desc, segments)

	return &Plan{
		Descriptor:     desc,
		BytesPerRow:    bytesPerRow,
		RowsPerSegment: rowsLimit,
		Segments:       segments,
	}, nil
}

// assignCorners interpolates each segment's top edge between the image's top
// and bottom corners. Bottom edges are copied from the next segment's top edge
// so neighbours share identical values; the final bottom edge is the image's own.
func (p *Planner) assignCorners(desc ImageDescriptor, segments []SegmentInfo) {
	img := desc.Corners
	total := float64(desc.NumRows - 1)

	for i := range segments {
		c := &segments[i].Corners
		if segments[i].FirstRow == 0 {
			c[geo.FirstRowFirstCol] = img[geo.FirstRowFirstCol]
			c[geo.FirstRowLastCol] = img[geo.FirstRowLastCol]
			continue
		}
		first := float64(segments[i].FirstRow)
		w1 := (total - first) / total
		w2 := first / total
		c[geo.FirstRowFirstCol] = geo.Blend(p.conv, img[geo.FirstRowFirstCol], img[geo.LastRowFirstCol], w1, w2)
		c[geo.FirstRowLastCol] = geo.Blend(p.conv, img[geo.FirstRowLastCol], img[geo.LastRowLastCol], w1, w2)
	}

	last := len(segments) - 1
	for i := 0; i < last; i++ {
		next := segments[i+1].Corners
		segments[i].Corners[geo.LastRowLastCol] = next[geo.FirstRowLastCol]
		segments[i].Corners[geo.LastRowFirstCol] = next[geo.FirstRowFirstCol]
	}
	segments[last].Corners[geo.LastRowLastCol] = img[geo.LastRowLastCol]
	segments[last].Corners[geo.LastRowFirstCol] = img[geo.LastRowFirstCol]
}
