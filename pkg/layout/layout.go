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

// Package layout fixes the absolute byte offset of every region of a
// container file before any pixel is produced.
package layout

import (
	"errors"
	"fmt"

	"github.com/novatechflow/nitfscale/pkg/block"
	"github.com/novatechflow/nitfscale/pkg/segment"
)

// ErrLayoutOverflow is returned when a size exceeds its fixed-width header field.
var ErrLayoutOverflow = errors.New("layout overflow")

// RegionKind names the role of a byte region.
type RegionKind int

const (
	RegionFileHeader RegionKind = iota
	RegionImageSubheader
	RegionImageData
	RegionDESSubheader
	RegionDESData
	RegionIndexTables
)

func (k RegionKind) String() string {
	switch k {
	case RegionFileHeader:
		return "file_header"
	case RegionImageSubheader:
		return "image_subheader"
	case RegionImageData:
		return "image_data"
	case RegionDESSubheader:
		return "des_subheader"
	case RegionDESData:
		return "des_data"
	case RegionIndexTables:
		return "index_tables"
	default:
		return fmt.Sprintf("region(%d)", int(k))
	}
}

// Region is one contiguous byte run of the file. Image, Segment and DES are
// -1 when they do not apply.
type Region struct {
	Kind    RegionKind `json:"kind"`
	Image   int        `json:"image"`
	Segment int        `json:"segment"`
	DES     int        `json:"des"`
	Offset  int64      `json:"offset"`
	Length  int64      `json:"length"`
}

// End is the exclusive end offset of the region.
func (r Region) End() int64 {
	return r.Offset + r.Length
}

// ImageSizes carries one image's plan and the serialized subheader length of
// each of its segments. Grids is optional; a nil slice means unblocked.
type ImageSizes struct {
	Plan       *segment.Plan
	Subheaders []int64
	Grids      []block.Grid
}

// DESSizes carries the serialized subheader and payload lengths of one DES.
type DESSizes struct {
	Subheader int64
	Data      int64
}

// Sizes lists every externally serialized length that drives the layout.
type Sizes struct {
	FileHeader  int64
	Images      []ImageSizes
	DES         []DESSizes
	IndexTables int64
}

// SegmentLayout places one image segment.
type SegmentLayout struct {
	Info      segment.SegmentInfo `json:"info"`
	Grid      block.Grid          `json:"grid"`
	Global    int                 `json:"global"`
	Subheader Region              `json:"subheader"`
	Data      Region              `json:"data"`
}

// ImageLayout places all segments of one image.
type ImageLayout struct {
	Plan     *segment.Plan   `json:"plan"`
	Segments []SegmentLayout `json:"segments"`
}

// DESLayout places one data extension segment.
type DESLayout struct {
	Subheader Region `json:"subheader"`
	Data      Region `json:"data"`
}

// Layout is the immutable byte map of one container file.
type Layout struct {
	FileHeader  Region        `json:"file_header"`
	Images      []ImageLayout `json:"images"`
	DES         []DESLayout   `json:"des"`
	IndexTables Region        `json:"index_tables"`
	TotalLength int64         `json:"total_length"`

	global [][2]int
}

// Build lays out sizes under the NITF 2.1 field limits.
func Build(sizes Sizes) (*Layout, error) {
	return BuildWithLimits(sizes, NITF21Limits)
}

// BuildWithLimits walks file header, image segments, DES and index tables in
// order. Every region starts where the previous one ended.
func BuildWithLimits(sizes Sizes, limits Limits) (*Layout, error) {
	if len(sizes.Images) == 0 {
		return nil, fmt.Errorf("%w: no images to lay out", segment.ErrInvalidConfiguration)
	}
	if err := limits.checkCounts(sizes); err != nil {
		return nil, err
	}
	if err := limits.check("file header", sizes.FileHeader, limits.FileHeader); err != nil {
		return nil, err
	}

	l := &Layout{}
	var cursor int64
	place := func(kind RegionKind, image, seg, des int, length int64) Region {
		r := Region{Kind: kind, Image: image, Segment: seg, DES: des, Offset: cursor, Length: length}
		cursor += length
		return r
	}

	l.FileHeader = place(RegionFileHeader, -1, -1, -1, sizes.FileHeader)

	global := 0
	for i, img := range sizes.Images {
		if err := validateImage(i, img); err != nil {
			return nil, err
		}
		il := ImageLayout{Plan: img.Plan, Segments: make([]SegmentLayout, len(img.Plan.Segments))}
		for j, info := range img.Plan.Segments {
			grid := block.Unblocked(info.NumRows, img.Plan.Descriptor.NumCols, img.Plan.Descriptor.BytesPerPixel)
			if img.Grids != nil {
				grid = img.Grids[j]
			}
			name := fmt.Sprintf("image %d segment %d", i, j)
			if err := limits.check(name+" subheader", img.Subheaders[j], limits.ImageSubheader); err != nil {
				return nil, err
			}
			if err := limits.check(name+" data", grid.DataLength(), limits.ImageData); err != nil {
				return nil, err
			}
			sl := SegmentLayout{Info: info, Grid: grid, Global: global}
			sl.Subheader = place(RegionImageSubheader, i, j, -1, img.Subheaders[j])
			sl.Data = place(RegionImageData, i, j, -1, grid.DataLength())
			il.Segments[j] = sl
			l.global = append(l.global, [2]int{i, j})
			global++
		}
		l.Images = append(l.Images, il)
	}

	for k, des := range sizes.DES {
		name := fmt.Sprintf("des %d", k)
		if err := limits.check(name+" subheader", des.Subheader, limits.DESSubheader); err != nil {
			return nil, err
		}
		if err := limits.check(name+" data", des.Data, limits.DESData); err != nil {
			return nil, err
		}
		l.DES = append(l.DES, DESLayout{
			Subheader: place(RegionDESSubheader, -1, -1, k, des.Subheader),
			Data:      place(RegionDESData, -1, -1, k, des.Data),
		})
	}

	if sizes.IndexTables < 0 {
		return nil, fmt.Errorf("%w: negative index table length %d", segment.ErrInvalidConfiguration, sizes.IndexTables)
	}
	l.IndexTables = place(RegionIndexTables, -1, -1, -1, sizes.IndexTables)

	if err := limits.check("file", cursor, limits.File); err != nil {
		return nil, err
	}
	l.TotalLength = cursor
	return l, nil
}

func validateImage(i int, img ImageSizes) error {
	if img.Plan == nil || len(img.Plan.Segments) == 0 {
		return fmt.Errorf("%w: image %d has no segment plan", segment.ErrInvalidConfiguration, i)
	}
	n := len(img.Plan.Segments)
	if len(img.Subheaders) != n {
		return fmt.Errorf("%w: image %d has %d subheader sizes for %d segments", segment.ErrInvalidConfiguration, i, len(img.Subheaders), n)
	}
	if img.Grids == nil {
		return nil
	}
	if len(img.Grids) != n {
		return fmt.Errorf("%w: image %d has %d grids for %d segments", segment.ErrInvalidConfiguration, i, len(img.Grids), n)
	}
	for j, g := range img.Grids {
		info := img.Plan.Segments[j]
		if g.Rows != info.NumRows || g.Cols != img.Plan.Descriptor.NumCols || g.BytesPerPixel != img.Plan.Descriptor.BytesPerPixel {
			return fmt.Errorf("%w: image %d segment %d grid %dx%d does not match segment %dx%d", segment.ErrInvalidConfiguration, i, j, g.Rows, g.Cols, info.NumRows, img.Plan.Descriptor.NumCols)
		}
	}
	return nil
}

// NumImages returns the number of images in the file.
func (l *Layout) NumImages() int {
	return len(l.Images)
}

// NumImageSegments returns the number of image segments across all images.
func (l *Layout) NumImageSegments() int {
	return len(l.global)
}

// Segment returns the placement of segment seg of image.
func (l *Layout) Segment(image, seg int) (SegmentLayout, error) {
	if image < 0 || image >= len(l.Images) {
		return SegmentLayout{}, fmt.Errorf("image %d outside layout of %d images", image, len(l.Images))
	}
	segs := l.Images[image].Segments
	if seg < 0 || seg >= len(segs) {
		return SegmentLayout{}, fmt.Errorf("segment %d outside image %d of %d segments", seg, image, len(segs))
	}
	return segs[seg], nil
}

// SegmentByGlobal returns the placement of the i-th image segment in file order.
func (l *Layout) SegmentByGlobal(i int) (SegmentLayout, error) {
	if i < 0 || i >= len(l.global) {
		return SegmentLayout{}, fmt.Errorf("image segment %d outside layout of %d segments", i, len(l.global))
	}
	pos := l.global[i]
	return l.Images[pos[0]].Segments[pos[1]], nil
}

// PixelDataOffset returns the absolute offset of a segment's pixel data.
func (l *Layout) PixelDataOffset(image, seg int) (int64, error) {
	sl, err := l.Segment(image, seg)
	if err != nil {
		return 0, err
	}
	return sl.Data.Offset, nil
}

// Regions returns every region in ascending offset order.
func (l *Layout) Regions() []Region {
	out := make([]Region, 0, 2+2*len(l.global)+2*len(l.DES))
	out = append(out, l.FileHeader)
	for _, img := range l.Images {
		for _, seg := range img.Segments {
			out = append(out, seg.Subheader, seg.Data)
		}
	}
	for _, des := range l.DES {
		out = append(out, des.Subheader, des.Data)
	}
	out = append(out, l.IndexTables)
	return out
}
