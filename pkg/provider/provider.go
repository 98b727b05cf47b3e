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

// Package provider answers which absolute byte ranges of a container file a
// row range of pixels, or a piece of header metadata, occupies. Independent
// producers use it to write disjoint ranges straight to their final offsets.
package provider

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/novatechflow/nitfscale/pkg/layout"
)

var (
	// ErrOutOfBounds is returned for an empty row range or one outside the image.
	ErrOutOfBounds = errors.New("row range out of bounds")
	// ErrCrossSegmentRequest is returned for a row range spanning a segment boundary.
	ErrCrossSegmentRequest = errors.New("row range crosses segment boundary")
	// ErrBlobMismatch is returned when pre-rendered bytes do not match the layout.
	ErrBlobMismatch = errors.New("header bytes do not match layout")
)

// CrossSegmentError reports where a row range must be split.
type CrossSegmentError struct {
	Image    int
	FirstRow int64
	EndRow   int64
	Segment  int
	Boundary int64
}

func (e *CrossSegmentError) Error() string {
	return fmt.Sprintf("%s: image %d rows [%d,%d) cross the end of segment %d at row %d",
		ErrCrossSegmentRequest, e.Image, e.FirstRow, e.EndRow, e.Segment, e.Boundary)
}

func (e *CrossSegmentError) Unwrap() error {
	return ErrCrossSegmentRequest
}

// SourceKind says where the bytes of a range come from.
type SourceKind int

const (
	// SourceHeader ranges carry pre-rendered bytes owned by the Provider.
	SourceHeader SourceKind = iota
	// SourcePixels ranges are filled from caller pixel rows.
	SourcePixels
	// SourcePad ranges are zeros.
	SourcePad
)

func (k SourceKind) String() string {
	switch k {
	case SourceHeader:
		return "header"
	case SourcePixels:
		return "pixels"
	case SourcePad:
		return "pad"
	default:
		return fmt.Sprintf("source(%d)", int(k))
	}
}

// Source describes the content of a ByteRange. Rows are absolute image rows.
// Bytes is shared and must not be modified.
type Source struct {
	Kind      SourceKind
	Region    layout.RegionKind
	Image     int
	Segment   int
	FirstRow  int64
	EndRow    int64
	FirstCol  int64
	EndCol    int64
	PadPerRow int64
	Bytes     []byte
}

// ByteRange is one run of absolute file bytes.
type ByteRange struct {
	Offset int64
	Length int64
	Source Source
}

// End is the exclusive end offset of the range.
func (r ByteRange) End() int64 {
	return r.Offset + r.Length
}

// RangesFor returns the pixel byte ranges of rows [r0, r1) of image. The
// range must lie inside one segment; no implicit splitting is done.
func RangesFor(l *layout.Layout, image int, r0, r1 int64) ([]ByteRange, error) {
	if image < 0 || image >= l.NumImages() {
		return nil, fmt.Errorf("%w: image %d outside layout of %d images", ErrOutOfBounds, image, l.NumImages())
	}
	plan := l.Images[image].Plan
	if r0 < 0 || r1 > plan.Descriptor.NumRows || r0 >= r1 {
		return nil, fmt.Errorf("%w: rows [%d,%d) of image %d with %d rows", ErrOutOfBounds, r0, r1, image, plan.Descriptor.NumRows)
	}
	info, err := plan.SegmentForRow(r0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfBounds, err)
	}
	if r1 > info.EndRow() {
		return nil, &CrossSegmentError{Image: image, FirstRow: r0, EndRow: r1, Segment: info.Index, Boundary: info.EndRow()}
	}

	sl := l.Images[image].Segments[info.Index]
	spans, err := sl.Grid.Spans(r0-info.FirstRow, r1-info.FirstRow)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfBounds, err)
	}
	out := make([]ByteRange, 0, len(spans))
	for _, span := range spans {
		src := Source{Kind: SourcePad, Region: layout.RegionImageData, Image: image, Segment: info.Index}
		if !span.Fill {
			src.Kind = SourcePixels
			src.FirstRow = info.FirstRow + span.FirstRow
			src.EndRow = info.FirstRow + span.EndRow
			src.FirstCol = span.FirstCol
			src.EndCol = span.EndCol
			src.PadPerRow = span.PadPerRow
		}
		out = append(out, ByteRange{Offset: sl.Data.Offset + span.Offset, Length: span.Length, Source: src})
	}
	return out, nil
}

// DESBlob is the rendered subheader and payload of one data extension.
type DESBlob struct {
	Subheader []byte
	Data      []byte
}

// Blobs carries every pre-rendered metadata region. ImageSubheaders is
// indexed by image, then segment.
type Blobs struct {
	FileHeader      []byte
	ImageSubheaders [][][]byte
	DES             []DESBlob
	IndexTables     []byte
}

// Provider binds a layout to its rendered metadata. It is immutable and safe
// for concurrent use.
type Provider struct {
	layout      *layout.Layout
	fileHeader  []byte
	subheaders  [][][]byte
	des         []DESBlob
	indexTables []byte
}

// New validates blobs against l and returns a Provider owning copies of them.
func New(l *layout.Layout, blobs Blobs) (*Provider, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: nil layout", ErrBlobMismatch)
	}
	if err := matchLength("file header", blobs.FileHeader, l.FileHeader); err != nil {
		return nil, err
	}
	if len(blobs.ImageSubheaders) != len(l.Images) {
		return nil, fmt.Errorf("%w: %d image subheader sets for %d images", ErrBlobMismatch, len(blobs.ImageSubheaders), len(l.Images))
	}
	p := &Provider{
		layout:      l,
		fileHeader:  bytes.Clone(blobs.FileHeader),
		subheaders:  make([][][]byte, len(l.Images)),
		indexTables: bytes.Clone(blobs.IndexTables),
	}
	for i, img := range l.Images {
		if len(blobs.ImageSubheaders[i]) != len(img.Segments) {
			return nil, fmt.Errorf("%w: image %d has %d subheaders for %d segments", ErrBlobMismatch, i, len(blobs.ImageSubheaders[i]), len(img.Segments))
		}
		p.subheaders[i] = make([][]byte, len(img.Segments))
		for j, seg := range img.Segments {
			if err := matchLength(fmt.Sprintf("image %d segment %d subheader", i, j), blobs.ImageSubheaders[i][j], seg.Subheader); err != nil {
				return nil, err
			}
			p.subheaders[i][j] = bytes.Clone(blobs.ImageSubheaders[i][j])
		}
	}
	if len(blobs.DES) != len(l.DES) {
		return nil, fmt.Errorf("%w: %d data extensions for %d in layout", ErrBlobMismatch, len(blobs.DES), len(l.DES))
	}
	for k, des := range l.DES {
		if err := matchLength(fmt.Sprintf("des %d subheader", k), blobs.DES[k].Subheader, des.Subheader); err != nil {
			return nil, err
		}
		if err := matchLength(fmt.Sprintf("des %d data", k), blobs.DES[k].Data, des.Data); err != nil {
			return nil, err
		}
		p.des = append(p.des, DESBlob{Subheader: bytes.Clone(blobs.DES[k].Subheader), Data: bytes.Clone(blobs.DES[k].Data)})
	}
	if err := matchLength("index tables", blobs.IndexTables, l.IndexTables); err != nil {
		return nil, err
	}
	return p, nil
}

func matchLength(name string, b []byte, r layout.Region) error {
	if int64(len(b)) != r.Length {
		return fmt.Errorf("%w: %s has %d bytes, layout reserves %d", ErrBlobMismatch, name, len(b), r.Length)
	}
	return nil
}

func headerRange(r layout.Region, b []byte) ByteRange {
	return ByteRange{
		Offset: r.Offset,
		Length: r.Length,
		Source: Source{Kind: SourceHeader, Region: r.Kind, Image: r.Image, Segment: r.Segment, Bytes: b},
	}
}

// Layout returns the layout the provider serves.
func (p *Provider) Layout() *layout.Layout {
	return p.layout
}

// TotalLength returns the size of the complete file.
func (p *Provider) TotalLength() int64 {
	return p.layout.TotalLength
}

// HeaderRange returns the file header range.
func (p *Provider) HeaderRange() ByteRange {
	return headerRange(p.layout.FileHeader, p.fileHeader)
}

// SubheaderRange returns the subheader range of the i-th image segment in file order.
func (p *Provider) SubheaderRange(global int) (ByteRange, error) {
	sl, err := p.layout.SegmentByGlobal(global)
	if err != nil {
		return ByteRange{}, fmt.Errorf("%w: %v", ErrOutOfBounds, err)
	}
	return headerRange(sl.Subheader, p.subheaders[sl.Subheader.Image][sl.Subheader.Segment]), nil
}

// DESRanges returns the subheader and data ranges of data extension i.
func (p *Provider) DESRanges(i int) ([]ByteRange, error) {
	if i < 0 || i >= len(p.des) {
		return nil, fmt.Errorf("%w: data extension %d outside layout of %d", ErrOutOfBounds, i, len(p.des))
	}
	des := p.layout.DES[i]
	return nonEmpty(
		headerRange(des.Subheader, p.des[i].Subheader),
		headerRange(des.Data, p.des[i].Data),
	), nil
}

// IndexTablesRange returns the trailing index table range, which may be empty.
func (p *Provider) IndexTablesRange() ByteRange {
	return headerRange(p.layout.IndexTables, p.indexTables)
}

// MetadataRanges returns every non-empty header range in ascending offset order.
func (p *Provider) MetadataRanges() []ByteRange {
	out := nonEmpty(p.HeaderRange())
	for i := 0; i < p.layout.NumImageSegments(); i++ {
		r, _ := p.SubheaderRange(i)
		out = append(out, nonEmpty(r)...)
	}
	out = append(out, p.trailer()...)
	return out
}

func (p *Provider) trailer() []ByteRange {
	var out []ByteRange
	for i := range p.des {
		rs, _ := p.DESRanges(i)
		out = append(out, rs...)
	}
	return append(out, nonEmpty(p.IndexTablesRange())...)
}

// RangesFor returns the pixel ranges of rows [r0, r1) of image.
func (p *Provider) RangesFor(image int, r0, r1 int64) ([]ByteRange, error) {
	return RangesFor(p.layout, image, r0, r1)
}

// ContributionRanges returns the pixel ranges of rows [r0, r1) of image plus
// the metadata that contribution owns: the file header for the first rows of
// the first image, a segment subheader when r0 starts that segment, and the
// trailing extensions and index tables when r1 ends the last image. Any
// segment-aligned cover of all rows writes every byte of the file exactly once.
func (p *Provider) ContributionRanges(image int, r0, r1 int64) ([]ByteRange, error) {
	pixels, err := p.RangesFor(image, r0, r1)
	if err != nil {
		return nil, err
	}
	plan := p.layout.Images[image].Plan
	info, _ := plan.SegmentForRow(r0)

	var out []ByteRange
	if image == 0 && r0 == 0 {
		out = append(out, nonEmpty(p.HeaderRange())...)
	}
	if r0 == info.FirstRow {
		sl := p.layout.Images[image].Segments[info.Index]
		out = append(out, nonEmpty(headerRange(sl.Subheader, p.subheaders[image][info.Index]))...)
	}
	out = append(out, pixels...)
	if image == p.layout.NumImages()-1 && r1 == plan.Descriptor.NumRows {
		out = append(out, p.trailer()...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out, nil
}

func nonEmpty(ranges ...ByteRange) []ByteRange {
	out := ranges[:0]
	for _, r := range ranges {
		if r.Length > 0 {
			out = append(out, r)
		}
	}
	return out
}
