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

package nitf

import (
	"fmt"
	"math"
	"time"

	"github.com/novatechflow/nitfscale/pkg/block"
	"github.com/novatechflow/nitfscale/pkg/geo"
	"github.com/novatechflow/nitfscale/pkg/pixel"
)

const (
	imageSubheaderFixed = 486
	bandEntry           = 13
	commentLength       = 80
	maxComments         = 9
	maxBlockPixels      = 8192
)

// ImageSubheader is the per-image template rendered once for every segment.
type ImageSubheader struct {
	IID1               string     `json:"iid1,omitempty" yaml:"iid1"`
	DateTime           time.Time  `json:"date_time" yaml:"date_time"`
	TargetID           string     `json:"target_id,omitempty" yaml:"target_id"`
	IID2               string     `json:"iid2,omitempty" yaml:"iid2"`
	Security           Security   `json:"security" yaml:"security"`
	Source             string     `json:"source,omitempty" yaml:"source"`
	PixelType          pixel.Type `json:"pixel_type" yaml:"pixel_type"`
	Representation     string     `json:"representation,omitempty" yaml:"representation"`
	Category           string     `json:"category,omitempty" yaml:"category"`
	ActualBitsPerPixel int        `json:"actual_bits_per_pixel,omitempty" yaml:"actual_bits_per_pixel"`
	// CoordinateSystem is the ICORDS value; 'G' (default) or 'D'.
	CoordinateSystem string     `json:"coordinate_system,omitempty" yaml:"coordinate_system"`
	Comments         []string   `json:"comments,omitempty" yaml:"comments"`
	LUT              *pixel.LUT `json:"lut,omitempty" yaml:"lut"`
	Magnification    string     `json:"magnification,omitempty" yaml:"magnification"`
}

// SegmentFields are the values that vary between segments of one image.
type SegmentFields struct {
	IID1            string
	NumRows         int64
	NumCols         int64
	Corners         geo.Corners
	Grid            block.Grid
	DisplayLevel    int64
	AttachmentLevel int64
	RowOffset       int64
	ColOffset       int64
}

// Length returns LISH. It depends only on the pixel type, LUT and comments.
func (s ImageSubheader) Length() (int64, error) {
	info, err := pixel.Describe(s.PixelType)
	if err != nil {
		return 0, err
	}
	if len(s.Comments) > maxComments {
		return 0, fmt.Errorf("%w: %d comments exceed %d", ErrInvalidField, len(s.Comments), maxComments)
	}
	n := int64(imageSubheaderFixed) + bandEntry*int64(len(info.Bands)) + commentLength*int64(len(s.Comments))
	luts, err := s.lutBytes(info)
	if err != nil {
		return 0, err
	}
	if luts != nil {
		n += 5 + int64(len(luts))
	}
	return n, nil
}

func (s ImageSubheader) lutBytes(info pixel.Info) ([]byte, error) {
	want := 0
	for _, b := range info.Bands {
		want = max(want, b.NumLUTs)
	}
	if want == 0 {
		if s.LUT != nil {
			return nil, fmt.Errorf("%w: pixel type %s carries no lookup table", ErrInvalidField, s.PixelType)
		}
		return nil, nil
	}
	if s.LUT == nil {
		return nil, fmt.Errorf("%w: pixel type %s requires a lookup table", ErrInvalidField, s.PixelType)
	}
	if s.LUT.ElementSize != want {
		return nil, fmt.Errorf("%w: pixel type %s needs %d lookup tables, got %d", ErrInvalidField, s.PixelType, want, s.LUT.ElementSize)
	}
	return s.LUT.BandSequential()
}

// Render produces the subheader of one segment.
func (s ImageSubheader) Render(seg SegmentFields) ([]byte, error) {
	size, err := s.Length()
	if err != nil {
		return nil, err
	}
	info, _ := pixel.Describe(s.PixelType)
	luts, _ := s.lutBytes(info)
	grid := seg.Grid
	if grid.RowsPerBlock == 0 {
		grid = block.Unblocked(seg.NumRows, seg.NumCols, info.BytesPerPixel)
	}
	if grid.Rows != seg.NumRows || grid.Cols != seg.NumCols {
		return nil, fmt.Errorf("render image subheader: grid %dx%d for segment %dx%d", grid.Rows, grid.Cols, seg.NumRows, seg.NumCols)
	}
	icords := orDefault(s.CoordinateSystem, "G")
	igeolo, err := FormatIGEOLO(icords, seg.Corners)
	if err != nil {
		return nil, err
	}
	abpp := s.ActualBitsPerPixel
	if abpp == 0 {
		abpp = info.BitsPerBand
	}
	iid1 := seg.IID1
	if iid1 == "" {
		iid1 = s.IID1
	}

	w := newFieldWriter(size)
	w.text("IM", 2, "IM")
	w.text("IID1", 10, iid1)
	w.date("IDATIM", s.DateTime)
	w.text("TGTID", 17, s.TargetID)
	w.text("IID2", 80, s.IID2)
	s.Security.write(w, "IS")
	w.text("ENCRYP", 1, "0")
	w.text("ISORCE", 42, s.Source)
	w.num("NROWS", 8, seg.NumRows)
	w.num("NCOLS", 8, seg.NumCols)
	w.text("PVTYPE", 3, info.ValueType)
	w.text("IREP", 8, orDefault(s.Representation, info.Representation))
	w.text("ICAT", 8, orDefault(s.Category, "SAR"))
	w.num("ABPP", 2, int64(abpp))
	w.text("PJUST", 1, "R")
	w.text("ICORDS", 1, icords)
	w.text("IGEOLO", 60, igeolo)
	w.num("NICOM", 1, int64(len(s.Comments)))
	for _, c := range s.Comments {
		w.text("ICOM", commentLength, c)
	}
	w.text("IC", 2, "NC")
	w.num("NBANDS", 1, int64(len(info.Bands)))
	for _, band := range info.Bands {
		w.text("IREPBAND", 2, band.Representation)
		w.text("ISUBCAT", 6, band.Subcategory)
		w.text("IFC", 1, "N")
		w.text("IMFLT", 3, "")
		w.num("NLUTS", 1, int64(band.NumLUTs))
		if band.NumLUTs > 0 {
			w.num("NELUT", 5, int64(s.LUT.NumEntries))
			w.raw(luts)
		}
	}
	w.num("ISYNC", 1, 0)
	w.text("IMODE", 1, string(info.Mode))
	w.num("NBPR", 4, grid.BlockCols)
	w.num("NBPC", 4, grid.BlockRows)
	w.num("NPPBH", 4, blockPixels(grid.ColsPerBlock, grid.BlockCols))
	w.num("NPPBV", 4, blockPixels(grid.RowsPerBlock, grid.BlockRows))
	w.num("NBPP", 2, int64(info.BitsPerBand))
	w.num("IDLVL", 3, seg.DisplayLevel)
	w.num("IALVL", 3, seg.AttachmentLevel)
	w.num("ILOC", 5, seg.RowOffset)
	w.num("ILOC", 5, seg.ColOffset)
	w.text("IMAG", 4, orDefault(s.Magnification, "1.0"))
	w.num("UDIDL", 5, 0)
	w.num("IXSHDL", 5, 0)
	return w.finish("image subheader", size)
}

// blockPixels returns NPPBH/NPPBV. A single block wider than 8192 pixels is
// written as 0.
func blockPixels(perBlock, blocks int64) int64 {
	if blocks == 1 && perBlock > maxBlockPixels {
		return 0
	}
	return perBlock
}

// FormatIGEOLO renders four corners in IGEOLO order for ICORDS 'G'
// (ddmmssXdddmmssY) or 'D' (+-dd.ddd+-ddd.ddd).
func FormatIGEOLO(icords string, c geo.Corners) (string, error) {
	out := make([]byte, 0, 60)
	for _, p := range c {
		switch icords {
		case "G":
			out = append(out, dms(p.Lat, 2, 'N', 'S')...)
			out = append(out, dms(p.Lon, 3, 'E', 'W')...)
		case "D":
			out = fmt.Appendf(out, "%+07.3f%+08.3f", clampDeg(p.Lat, 90), clampDeg(p.Lon, 180))
		default:
			return "", fmt.Errorf("%w: unsupported ICORDS %q", ErrInvalidField, icords)
		}
	}
	return string(out), nil
}

func dms(deg float64, degWidth int, pos, neg byte) string {
	hemi := pos
	if deg < 0 {
		hemi = neg
		deg = -deg
	}
	total := int64(math.Round(deg * 3600))
	d := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%0*d%02d%02d%c", degWidth, d, m, s, hemi)
}

func clampDeg(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
