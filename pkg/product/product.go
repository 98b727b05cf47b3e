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

// Package product turns a declarative SICD or SIDD product description into
// a fixed layout, its rendered headers and the byte range provider.
package product

import (
	"fmt"
	"strings"

	"github.com/novatechflow/nitfscale/pkg/block"
	"github.com/novatechflow/nitfscale/pkg/geo"
	"github.com/novatechflow/nitfscale/pkg/layout"
	"github.com/novatechflow/nitfscale/pkg/nitf"
	"github.com/novatechflow/nitfscale/pkg/pixel"
	"github.com/novatechflow/nitfscale/pkg/provider"
	"github.com/novatechflow/nitfscale/pkg/segment"
)

// Profile selects the SICD or SIDD packaging rules.
type Profile string

const (
	ProfileSICD Profile = "SICD"
	ProfileSIDD Profile = "SIDD"
)

func (p Profile) normalize() (Profile, error) {
	switch Profile(strings.ToUpper(string(p))) {
	case ProfileSICD, "":
		return ProfileSICD, nil
	case ProfileSIDD:
		return ProfileSIDD, nil
	default:
		return "", fmt.Errorf("%w: unknown profile %q", segment.ErrInvalidConfiguration, p)
	}
}

func (p Profile) allows(t pixel.Type) bool {
	switch t {
	case pixel.RE32F_IM32F, pixel.RE16I_IM16I, pixel.AMP8I_PHS8I:
		return p == ProfileSICD
	case pixel.MONO8I, pixel.MONO16I, pixel.MONO8LU, pixel.RGB8LU, pixel.RGB24I:
		return p == ProfileSIDD
	}
	return false
}

// ImageSpec describes one image of the product.
type ImageSpec struct {
	NumRows        int64       `json:"num_rows" yaml:"num_rows"`
	NumCols        int64       `json:"num_cols" yaml:"num_cols"`
	PixelType      pixel.Type  `json:"pixel_type" yaml:"pixel_type"`
	Corners        geo.Corners `json:"corners" yaml:"corners"`
	MaxProductSize int64       `json:"max_product_size,omitempty" yaml:"max_product_size"`
	NumRowsLimit   int64       `json:"num_rows_limit,omitempty" yaml:"num_rows_limit"`
	Blocking       block.Spec  `json:"blocking" yaml:"blocking"`
	// Subheader is the template every segment subheader is rendered from.
	Subheader nitf.ImageSubheader `json:"subheader" yaml:"subheader"`
}

// DESSpec describes one data extension. When XML is set it is rendered as
// the user subheader.
type DESSpec struct {
	Subheader nitf.DESSubheader    `json:"subheader" yaml:"subheader"`
	XML       *nitf.XMLDataContent `json:"xml,omitempty" yaml:"xml"`
	Data      []byte               `json:"data" yaml:"-"`
	DataFile  string               `json:"-" yaml:"data_file"`
}

// Spec is the complete, deterministic description of one container file.
type Spec struct {
	Profile     Profile         `json:"profile" yaml:"profile"`
	FileHeader  nitf.FileHeader `json:"file_header" yaml:"file_header"`
	Images      []ImageSpec     `json:"images" yaml:"images"`
	DES         []DESSpec       `json:"des" yaml:"des"`
	IndexTables []byte          `json:"index_tables,omitempty" yaml:"-"`
}

// Product is a built container: plans, layout and provider. It is immutable.
type Product struct {
	Spec     Spec
	Plans    []*segment.Plan
	Layout   *layout.Layout
	Provider *provider.Provider
}

// Build plans, lays out and renders spec with the WGS-84 planner.
func Build(spec Spec) (*Product, error) {
	return BuildWithPlanner(spec, segment.NewPlanner(nil))
}

// BuildWithPlanner is Build with a caller supplied planner.
func BuildWithPlanner(spec Spec, planner *segment.Planner) (*Product, error) {
	profile, err := spec.Profile.normalize()
	if err != nil {
		return nil, err
	}
	spec.Profile = profile
	if len(spec.Images) == 0 {
		return nil, fmt.Errorf("%w: product has no images", segment.ErrInvalidConfiguration)
	}

	sizes := layout.Sizes{IndexTables: int64(len(spec.IndexTables))}
	plans := make([]*segment.Plan, len(spec.Images))
	var numSegments int
	for i, img := range spec.Images {
		plan, grids, subLen, err := planImage(planner, profile, i, img)
		if err != nil {
			return nil, err
		}
		plans[i] = plan
		numSegments += plan.NumSegments()
		subs := make([]int64, plan.NumSegments())
		for j := range subs {
			subs[j] = subLen
		}
		sizes.Images = append(sizes.Images, layout.ImageSizes{Plan: plan, Subheaders: subs, Grids: grids})
	}

	desBlobs := make([]provider.DESBlob, len(spec.DES))
	for k, des := range spec.DES {
		sub := des.Subheader
		if des.XML != nil {
			user, err := des.XML.Render()
			if err != nil {
				return nil, fmt.Errorf("des %d: %w", k, err)
			}
			sub.UserSubheader = user
		}
		rendered, err := sub.Render()
		if err != nil {
			return nil, fmt.Errorf("des %d: %w", k, err)
		}
		desBlobs[k] = provider.DESBlob{Subheader: rendered, Data: des.Data}
		sizes.DES = append(sizes.DES, layout.DESSizes{Subheader: int64(len(rendered)), Data: int64(len(des.Data))})
	}

	hl, err := nitf.FileHeaderLength(numSegments, len(spec.DES))
	if err != nil {
		return nil, err
	}
	sizes.FileHeader = hl

	l, err := layout.Build(sizes)
	if err != nil {
		return nil, err
	}

	blobs := provider.Blobs{DES: desBlobs, IndexTables: spec.IndexTables}
	if blobs.FileHeader, err = spec.FileHeader.Render(l); err != nil {
		return nil, err
	}
	for i, img := range l.Images {
		subs := make([][]byte, len(img.Segments))
		for j, seg := range img.Segments {
			if subs[j], err = renderSubheader(profile, spec.Images[i], img, seg); err != nil {
				return nil, fmt.Errorf("image %d segment %d: %w", i, j, err)
			}
		}
		blobs.ImageSubheaders = append(blobs.ImageSubheaders, subs)
	}

	p, err := provider.New(l, blobs)
	if err != nil {
		return nil, err
	}
	return &Product{Spec: spec, Plans: plans, Layout: l, Provider: p}, nil
}

func planImage(planner *segment.Planner, profile Profile, i int, img ImageSpec) (*segment.Plan, []block.Grid, int64, error) {
	if !profile.allows(img.PixelType) {
		return nil, nil, 0, fmt.Errorf("%w: image %d pixel type %s is not valid for %s", segment.ErrInvalidConfiguration, i, img.PixelType, profile)
	}
	if profile == ProfileSICD && !img.Blocking.IsZero() {
		return nil, nil, 0, fmt.Errorf("%w: image %d: blocking is only supported for %s", segment.ErrInvalidConfiguration, i, ProfileSIDD)
	}
	bpp, err := pixel.BytesPerPixel(img.PixelType)
	if err != nil {
		return nil, nil, 0, err
	}
	plan, err := planner.Plan(segment.ImageDescriptor{
		NumRows:        img.NumRows,
		NumCols:        img.NumCols,
		BytesPerPixel:  bpp,
		Corners:        img.Corners,
		MaxProductSize: img.MaxProductSize,
		NumRowsLimit:   img.NumRowsLimit,
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("image %d: %w", i, err)
	}

	var grids []block.Grid
	if !img.Blocking.IsZero() {
		grids = make([]block.Grid, plan.NumSegments())
		for j, seg := range plan.Segments {
			if grids[j], err = block.Blockify(seg, img.NumCols, bpp, img.Blocking); err != nil {
				return nil, nil, 0, fmt.Errorf("image %d segment %d: %w", i, j, err)
			}
		}
	}

	tmpl := img.Subheader
	tmpl.PixelType = img.PixelType
	subLen, err := tmpl.Length()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("image %d: %w", i, err)
	}
	return plan, grids, subLen, nil
}

func renderSubheader(profile Profile, img ImageSpec, il layout.ImageLayout, seg layout.SegmentLayout) ([]byte, error) {
	tmpl := img.Subheader
	tmpl.PixelType = img.PixelType
	var attach int64
	if seg.Info.Index > 0 {
		attach = int64(seg.Global)
	}
	return tmpl.Render(nitf.SegmentFields{
		IID1:            SegmentID(profile, seg.Subheader.Image, seg.Info.Index, len(il.Segments)),
		NumRows:         seg.Info.NumRows,
		NumCols:         il.Plan.Descriptor.NumCols,
		Corners:         seg.Info.Corners,
		Grid:            seg.Grid,
		DisplayLevel:    int64(seg.Global) + 1,
		AttachmentLevel: attach,
		RowOffset:       seg.Info.RowOffset,
	})
}

// SegmentID returns IID1 for a segment: SICD000 for a lone SICD segment,
// SICDnnn otherwise, and SIDDiiisss for SIDD.
func SegmentID(profile Profile, image, seg, numSegments int) string {
	if profile == ProfileSIDD {
		return fmt.Sprintf("SIDD%03d%03d", image+1, seg+1)
	}
	if numSegments == 1 {
		return "SICD000"
	}
	return fmt.Sprintf("SICD%03d", seg+1)
}

// TotalLength returns the size of the complete file.
func (p *Product) TotalLength() int64 {
	return p.Layout.TotalLength
}

// Plan returns the plan of image i.
func (p *Product) Plan(i int) (*segment.Plan, error) {
	if i < 0 || i >= len(p.Plans) {
		return nil, fmt.Errorf("image %d outside product of %d images", i, len(p.Plans))
	}
	return p.Plans[i], nil
}
