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

package worker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/novatechflow/nitfscale/pkg/cache"
	"github.com/novatechflow/nitfscale/pkg/provider"
	"github.com/novatechflow/nitfscale/pkg/segment"
	"github.com/novatechflow/nitfscale/pkg/storage"
)

// PixelSource yields full-width rows of one image in the serialized pixel order.
type PixelSource interface {
	ReadRows(ctx context.Context, image int, r0, r1 int64) (provider.Strip, error)
}

type rangeReader interface {
	ReadRange(ctx context.Context, offset, length int64) ([]byte, error)
}

// RawSource reads rows from raw pixel arrays, one per image, each starting
// at a fixed byte offset of its backing reader.
type RawSource struct {
	descs   []segment.ImageDescriptor
	readers []rangeReader
	offsets []int64
	closers []io.Closer
}

// RawInput names the backing data of one image.
type RawInput struct {
	Path   string
	Key    string
	Offset int64
}

func (s *RawSource) add(desc segment.ImageDescriptor, r rangeReader, offset int64) {
	s.descs = append(s.descs, desc)
	s.readers = append(s.readers, r)
	s.offsets = append(s.offsets, offset)
}

// OpenFileSource opens one local raw file per plan.
func OpenFileSource(plans []*segment.Plan, inputs []RawInput) (*RawSource, error) {
	if len(plans) != len(inputs) {
		return nil, fmt.Errorf("%d images but %d raw inputs", len(plans), len(inputs))
	}
	src := &RawSource{}
	for i, in := range inputs {
		f, err := os.Open(in.Path)
		if err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("open raw input %d: %w", i, err)
		}
		src.closers = append(src.closers, f)
		info, err := f.Stat()
		if err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("stat raw input %d: %w", i, err)
		}
		if err := checkSize(plans[i], in.Offset, info.Size()); err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("raw input %s: %w", in.Path, err)
		}
		src.add(plans[i].Descriptor, fileReader{f: f}, in.Offset)
	}
	return src, nil
}

// NewObjectSource reads one raw object per plan through windowed ranged GETs.
func NewObjectSource(ctx context.Context, s3Client storage.S3Client, plans []*segment.Plan, inputs []RawInput, window int64, c *cache.RangeCache) (*RawSource, error) {
	if len(plans) != len(inputs) {
		return nil, fmt.Errorf("%d images but %d raw inputs", len(plans), len(inputs))
	}
	src := &RawSource{}
	for i, in := range inputs {
		size, err := objectSize(ctx, s3Client, in.Key)
		if err != nil {
			return nil, err
		}
		if err := checkSize(plans[i], in.Offset, size); err != nil {
			return nil, fmt.Errorf("raw object %s: %w", in.Key, err)
		}
		src.add(plans[i].Descriptor, storage.NewWindowReader(s3Client, in.Key, size, window, c), in.Offset)
	}
	return src, nil
}

func objectSize(ctx context.Context, s3Client storage.S3Client, key string) (int64, error) {
	objects, err := s3Client.ListObjects(ctx, key)
	if err != nil {
		return 0, err
	}
	for _, obj := range objects {
		if obj.Key == key {
			return obj.Size, nil
		}
	}
	return 0, fmt.Errorf("raw object %s not found", key)
}

func checkSize(plan *segment.Plan, offset, size int64) error {
	if need := offset + plan.TotalBytes(); size < need {
		return fmt.Errorf("holds %d bytes, image needs %d", size, need)
	}
	return nil
}

// ReadRows implements PixelSource.
func (s *RawSource) ReadRows(ctx context.Context, image int, r0, r1 int64) (provider.Strip, error) {
	if image < 0 || image >= len(s.descs) {
		return provider.Strip{}, fmt.Errorf("image %d outside source of %d images", image, len(s.descs))
	}
	desc := s.descs[image]
	if r0 < 0 || r1 > desc.NumRows || r0 >= r1 {
		return provider.Strip{}, fmt.Errorf("rows [%d,%d) outside image of %d rows", r0, r1, desc.NumRows)
	}
	rowBytes := desc.BytesPerRow()
	data, err := s.readers[image].ReadRange(ctx, s.offsets[image]+r0*rowBytes, (r1-r0)*rowBytes)
	if err != nil {
		return provider.Strip{}, fmt.Errorf("read image %d rows [%d,%d): %w", image, r0, r1, err)
	}
	return provider.Strip{
		FirstRow:      r0,
		NumCols:       desc.NumCols,
		BytesPerPixel: desc.BytesPerPixel,
		Data:          data,
	}, nil
}

// Close releases open files.
func (s *RawSource) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

type fileReader struct {
	f io.ReaderAt
}

func (r fileReader) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := r.f.ReadAt(buf, offset)
	if n == len(buf) {
		return buf, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, err
}
