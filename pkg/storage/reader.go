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

package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/novatechflow/nitfscale/pkg/cache"
)

// DefaultWindowSize is the ranged GET granularity of a WindowReader.
const DefaultWindowSize = 4 << 20

// WindowReader serves random reads of one object through aligned ranged GETs.
// Windows are cached when a cache is supplied.
type WindowReader struct {
	s3     S3Client
	key    string
	size   int64
	window int64
	cache  *cache.RangeCache
}

// NewWindowReader reads key, which holds size bytes. A nil cache disables caching.
func NewWindowReader(s3Client S3Client, key string, size, window int64, c *cache.RangeCache) *WindowReader {
	if window <= 0 {
		window = DefaultWindowSize
	}
	return &WindowReader{
		s3:     s3Client,
		key:    key,
		size:   size,
		window: window,
		cache:  c,
	}
}

// Size returns the object length.
func (r *WindowReader) Size() int64 {
	return r.size
}

// ReadRange returns length bytes starting at offset.
func (r *WindowReader) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > r.size {
		return nil, fmt.Errorf("read %s [%d,%d) outside object of %d bytes", r.key, offset, offset+length, r.size)
	}
	out := make([]byte, 0, length)
	for pos := offset; pos < offset+length; {
		start := pos - pos%r.window
		data, err := r.windowAt(ctx, start)
		if err != nil {
			return nil, err
		}
		from := pos - start
		to := int64(len(data))
		if rem := offset + length - start; rem < to {
			to = rem
		}
		out = append(out, data[from:to]...)
		pos = start + to
	}
	return out, nil
}

func (r *WindowReader) windowAt(ctx context.Context, start int64) ([]byte, error) {
	if r.cache != nil {
		if data, ok := r.cache.GetRange(r.key, start); ok {
			return data, nil
		}
	}
	end := start + r.window - 1
	if end >= r.size {
		end = r.size - 1
	}
	data, err := r.s3.DownloadObject(ctx, r.key, &ObjectRange{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != end-start+1 {
		return nil, fmt.Errorf("read %s window at %d: got %d bytes, expected %d", r.key, start, len(data), end-start+1)
	}
	if r.cache != nil {
		r.cache.SetRange(r.key, start, data)
	}
	return data, nil
}

// ReaderAt binds ctx so the reader can be used where an io.ReaderAt is expected.
func (r *WindowReader) ReaderAt(ctx context.Context) io.ReaderAt {
	return readerAt{ctx: ctx, r: r}
}

type readerAt struct {
	ctx context.Context
	r   *WindowReader
}

func (a readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= a.r.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	short := false
	if off+n > a.r.size {
		n = a.r.size - off
		short = true
	}
	data, err := a.r.ReadRange(a.ctx, off, n)
	if err != nil {
		return 0, err
	}
	copy(p, data)
	if short {
		return len(data), io.EOF
	}
	return len(data), nil
}
