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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrGap is returned when staged parts leave bytes of the file unwritten.
	ErrGap = errors.New("staged ranges leave a gap")
	// ErrOverlap is returned when staged parts disagree on shared bytes or
	// extend past the end of the file.
	ErrOverlap = errors.New("staged ranges overlap")
)

// RangeStore stages absolute file ranges as individual objects under a job
// prefix. Parts are immutable; rewriting a range replaces an identical key.
type RangeStore struct {
	s3     S3Client
	prefix string
	onS3Op func(string, time.Duration, error)
}

// NewRangeStore returns a store writing below namespace/job/ranges.
func NewRangeStore(s3Client S3Client, namespace, job string, onS3Op func(string, time.Duration, error)) *RangeStore {
	if namespace == "" {
		namespace = "default"
	}
	return &RangeStore{
		s3:     s3Client,
		prefix: path.Join(namespace, job, "ranges") + "/",
		onS3Op: onS3Op,
	}
}

// Prefix returns the object prefix holding the staged parts.
func (s *RangeStore) Prefix() string {
	return s.prefix
}

func (s *RangeStore) partKey(offset, length int64) string {
	return s.prefix + fmt.Sprintf("range-%020d-%020d.part", offset, length)
}

func parsePartKey(key string) (int64, int64, bool) {
	name := path.Base(key)
	if !strings.HasPrefix(name, "range-") || !strings.HasSuffix(name, ".part") {
		return 0, 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, "range-"), ".part")
	offsetRaw, lengthRaw, ok := strings.Cut(raw, "-")
	if !ok {
		return 0, 0, false
	}
	offset, err := strconv.ParseInt(offsetRaw, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	length, err := strconv.ParseInt(lengthRaw, 10, 64)
	if err != nil || length <= 0 {
		return 0, 0, false
	}
	return offset, length, true
}

func (s *RangeStore) observe(op string, start time.Time, err error) {
	if s.onS3Op != nil {
		s.onS3Op(op, time.Since(start), err)
	}
}

// WriteRange stages data at offset. It satisfies provider.RangeWriter.
func (s *RangeStore) WriteRange(ctx context.Context, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	start := time.Now()
	err := s.s3.UploadObject(ctx, s.partKey(offset, int64(len(data))), data)
	s.observe("upload_range", start, err)
	return err
}

// Part is one staged range.
type Part struct {
	Key    string
	Offset int64
	Length int64
}

// End is the exclusive end offset of the part.
func (p Part) End() int64 {
	return p.Offset + p.Length
}

// Parts lists staged parts in ascending offset order. Objects that are not
// parts, or whose size disagrees with their key, are ignored.
func (s *RangeStore) Parts(ctx context.Context) ([]Part, error) {
	start := time.Now()
	objects, err := s.s3.ListObjects(ctx, s.prefix)
	s.observe("list_ranges", start, err)
	if err != nil {
		return nil, err
	}
	parts := make([]Part, 0, len(objects))
	for _, obj := range objects {
		offset, length, ok := parsePartKey(obj.Key)
		if !ok || obj.Size != length {
			continue
		}
		parts = append(parts, Part{Key: obj.Key, Offset: offset, Length: length})
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].Offset != parts[j].Offset {
			return parts[i].Offset < parts[j].Offset
		}
		return parts[i].Length < parts[j].Length
	})
	return parts, nil
}

// Piece is a staged part placed in the composed file. Its first Skip bytes
// are already supplied by earlier pieces and must equal them.
type Piece struct {
	Part
	Skip int64
}

// Fresh reports whether the piece contributes bytes not covered before it.
func (p Piece) Fresh() bool {
	return p.Skip < p.Length
}

// Plan checks that parts cover [0, total) without gaps and returns them in
// file order with the leading bytes each one shares with earlier parts.
// Producers may stage the same bytes under different part boundaries, so
// overlaps are accepted here and compared byte for byte on composition.
func Plan(parts []Part, total int64) ([]Piece, error) {
	sorted := append([]Part(nil), parts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Offset != sorted[j].Offset {
			return sorted[i].Offset < sorted[j].Offset
		}
		return sorted[i].Length > sorted[j].Length
	})
	out := make([]Piece, 0, len(sorted))
	var cursor int64
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].Key == p.Key && out[n-1].Offset == p.Offset && out[n-1].Length == p.Length {
			continue
		}
		if p.Offset > cursor {
			return nil, fmt.Errorf("%w: bytes [%d,%d) missing", ErrGap, cursor, p.Offset)
		}
		piece := Piece{Part: p, Skip: min(cursor, p.End()) - p.Offset}
		out = append(out, piece)
		cursor = max(cursor, p.End())
	}
	if cursor < total {
		return nil, fmt.Errorf("%w: bytes [%d,%d) missing", ErrGap, cursor, total)
	}
	if cursor > total {
		return nil, fmt.Errorf("%w: parts extend to %d past file end %d", ErrOverlap, cursor, total)
	}
	return out, nil
}

// Compose copies every staged part into dst at its absolute offset.
func (s *RangeStore) Compose(ctx context.Context, dst io.WriterAt, total int64) error {
	return s.compose(ctx, total, func(p Piece, data []byte) error {
		_, err := dst.WriteAt(data, p.Offset+p.Skip)
		return err
	})
}

// ComposeTo streams staged parts to w in file order.
func (s *RangeStore) ComposeTo(ctx context.Context, w io.Writer, total int64) error {
	return s.compose(ctx, total, func(p Piece, data []byte) error {
		_, err := w.Write(data)
		return err
	})
}

func (s *RangeStore) compose(ctx context.Context, total int64, emit func(Piece, []byte) error) error {
	pieces, err := s.tiling(ctx, total)
	if err != nil {
		return err
	}
	for i, p := range pieces {
		data, err := s.download(ctx, p.Part)
		if err != nil {
			return err
		}
		if p.Skip > 0 {
			if err := s.verify(ctx, pieces[:i], p, data); err != nil {
				return err
			}
		}
		if !p.Fresh() {
			continue
		}
		if err := emit(p, data[p.Skip:]); err != nil {
			return fmt.Errorf("write part %s: %w", p.Key, err)
		}
	}
	return nil
}

// verify compares the shared leading bytes of p with the pieces that
// supplied them. Fresh pieces before p cover ascending contiguous ranges.
func (s *RangeStore) verify(ctx context.Context, earlier []Piece, p Piece, data []byte) error {
	shared := p.Offset + p.Skip
	for i := len(earlier) - 1; i >= 0; i-- {
		e := earlier[i]
		if !e.Fresh() {
			continue
		}
		if e.End() <= p.Offset {
			break
		}
		lo := max(e.Offset+e.Skip, p.Offset)
		hi := min(e.End(), shared)
		if hi <= lo {
			continue
		}
		start := time.Now()
		prior, err := s.s3.DownloadObject(ctx, e.Key, &ObjectRange{Start: lo - e.Offset, End: hi - e.Offset - 1})
		s.observe("download_range", start, err)
		if err != nil {
			return err
		}
		if !bytes.Equal(prior, data[lo-p.Offset:hi-p.Offset]) {
			return fmt.Errorf("%w: part %s disagrees with %s over bytes [%d,%d)", ErrOverlap, p.Key, e.Key, lo, hi)
		}
	}
	return nil
}

func (s *RangeStore) tiling(ctx context.Context, total int64) ([]Piece, error) {
	parts, err := s.Parts(ctx)
	if err != nil {
		return nil, err
	}
	return Plan(parts, total)
}

func (s *RangeStore) download(ctx context.Context, p Part) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := s.s3.DownloadObject(ctx, p.Key, nil)
	s.observe("download_range", start, err)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != p.Length {
		return nil, fmt.Errorf("part %s holds %d bytes, expected %d", p.Key, len(data), p.Length)
	}
	return data, nil
}

// Cleanup deletes every staged part.
func (s *RangeStore) Cleanup(ctx context.Context) error {
	parts, err := s.Parts(ctx)
	if err != nil {
		return err
	}
	for _, p := range parts {
		start := time.Now()
		err := s.s3.DeleteObject(ctx, p.Key)
		s.observe("delete_range", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}
