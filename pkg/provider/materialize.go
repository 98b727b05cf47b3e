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

package provider

import (
	"context"
	"fmt"
	"io"
)

// Strip is a caller-owned run of full image rows starting at FirstRow.
type Strip struct {
	FirstRow      int64
	NumCols       int64
	BytesPerPixel int64
	Data          []byte
}

// RowBytes returns the size of one strip row.
func (s Strip) RowBytes() int64 {
	return s.NumCols * s.BytesPerPixel
}

// EndRow returns the exclusive last row carried by the strip.
func (s Strip) EndRow() int64 {
	if s.RowBytes() == 0 {
		return s.FirstRow
	}
	return s.FirstRow + int64(len(s.Data))/s.RowBytes()
}

// Bytes materializes the content of r. Full-width pixel ranges alias the
// strip; blocked windows and pad ranges are freshly allocated.
func (r ByteRange) Bytes(strip Strip) ([]byte, error) {
	switch r.Source.Kind {
	case SourceHeader:
		if int64(len(r.Source.Bytes)) != r.Length {
			return nil, fmt.Errorf("%w: %s range holds %d bytes for length %d", ErrBlobMismatch, r.Source.Region, len(r.Source.Bytes), r.Length)
		}
		return r.Source.Bytes, nil
	case SourcePad:
		return make([]byte, r.Length), nil
	case SourcePixels:
		return r.pixelBytes(strip)
	default:
		return nil, fmt.Errorf("unknown range source %s", r.Source.Kind)
	}
}

func (r ByteRange) pixelBytes(strip Strip) ([]byte, error) {
	src := r.Source
	rowBytes := strip.RowBytes()
	if rowBytes <= 0 || int64(len(strip.Data))%rowBytes != 0 {
		return nil, fmt.Errorf("%w: strip of %d bytes is not whole rows of %d bytes", ErrOutOfBounds, len(strip.Data), rowBytes)
	}
	if src.FirstRow < strip.FirstRow || src.EndRow > strip.EndRow() || src.EndCol > strip.NumCols {
		return nil, fmt.Errorf("%w: range needs rows [%d,%d) cols [%d,%d), strip holds rows [%d,%d) of %d cols",
			ErrOutOfBounds, src.FirstRow, src.EndRow, src.FirstCol, src.EndCol, strip.FirstRow, strip.EndRow(), strip.NumCols)
	}
	lo := (src.FirstRow - strip.FirstRow) * rowBytes
	hi := (src.EndRow - strip.FirstRow) * rowBytes
	if src.FirstCol == 0 && src.EndCol == strip.NumCols && src.PadPerRow == 0 {
		if hi-lo != r.Length {
			return nil, fmt.Errorf("%w: range length %d for %d strip bytes", ErrOutOfBounds, r.Length, hi-lo)
		}
		return strip.Data[lo:hi], nil
	}

	width := (src.EndCol - src.FirstCol) * strip.BytesPerPixel
	if (width+src.PadPerRow)*(src.EndRow-src.FirstRow) != r.Length {
		return nil, fmt.Errorf("%w: range length %d for window %dx%d", ErrOutOfBounds, r.Length, src.EndRow-src.FirstRow, src.EndCol-src.FirstCol)
	}
	out := make([]byte, r.Length)
	pos := int64(0)
	colOff := src.FirstCol * strip.BytesPerPixel
	for row := lo; row < hi; row += rowBytes {
		copy(out[pos:pos+width], strip.Data[row+colOff:row+colOff+width])
		pos += width + src.PadPerRow
	}
	return out, nil
}

// RangeWriter persists bytes at an absolute file offset.
type RangeWriter interface {
	WriteRange(ctx context.Context, offset int64, data []byte) error
}

// WriteRanges materializes every range against strip and hands it to w.
// Empty ranges are skipped.
func WriteRanges(ctx context.Context, w RangeWriter, ranges []ByteRange, strip Strip) error {
	for _, r := range ranges {
		if r.Length == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := r.Bytes(strip)
		if err != nil {
			return err
		}
		if err := w.WriteRange(ctx, r.Offset, data); err != nil {
			return fmt.Errorf("write range [%d,%d): %w", r.Offset, r.End(), err)
		}
	}
	return nil
}

// WriterAtSink writes ranges into an io.WriterAt such as an *os.File.
type WriterAtSink struct {
	W io.WriterAt
}

// WriteRange implements RangeWriter.
func (s WriterAtSink) WriteRange(_ context.Context, offset int64, data []byte) error {
	_, err := s.W.WriteAt(data, offset)
	return err
}
