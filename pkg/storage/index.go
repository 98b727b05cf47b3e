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
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/novatechflow/nitfscale/pkg/layout"
)

const (
	indexMagic     = "RIX\x00"
	indexVersion   = uint16(1)
	indexHeaderLen = 24
	indexEntryLen  = 40
)

// RowIndexFromLayout lists every image segment of l in file order.
func RowIndexFromLayout(l *layout.Layout) []RowIndexEntry {
	out := make([]RowIndexEntry, 0, l.NumImageSegments())
	for i, img := range l.Images {
		for _, seg := range img.Segments {
			out = append(out, RowIndexEntry{
				Image:      int32(i),
				Segment:    int32(seg.Info.Index),
				FirstRow:   seg.Info.FirstRow,
				NumRows:    seg.Info.NumRows,
				DataOffset: seg.Data.Offset,
				DataLength: seg.Data.Length,
			})
		}
	}
	return out
}

// BuildRowIndex encodes the index header and entries.
func BuildRowIndex(entries []RowIndexEntry, totalLength int64) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, indexHeaderLen+indexEntryLen*len(entries)))
	if _, err := buf.WriteString(indexMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, indexVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(0)); err != nil { // reserved
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, int64(len(entries))); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, totalLength); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := binary.Write(buf, binary.BigEndian, entry); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// RowIndex is a parsed sidecar index.
type RowIndex struct {
	TotalLength int64
	Entries     []RowIndexEntry
}

// ParseRowIndex validates and returns the index from serialized bytes.
func ParseRowIndex(data []byte) (*RowIndex, error) {
	if len(data) < indexHeaderLen {
		return nil, fmt.Errorf("row index too small")
	}
	if string(data[:4]) != indexMagic {
		return nil, fmt.Errorf("invalid row index magic")
	}
	reader := bytes.NewReader(data[4:])
	var version, reserved uint16
	if err := binary.Read(reader, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != indexVersion {
		return nil, fmt.Errorf("unsupported row index version %d", version)
	}
	if err := binary.Read(reader, binary.BigEndian, &reserved); err != nil {
		return nil, err
	}
	var count, total int64
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &total); err != nil {
		return nil, err
	}
	if count < 0 || int64(reader.Len()) != count*indexEntryLen {
		return nil, fmt.Errorf("row index holds %d bytes for %d entries", reader.Len(), count)
	}
	idx := &RowIndex{TotalLength: total, Entries: make([]RowIndexEntry, count)}
	for i := range idx.Entries {
		if err := binary.Read(reader, binary.BigEndian, &idx.Entries[i]); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// FindRow returns the entry holding row of image.
func (x *RowIndex) FindRow(image int, row int64) (RowIndexEntry, bool) {
	entries := x.Entries
	i := sort.Search(len(entries), func(i int) bool {
		e := entries[i]
		if int(e.Image) != image {
			return int(e.Image) > image
		}
		return e.EndRow() > row
	})
	if i == len(entries) {
		return RowIndexEntry{}, false
	}
	e := entries[i]
	if int(e.Image) != image || row < e.FirstRow {
		return RowIndexEntry{}, false
	}
	return e, true
}
