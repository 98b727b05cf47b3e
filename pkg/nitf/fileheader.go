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
	"time"

	"github.com/novatechflow/nitfscale/pkg/layout"
)

const (
	fileHeaderFixed  = 388
	imageIndexEntry  = 16 // LISH + LI
	desIndexEntry    = 13 // LDSH + LD
	maxSegmentsCount = 999
)

// FileHeader holds the caller-chosen file header fields. Lengths, counts and,
// when ComplexityLevel is zero, CLEVEL are taken from the layout.
type FileHeader struct {
	ComplexityLevel int       `json:"complexity_level,omitempty" yaml:"complexity_level"`
	SystemType      string    `json:"system_type,omitempty" yaml:"system_type"`
	OriginStationID string    `json:"origin_station_id,omitempty" yaml:"origin_station_id"`
	DateTime        time.Time `json:"date_time" yaml:"date_time"`
	Title           string    `json:"title,omitempty" yaml:"title"`
	Security        Security  `json:"security" yaml:"security"`
	CopyNumber      int64     `json:"copy_number,omitempty" yaml:"copy_number"`
	NumCopies       int64     `json:"num_copies,omitempty" yaml:"num_copies"`
	Background      [3]byte   `json:"background" yaml:"background"`
	OriginatorName  string    `json:"originator_name,omitempty" yaml:"originator_name"`
	OriginatorPhone string    `json:"originator_phone,omitempty" yaml:"originator_phone"`
}

// FileHeaderLength returns HL for a file with the given segment counts.
func FileHeaderLength(numImageSegments, numDES int) (int64, error) {
	if numImageSegments < 0 || numImageSegments > maxSegmentsCount {
		return 0, fmt.Errorf("%w: NUMI %d", layout.ErrLayoutOverflow, numImageSegments)
	}
	if numDES < 0 || numDES > maxSegmentsCount {
		return 0, fmt.Errorf("%w: NUMDES %d", layout.ErrLayoutOverflow, numDES)
	}
	return fileHeaderFixed + imageIndexEntry*int64(numImageSegments) + desIndexEntry*int64(numDES), nil
}

// Render produces the file header for l.
func (h FileHeader) Render(l *layout.Layout) ([]byte, error) {
	size, err := FileHeaderLength(l.NumImageSegments(), len(l.DES))
	if err != nil {
		return nil, err
	}
	if size != l.FileHeader.Length {
		return nil, fmt.Errorf("render file header: layout reserves %d bytes, header needs %d", l.FileHeader.Length, size)
	}
	clevel := h.ComplexityLevel
	if clevel == 0 {
		clevel = LayoutComplexity(l)
	}

	w := newFieldWriter(size)
	w.text("FHDR", 4, "NITF")
	w.text("FVER", 5, "02.10")
	w.num("CLEVEL", 2, int64(clevel))
	w.text("STYPE", 4, orDefault(h.SystemType, "BF01"))
	w.text("OSTAID", 10, h.OriginStationID)
	w.date("FDT", h.DateTime)
	w.text("FTITLE", 80, h.Title)
	h.Security.write(w, "FS")
	w.num("FSCOP", 5, h.CopyNumber)
	w.num("FSCPYS", 5, h.NumCopies)
	w.text("ENCRYP", 1, "0")
	w.raw(h.Background[:])
	w.text("ONAME", 24, h.OriginatorName)
	w.text("OPHONE", 18, h.OriginatorPhone)
	w.num("FL", 12, l.TotalLength)
	w.num("HL", 6, l.FileHeader.Length)

	w.num("NUMI", 3, int64(l.NumImageSegments()))
	for _, img := range l.Images {
		for _, seg := range img.Segments {
			w.num("LISH", 6, seg.Subheader.Length)
			w.num("LI", 10, seg.Data.Length)
		}
	}
	w.num("NUMS", 3, 0)
	w.num("NUMX", 3, 0)
	w.num("NUMT", 3, 0)
	w.num("NUMDES", 3, int64(len(l.DES)))
	for _, des := range l.DES {
		w.num("LDSH", 4, des.Subheader.Length)
		w.num("LD", 9, des.Data.Length)
	}
	w.num("NUMRES", 3, 0)
	w.num("UDHDL", 5, 0)
	w.num("XHDL", 5, 0)
	return w.finish("file header", size)
}
