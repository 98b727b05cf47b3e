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

// Package pixel describes the SICD/SIDD pixel types and how each maps onto
// NITF bands.
package pixel

import (
	"fmt"
	"strings"
)

// Type identifies a SICD or SIDD pixel layout.
type Type int

const (
	Unknown Type = iota
	RE32F_IM32F
	RE16I_IM16I
	AMP8I_PHS8I
	MONO8I
	MONO16I
	MONO8LU
	RGB8LU
	RGB24I
)

var typeNames = map[Type]string{
	RE32F_IM32F: "RE32F_IM32F",
	RE16I_IM16I: "RE16I_IM16I",
	AMP8I_PHS8I: "AMP8I_PHS8I",
	MONO8I:      "MONO8I",
	MONO16I:     "MONO16I",
	MONO8LU:     "MONO8LU",
	RGB8LU:      "RGB8LU",
	RGB24I:      "RGB24I",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType resolves a pixel type name, case-insensitively.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("unknown pixel type %q", name)
}

// MarshalText encodes t by name; Unknown encodes as the empty string.
func (t Type) MarshalText() ([]byte, error) {
	if t == Unknown {
		return []byte{}, nil
	}
	if _, ok := typeNames[t]; !ok {
		return nil, fmt.Errorf("unknown pixel type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = Unknown
		return nil
	}
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Band is the NITF band description for one band of a pixel type.
type Band struct {
	Representation string // IREPBAND
	Subcategory    string // ISUBCAT
	NumLUTs        int
}

// Info is the NITF encoding of a pixel type.
type Info struct {
	BytesPerPixel  int64
	BitsPerBand    int
	ValueType      string // PVTYPE
	Representation string // IREP
	Mode           byte   // IMODE
	Bands          []Band
}

// Describe returns the NITF band layout for t.
func Describe(t Type) (Info, error) {
	switch t {
	case RE32F_IM32F:
		return Info{BytesPerPixel: 8, BitsPerBand: 32, ValueType: "R", Representation: "NODISPLY", Mode: 'P', Bands: iq()}, nil
	case RE16I_IM16I:
		return Info{BytesPerPixel: 4, BitsPerBand: 16, ValueType: "SI", Representation: "NODISPLY", Mode: 'P', Bands: iq()}, nil
	case AMP8I_PHS8I:
		return Info{BytesPerPixel: 2, BitsPerBand: 8, ValueType: "INT", Representation: "NODISPLY", Mode: 'P', Bands: []Band{
			{Subcategory: "M"},
			{Subcategory: "P"},
		}}, nil
	case MONO8I:
		return Info{BytesPerPixel: 1, BitsPerBand: 8, ValueType: "INT", Representation: "MONO", Mode: 'B', Bands: []Band{{Representation: "M"}}}, nil
	case MONO16I:
		return Info{BytesPerPixel: 2, BitsPerBand: 16, ValueType: "INT", Representation: "MONO", Mode: 'B', Bands: []Band{{Representation: "M"}}}, nil
	case MONO8LU:
		// high and low order bytes of 16-bit display values live in two LUTs
		return Info{BytesPerPixel: 1, BitsPerBand: 8, ValueType: "INT", Representation: "MONO", Mode: 'B', Bands: []Band{{Representation: "LU", NumLUTs: 2}}}, nil
	case RGB8LU:
		return Info{BytesPerPixel: 1, BitsPerBand: 8, ValueType: "INT", Representation: "RGB/LUT", Mode: 'B', Bands: []Band{{Representation: "LU", NumLUTs: 3}}}, nil
	case RGB24I:
		return Info{BytesPerPixel: 3, BitsPerBand: 8, ValueType: "INT", Representation: "RGB", Mode: 'P', Bands: []Band{
			{Representation: "R"},
			{Representation: "G"},
			{Representation: "B"},
		}}, nil
	default:
		return Info{}, fmt.Errorf("unknown pixel type %s", t)
	}
}

func iq() []Band {
	return []Band{{Subcategory: "I"}, {Subcategory: "Q"}}
}

// BytesPerPixel is shorthand for Describe(t).BytesPerPixel.
func BytesPerPixel(t Type) (int64, error) {
	info, err := Describe(t)
	if err != nil {
		return 0, err
	}
	return info.BytesPerPixel, nil
}

// LUT is a display lookup table with entry-interleaved elements, as carried
// in SIDD remap information.
type LUT struct {
	NumEntries  int    `json:"num_entries"`
	ElementSize int    `json:"element_size"`
	Table       []byte `json:"table"`
}

// BandSequential transposes the table so that element j of every entry is
// contiguous, the order NITF expects for multi-LUT bands.
func (l LUT) BandSequential() ([]byte, error) {
	if l.NumEntries <= 0 || l.ElementSize <= 0 {
		return nil, fmt.Errorf("lut dimensions %dx%d invalid", l.NumEntries, l.ElementSize)
	}
	if len(l.Table) != l.NumEntries*l.ElementSize {
		return nil, fmt.Errorf("lut table has %d bytes, expected %d", len(l.Table), l.NumEntries*l.ElementSize)
	}
	out := make([]byte, len(l.Table))
	k := 0
	for i := 0; i < l.NumEntries; i++ {
		for j := 0; j < l.ElementSize; j++ {
			out[j*l.NumEntries+i] = l.Table[k]
			k++
		}
	}
	return out, nil
}
