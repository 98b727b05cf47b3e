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

package pixel

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestDescribeBands(t *testing.T) {
	cases := []struct {
		typ   Type
		bpp   int64
		bands int
	}{
		{RE32F_IM32F, 8, 2},
		{RE16I_IM16I, 4, 2},
		{AMP8I_PHS8I, 2, 2},
		{MONO8I, 1, 1},
		{MONO16I, 2, 1},
		{MONO8LU, 1, 1},
		{RGB8LU, 1, 1},
		{RGB24I, 3, 3},
	}
	for _, tc := range cases {
		info, err := Describe(tc.typ)
		if err != nil {
			t.Fatalf("Describe(%s): %v", tc.typ, err)
		}
		if info.BytesPerPixel != tc.bpp {
			t.Fatalf("%s: expected %d bytes per pixel got %d", tc.typ, tc.bpp, info.BytesPerPixel)
		}
		if len(info.Bands) != tc.bands {
			t.Fatalf("%s: expected %d bands got %d", tc.typ, tc.bands, len(info.Bands))
		}
		if int64(info.BitsPerBand*len(info.Bands)/8) != tc.bpp && info.Bands[0].NumLUTs == 0 {
			t.Fatalf("%s: bits per band inconsistent with pixel size", tc.typ)
		}
	}
	if _, err := Describe(Unknown); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestTypeText(t *testing.T) {
	var payload struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal([]byte(`{"type":"re16i_im16i"}`), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Type != RE16I_IM16I {
		t.Fatalf("unexpected type %s", payload.Type)
	}
	out, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"type":"RE16I_IM16I"}` {
		t.Fatalf("unexpected json %s", out)
	}
}

func TestLUTBandSequential(t *testing.T) {
	lut := LUT{NumEntries: 3, ElementSize: 2, Table: []byte{1, 2, 3, 4, 5, 6}}
	got, err := lut.BandSequential()
	if err != nil {
		t.Fatalf("BandSequential: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 3, 5, 2, 4, 6}) {
		t.Fatalf("unexpected table %v", got)
	}
	if _, err := (LUT{NumEntries: 2, ElementSize: 3, Table: []byte{1}}).BandSequential(); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}
