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

// Package geo holds the geodetic types shared by segment planning and header
// rendering, plus a WGS-84 converter between geodetic and Earth-centered
// Cartesian coordinates.
package geo

// LatLonAlt is a geodetic position in degrees and meters above the ellipsoid.
type LatLonAlt struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
	Alt float64 `json:"alt,omitempty" yaml:"alt"`
}

// Vector3 is an Earth-centered Earth-fixed position in meters.
type Vector3 struct {
	X float64
	Y float64
	Z float64
}

// Add returns v + o.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Scale returns s * v.
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Corner indexes follow the NITF IGEOLO order.
const (
	FirstRowFirstCol = 0
	FirstRowLastCol  = 1
	LastRowLastCol   = 2
	LastRowFirstCol  = 3
)

// Corners are the four image corners in IGEOLO order.
type Corners [4]LatLonAlt

// Converter translates between geodetic and ECEF coordinates.
type Converter interface {
	ToECEF(p LatLonAlt) Vector3
	FromECEF(v Vector3) LatLonAlt
}

// Blend returns w1*a + w2*b computed in ECEF space.
func Blend(conv Converter, a, b LatLonAlt, w1, w2 float64) LatLonAlt {
	ecef := conv.ToECEF(a).Scale(w1).Add(conv.ToECEF(b).Scale(w2))
	return conv.FromECEF(ecef)
}
