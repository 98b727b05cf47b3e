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

package geo

import "math"

const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84B  = wgs84A * (1 - wgs84F)
	wgs84E2 = wgs84F * (2 - wgs84F)
	// second eccentricity squared
	wgs84EP2 = wgs84E2 / (1 - wgs84E2)
)

// WGS84 converts on the WGS-84 ellipsoid.
var WGS84 Converter = wgs84{}

type wgs84 struct{}

func (wgs84) ToECEF(p LatLonAlt) Vector3 {
	lat := p.Lat * math.Pi / 180
	lon := p.Lon * math.Pi / 180
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return Vector3{
		X: (n + p.Alt) * cosLat * cosLon,
		Y: (n + p.Alt) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + p.Alt) * sinLat,
	}
}

// FromECEF uses Bowring's method followed by two fixed-point refinements.
func (wgs84) FromECEF(v Vector3) LatLonAlt {
	p := math.Hypot(v.X, v.Y)
	lon := math.Atan2(v.Y, v.X)

	theta := math.Atan2(v.Z*wgs84A, p*wgs84B)
	sinT, cosT := math.Sincos(theta)
	lat := math.Atan2(v.Z+wgs84EP2*wgs84B*sinT*sinT*sinT, p-wgs84E2*wgs84A*cosT*cosT*cosT)

	if p > 0 {
		for i := 0; i < 2; i++ {
			n, alt := heightAbove(lat, p, v.Z)
			lat = math.Atan2(v.Z, p*(1-wgs84E2*n/(n+alt)))
		}
	}
	_, alt := heightAbove(lat, p, v.Z)

	return LatLonAlt{
		Lat: lat * 180 / math.Pi,
		Lon: lon * 180 / math.Pi,
		Alt: alt,
	}
}

func heightAbove(lat, p, z float64) (float64, float64) {
	sinLat, cosLat := math.Sincos(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	if math.Abs(cosLat) > 1e-10 {
		return n, p/cosLat - n
	}
	return n, math.Abs(z) - n*(1-wgs84E2)
}
