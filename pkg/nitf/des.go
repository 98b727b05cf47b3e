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

	"github.com/novatechflow/nitfscale/pkg/geo"
)

const (
	desSubheaderFixed = 200
	// XMLDataContentLength is the size of the XML_DATA_CONTENT user subheader.
	XMLDataContentLength = 773
	// XMLDataContentID is the DESID of SICD/SIDD XML segments.
	XMLDataContentID = "XML_DATA_CONTENT"
)

// DESSubheader is a data extension subheader with an opaque user subheader.
type DESSubheader struct {
	ID            string   `json:"id,omitempty" yaml:"id"`
	Version       int64    `json:"version,omitempty" yaml:"version"`
	Security      Security `json:"security" yaml:"security"`
	UserSubheader []byte   `json:"user_subheader,omitempty" yaml:"user_subheader"`
}

// Length returns LDSH.
func (d DESSubheader) Length() int64 {
	return desSubheaderFixed + int64(len(d.UserSubheader))
}

// Render produces the subheader bytes.
func (d DESSubheader) Render() ([]byte, error) {
	id := orDefault(d.ID, XMLDataContentID)
	if id == "TRE_OVERFLOW" {
		return nil, fmt.Errorf("%w: TRE_OVERFLOW extensions are not written", ErrInvalidField)
	}
	version := d.Version
	if version == 0 {
		version = 1
	}
	w := newFieldWriter(d.Length())
	w.text("DE", 2, "DE")
	w.text("DESID", 25, id)
	w.num("DESVER", 2, version)
	d.Security.write(w, "DES")
	w.num("DESSHL", 4, int64(len(d.UserSubheader)))
	w.raw(d.UserSubheader)
	return w.finish("des subheader", d.Length())
}

// XMLDataContent is the user subheader describing an XML payload and its
// geographic footprint.
type XMLDataContent struct {
	CRC               int64       `json:"crc,omitempty" yaml:"crc"`
	ContentType       string      `json:"content_type,omitempty" yaml:"content_type"`
	DateTime          time.Time   `json:"date_time" yaml:"date_time"`
	RootParty         string      `json:"root_party,omitempty" yaml:"root_party"`
	SpecID            string      `json:"spec_id,omitempty" yaml:"spec_id"`
	SpecVersion       string      `json:"spec_version,omitempty" yaml:"spec_version"`
	SpecDate          string      `json:"spec_date,omitempty" yaml:"spec_date"`
	TargetNamespace   string      `json:"target_namespace,omitempty" yaml:"target_namespace"`
	Footprint         geo.Corners `json:"footprint" yaml:"footprint"`
	LocationPointType string      `json:"location_point_type,omitempty" yaml:"location_point_type"`
	LocationID        string      `json:"location_id,omitempty" yaml:"location_id"`
	LocationIDNS      string      `json:"location_id_namespace,omitempty" yaml:"location_id_namespace"`
	Abstract          string      `json:"abstract,omitempty" yaml:"abstract"`
}

// Render produces the 773 byte user subheader. A zero CRC renders as 99999
// (not computed).
func (x XMLDataContent) Render() ([]byte, error) {
	crc := x.CRC
	if crc == 0 {
		crc = 99999
	}
	w := newFieldWriter(XMLDataContentLength)
	w.num("DESCRC", 5, crc)
	w.text("DESSHFT", 8, orDefault(x.ContentType, "XML"))
	dt := ""
	if !x.DateTime.IsZero() {
		dt = x.DateTime.UTC().Format("2006-01-02T15:04:05Z")
	}
	w.text("DESSHDT", 20, dt)
	w.text("DESSHRP", 40, x.RootParty)
	w.text("DESSHSI", 60, x.SpecID)
	w.text("DESSHSV", 10, x.SpecVersion)
	w.text("DESSHSD", 20, x.SpecDate)
	w.text("DESSHTN", 120, x.TargetNamespace)
	w.text("DESSHLPG", 125, formatPolygon(x.Footprint))
	w.text("DESSHLPT", 25, x.LocationPointType)
	w.text("DESSHLI", 20, x.LocationID)
	w.text("DESSHLIN", 120, x.LocationIDNS)
	w.text("DESSHABS", 200, x.Abstract)
	return w.finish("xml data content", XMLDataContentLength)
}

// formatPolygon writes the closed footprint ring: four corners and the first again.
func formatPolygon(c geo.Corners) string {
	out := make([]byte, 0, 125)
	for i := 0; i <= len(c); i++ {
		p := c[i%len(c)]
		out = fmt.Appendf(out, "%+012.8f%+013.8f", clampDeg(p.Lat, 90), clampDeg(p.Lon, 180))
	}
	return string(out)
}
