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

// SecurityLength is the size of the security group shared by the file
// header and every subheader.
const SecurityLength = 167

// Security is the NITF 2.1 security group. An empty Classification renders as "U".
type Security struct {
	Classification     string `json:"classification,omitempty" yaml:"classification"`
	System             string `json:"system,omitempty" yaml:"system"`
	Codewords          string `json:"codewords,omitempty" yaml:"codewords"`
	ControlAndHandling string `json:"control_and_handling,omitempty" yaml:"control_and_handling"`
	Releasing          string `json:"releasing,omitempty" yaml:"releasing"`
	DeclassType        string `json:"declass_type,omitempty" yaml:"declass_type"`
	DeclassDate        string `json:"declass_date,omitempty" yaml:"declass_date"`
	DeclassExemption   string `json:"declass_exemption,omitempty" yaml:"declass_exemption"`
	Downgrade          string `json:"downgrade,omitempty" yaml:"downgrade"`
	DowngradeDate      string `json:"downgrade_date,omitempty" yaml:"downgrade_date"`
	ClassificationText string `json:"classification_text,omitempty" yaml:"classification_text"`
	AuthorityType      string `json:"authority_type,omitempty" yaml:"authority_type"`
	Authority          string `json:"authority,omitempty" yaml:"authority"`
	Reason             string `json:"reason,omitempty" yaml:"reason"`
	SourceDate         string `json:"source_date,omitempty" yaml:"source_date"`
	ControlNumber      string `json:"control_number,omitempty" yaml:"control_number"`
}

// write renders the group with field names carrying prefix (FS, IS, DES).
func (s Security) write(w *fieldWriter, prefix string) {
	w.text(prefix+"CLAS", 1, orDefault(s.Classification, "U"))
	w.text(prefix+"CLSY", 2, s.System)
	w.text(prefix+"CODE", 11, s.Codewords)
	w.text(prefix+"CTLH", 2, s.ControlAndHandling)
	w.text(prefix+"REL", 20, s.Releasing)
	w.text(prefix+"DCTP", 2, s.DeclassType)
	w.text(prefix+"DCDT", 8, s.DeclassDate)
	w.text(prefix+"DCXM", 4, s.DeclassExemption)
	w.text(prefix+"DG", 1, s.Downgrade)
	w.text(prefix+"DGDT", 8, s.DowngradeDate)
	w.text(prefix+"CLTX", 43, s.ClassificationText)
	w.text(prefix+"CATP", 1, s.AuthorityType)
	w.text(prefix+"CAUT", 40, s.Authority)
	w.text(prefix+"CRSN", 1, s.Reason)
	w.text(prefix+"SRDT", 8, s.SourceDate)
	w.text(prefix+"CTLN", 15, s.ControlNumber)
}
