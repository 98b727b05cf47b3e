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

package product

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ManifestVersion is the current manifest encoding version.
const ManifestVersion = 1

// ErrFingerprintMismatch is returned when a manifest rebuilds to a different layout.
var ErrFingerprintMismatch = errors.New("product fingerprint mismatch")

// Manifest is the shareable form of a product. Any process that rebuilds it
// obtains the same layout and header bytes.
type Manifest struct {
	Version     int    `json:"version"`
	Job         string `json:"job"`
	Spec        Spec   `json:"spec"`
	Fingerprint string `json:"fingerprint"`
	TotalLength int64  `json:"total_length"`
}

// Manifest returns the manifest of p for job.
func (p *Product) Manifest(job string) Manifest {
	return Manifest{
		Version:     ManifestVersion,
		Job:         job,
		Spec:        p.Spec,
		Fingerprint: p.Fingerprint(),
		TotalLength: p.Layout.TotalLength,
	}
}

// Fingerprint hashes every region placement and every metadata byte.
func (p *Product) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	put := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	for _, r := range p.Layout.Regions() {
		put(int64(r.Kind))
		put(r.Offset)
		put(r.Length)
	}
	for _, r := range p.Provider.MetadataRanges() {
		put(r.Offset)
		h.Write(r.Source.Bytes)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Encode serializes the manifest as JSON.
func (m Manifest) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeManifest parses a manifest produced by Encode.
func DecodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return Manifest{}, fmt.Errorf("decode manifest: unsupported version %d", m.Version)
	}
	return m, nil
}

// FromManifest rebuilds the product and checks it against the recorded fingerprint.
func FromManifest(m Manifest) (*Product, error) {
	p, err := Build(m.Spec)
	if err != nil {
		return nil, fmt.Errorf("rebuild job %s: %w", m.Job, err)
	}
	if m.Fingerprint != "" && p.Fingerprint() != m.Fingerprint {
		return nil, fmt.Errorf("%w: job %s recorded %s, rebuilt %s", ErrFingerprintMismatch, m.Job, m.Fingerprint, p.Fingerprint())
	}
	return p, nil
}
