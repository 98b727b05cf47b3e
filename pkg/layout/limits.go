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

package layout

import (
	"fmt"

	"github.com/novatechflow/nitfscale/pkg/segment"
)

// Limits are the capacities of the fixed-width length and count fields.
type Limits struct {
	FileHeader       int64
	ImageSubheader   int64
	ImageData        int64
	DESSubheader     int64
	DESData          int64
	File             int64
	MaxImageSegments int
	MaxDES           int
}

// NITF21Limits are the NITF 2.1 capacities: HL(6), LISH(6), LI(10), LDSH(4),
// LD(9), FL(12), NUMI(3), NUMDES(3).
var NITF21Limits = Limits{
	FileHeader:       999_999,
	ImageSubheader:   999_999,
	ImageData:        9_999_999_999,
	DESSubheader:     9_999,
	DESData:          999_999_999,
	File:             999_999_999_999,
	MaxImageSegments: 999,
	MaxDES:           999,
}

func (lim Limits) check(name string, length, capacity int64) error {
	if length < 0 {
		return fmt.Errorf("%w: %s length %d is negative", segment.ErrInvalidConfiguration, name, length)
	}
	if length > capacity {
		return fmt.Errorf("%w: %s length %d exceeds field capacity %d", ErrLayoutOverflow, name, length, capacity)
	}
	return nil
}

func (lim Limits) checkCounts(sizes Sizes) error {
	var segments int
	for _, img := range sizes.Images {
		if img.Plan != nil {
			segments += len(img.Plan.Segments)
		}
	}
	if segments > lim.MaxImageSegments {
		return fmt.Errorf("%w: %d image segments exceed the limit of %d", ErrLayoutOverflow, segments, lim.MaxImageSegments)
	}
	if len(sizes.DES) > lim.MaxDES {
		return fmt.Errorf("%w: %d data extensions exceed the limit of %d", ErrLayoutOverflow, len(sizes.DES), lim.MaxDES)
	}
	return nil
}
