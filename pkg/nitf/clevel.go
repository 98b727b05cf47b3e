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

import "github.com/novatechflow/nitfscale/pkg/layout"

type complexityBound struct {
	level    int
	fileSize int64
	extent   int64
}

var complexityBounds = []complexityBound{
	{level: 3, fileSize: 50 << 20, extent: 2048},
	{level: 5, fileSize: 1 << 30, extent: 8192},
	{level: 6, fileSize: 2 << 30, extent: 65536},
	{level: 7, fileSize: 10 << 30, extent: 99_999_999},
}

// ComplexityLevel returns the lowest CLEVEL admitting a file of fileSize
// bytes whose largest image segment spans extent rows or columns.
func ComplexityLevel(fileSize, extent int64) int {
	for _, b := range complexityBounds {
		if fileSize < b.fileSize && extent <= b.extent {
			return b.level
		}
	}
	return 9
}

// LayoutComplexity computes ComplexityLevel for a laid out file.
func LayoutComplexity(l *layout.Layout) int {
	var extent int64
	for _, img := range l.Images {
		for _, seg := range img.Segments {
			extent = max(extent, seg.Info.NumRows, img.Plan.Descriptor.NumCols)
		}
	}
	return ComplexityLevel(l.TotalLength, extent)
}
