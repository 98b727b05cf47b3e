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

package metadata

// RowGap is a row range of one image that no record covers.
type RowGap struct {
	Image    int32 `json:"image"`
	FirstRow int64 `json:"first_row"`
	EndRow   int64 `json:"end_row"`
}

// MissingRows returns the rows of each image not covered by recs. numRows
// holds the row count per image; recs may overlap and arrive in any order.
func MissingRows(recs []RangeRecord, numRows []int64) []RowGap {
	sorted := append([]RangeRecord(nil), recs...)
	sortRecords(sorted)
	var gaps []RowGap
	next := 0
	for image, rows := range numRows {
		var cursor int64
		for next < len(sorted) && int(sorted[next].Image) < image {
			next++
		}
		for ; next < len(sorted) && int(sorted[next].Image) == image; next++ {
			rec := sorted[next]
			if rec.FirstRow > cursor && cursor < rows {
				gaps = append(gaps, RowGap{Image: int32(image), FirstRow: cursor, EndRow: min(rec.FirstRow, rows)})
			}
			if rec.EndRow > cursor {
				cursor = rec.EndRow
			}
		}
		if cursor < rows {
			gaps = append(gaps, RowGap{Image: int32(image), FirstRow: cursor, EndRow: rows})
		}
	}
	return gaps
}

// Complete reports whether recs cover every row of every image.
func Complete(recs []RangeRecord, numRows []int64) bool {
	return len(MissingRows(recs, numRows)) == 0
}
