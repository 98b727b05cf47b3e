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

package storage

import "path"

// RowIndexEntry locates the pixel data of one image segment in a finished file.
type RowIndexEntry struct {
	Image      int32
	Segment    int32
	FirstRow   int64
	NumRows    int64
	DataOffset int64
	DataLength int64
}

// EndRow is the exclusive last row covered by the entry.
func (e RowIndexEntry) EndRow() int64 {
	return e.FirstRow + e.NumRows
}

// OutputKey returns the object key of a job's finished container.
func OutputKey(namespace, job, name string) string {
	if namespace == "" {
		namespace = "default"
	}
	return path.Join(namespace, job, name)
}

// IndexKey returns the object key of the sidecar row index of a container.
func IndexKey(outputKey string) string {
	return outputKey + ".rix"
}
