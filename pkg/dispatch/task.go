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

package dispatch

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/novatechflow/nitfscale/pkg/layout"
)

// ErrInvalidTask is returned for tasks that cannot be decoded or do not name a row range.
var ErrInvalidTask = errors.New("invalid row task")

// RowTask asks one producer to write rows [FirstRow, EndRow) of one image.
// Tasks never span a segment boundary.
type RowTask struct {
	Job      string
	Image    int32
	FirstRow int64
	EndRow   int64
	Attempt  int32
}

// NumRows is the row count of the task.
func (t RowTask) NumRows() int64 {
	return t.EndRow - t.FirstRow
}

// Key partitions tasks of one image segment onto the same partition.
func (t RowTask) Key() []byte {
	return []byte(fmt.Sprintf("%s/%d/%d", t.Job, t.Image, t.FirstRow))
}

func (t RowTask) validate() error {
	if t.Job == "" || t.Image < 0 || t.FirstRow < 0 || t.EndRow <= t.FirstRow || t.Attempt < 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidTask, t)
	}
	return nil
}

// PlanTasks splits every image segment of l into tasks of at most
// rowsPerTask rows. Zero means one task per segment.
func PlanTasks(job string, l *layout.Layout, rowsPerTask int64) []RowTask {
	var out []RowTask
	for i, img := range l.Images {
		for _, seg := range img.Segments {
			step := rowsPerTask
			if step <= 0 || step > seg.Info.NumRows {
				step = seg.Info.NumRows
			}
			for r := seg.Info.FirstRow; r < seg.Info.EndRow(); r += step {
				out = append(out, RowTask{
					Job:      job,
					Image:    int32(i),
					FirstRow: r,
					EndRow:   min(r+step, seg.Info.EndRow()),
				})
			}
		}
	}
	return out
}

const (
	fieldJob      protowire.Number = 1
	fieldImage    protowire.Number = 2
	fieldFirstRow protowire.Number = 3
	fieldEndRow   protowire.Number = 4
	fieldAttempt  protowire.Number = 5
)

// EncodeTask serializes a task in protobuf wire format.
func EncodeTask(t RowTask) []byte {
	b := make([]byte, 0, 32+len(t.Job))
	b = protowire.AppendTag(b, fieldJob, protowire.BytesType)
	b = protowire.AppendString(b, t.Job)
	b = protowire.AppendTag(b, fieldImage, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Image))
	b = protowire.AppendTag(b, fieldFirstRow, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.FirstRow))
	b = protowire.AppendTag(b, fieldEndRow, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.EndRow))
	if t.Attempt > 0 {
		b = protowire.AppendTag(b, fieldAttempt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.Attempt))
	}
	return b
}

// DecodeTask parses bytes produced by EncodeTask. Unknown fields are skipped.
func DecodeTask(data []byte) (RowTask, error) {
	var t RowTask
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return RowTask{}, fmt.Errorf("%w: tag: %v", ErrInvalidTask, protowire.ParseError(n))
		}
		data = data[n:]
		if num == fieldJob && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return RowTask{}, fmt.Errorf("%w: job: %v", ErrInvalidTask, protowire.ParseError(n))
			}
			t.Job = v
			data = data[n:]
			continue
		}
		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return RowTask{}, fmt.Errorf("%w: field %d: %v", ErrInvalidTask, num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return RowTask{}, fmt.Errorf("%w: field %d: %v", ErrInvalidTask, num, protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldImage:
			t.Image = int32(v)
		case fieldFirstRow:
			t.FirstRow = int64(v)
		case fieldEndRow:
			t.EndRow = int64(v)
		case fieldAttempt:
			t.Attempt = int32(v)
		}
	}
	if err := t.validate(); err != nil {
		return RowTask{}, err
	}
	return t, nil
}
