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

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

const jobPrefix = "/nitfscale/jobs"

// JobPrefix returns the etcd prefix holding every key of job.
func JobPrefix(job string) string {
	return fmt.Sprintf("%s/%s/", jobPrefix, job)
}

// ManifestKey returns the etcd key for a job manifest.
func ManifestKey(job string) string {
	return JobPrefix(job) + "manifest"
}

// RangePrefix returns the etcd prefix for a job's range records.
func RangePrefix(job string) string {
	return JobPrefix(job) + "ranges/"
}

// RangeKey returns the etcd key for one range record. Zero padding keeps
// keys in row order.
func RangeKey(job string, image int32, firstRow int64) string {
	return fmt.Sprintf("%s%04d/%020d", RangePrefix(job), image, firstRow)
}

// ParseRangeKey extracts image and first row from a range key.
func ParseRangeKey(job, key string) (int32, int64, bool) {
	prefix := RangePrefix(job)
	if !strings.HasPrefix(key, prefix) {
		return 0, 0, false
	}
	parts := strings.Split(strings.TrimPrefix(key, prefix), "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	image, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	firstRow, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return int32(image), firstRow, true
}

const (
	fieldImage     protowire.Number = 1
	fieldFirstRow  protowire.Number = 2
	fieldEndRow    protowire.Number = 3
	fieldProducer  protowire.Number = 4
	fieldWrittenAt protowire.Number = 5
)

// EncodeRangeRecord serializes a record in protobuf wire format.
func EncodeRangeRecord(rec RangeRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldImage, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Image))
	b = protowire.AppendTag(b, fieldFirstRow, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.FirstRow))
	b = protowire.AppendTag(b, fieldEndRow, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.EndRow))
	if rec.Producer != "" {
		b = protowire.AppendTag(b, fieldProducer, protowire.BytesType)
		b = protowire.AppendString(b, rec.Producer)
	}
	if !rec.WrittenAt.IsZero() {
		b = protowire.AppendTag(b, fieldWrittenAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(rec.WrittenAt.UnixNano()))
	}
	return b
}

// DecodeRangeRecord parses bytes produced by EncodeRangeRecord. Unknown
// fields are skipped.
func DecodeRangeRecord(data []byte) (RangeRecord, error) {
	var rec RangeRecord
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return RangeRecord{}, fmt.Errorf("decode range record tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case typ == protowire.VarintType && num != fieldProducer:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return RangeRecord{}, fmt.Errorf("decode range record field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case fieldImage:
				rec.Image = int32(v)
			case fieldFirstRow:
				rec.FirstRow = int64(v)
			case fieldEndRow:
				rec.EndRow = int64(v)
			case fieldWrittenAt:
				rec.WrittenAt = time.Unix(0, int64(v)).UTC()
			}
		case typ == protowire.BytesType && num == fieldProducer:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return RangeRecord{}, fmt.Errorf("decode range record producer: %w", protowire.ParseError(n))
			}
			data = data[n:]
			rec.Producer = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return RangeRecord{}, fmt.Errorf("skip range record field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if err := rec.validate(); err != nil {
		return RangeRecord{}, err
	}
	return rec, nil
}
