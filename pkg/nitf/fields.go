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

// Package nitf renders the fixed-width NITF 2.1 file header, image
// subheaders and data extension subheaders. Every length is known before
// rendering so a layout can be fixed first.
package nitf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/novatechflow/nitfscale/pkg/layout"
)

// ErrInvalidField is returned for values that are not valid NITF BCS-A text.
var ErrInvalidField = errors.New("invalid nitf field")

const dateTimeLayout = "20060102150405"

// fieldWriter appends fixed-width fields and keeps the first error.
type fieldWriter struct {
	buf []byte
	err error
}

func newFieldWriter(size int64) *fieldWriter {
	return &fieldWriter{buf: make([]byte, 0, size)}
}

// text writes v left justified and space filled.
func (w *fieldWriter) text(name string, width int, v string) {
	if w.err != nil {
		return
	}
	if len(v) > width {
		w.err = fmt.Errorf("%w: %s value %q exceeds %d bytes", layout.ErrLayoutOverflow, name, v, width)
		return
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x20 || v[i] > 0x7e {
			w.err = fmt.Errorf("%w: %s contains byte 0x%02x", ErrInvalidField, name, v[i])
			return
		}
	}
	w.buf = append(w.buf, v...)
	for i := len(v); i < width; i++ {
		w.buf = append(w.buf, ' ')
	}
}

// num writes v right justified and zero filled.
func (w *fieldWriter) num(name string, width int, v int64) {
	if w.err != nil {
		return
	}
	if v < 0 {
		w.err = fmt.Errorf("%w: %s value %d is negative", ErrInvalidField, name, v)
		return
	}
	s := strconv.FormatInt(v, 10)
	if len(s) > width {
		w.err = fmt.Errorf("%w: %s value %d exceeds %d digits", layout.ErrLayoutOverflow, name, v, width)
		return
	}
	for i := len(s); i < width; i++ {
		w.buf = append(w.buf, '0')
	}
	w.buf = append(w.buf, s...)
}

func (w *fieldWriter) date(name string, t time.Time) {
	if t.IsZero() {
		w.text(name, 14, strings.Repeat("-", 14))
		return
	}
	w.text(name, 14, t.UTC().Format(dateTimeLayout))
}

func (w *fieldWriter) raw(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

func (w *fieldWriter) finish(what string, want int64) ([]byte, error) {
	if w.err != nil {
		return nil, fmt.Errorf("render %s: %w", what, w.err)
	}
	if int64(len(w.buf)) != want {
		return nil, fmt.Errorf("render %s: produced %d bytes, expected %d", what, len(w.buf), want)
	}
	return w.buf, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
