// Copyright © 2024 The PyIR Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package report

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Record is the structured result of one query. Fields keep the order in
// which they were set, and are written out in that order.
type Record struct {
	keys []string
	vals map[string]interface{}
}

// NewRecord returns an empty Record.
func NewRecord() *Record {
	return &Record{
		keys: make([]string, 0, 64),
		vals: make(map[string]interface{}, 64),
	}
}

// Set adds or replaces a field. A replaced field keeps its position.
func (r *Record) Set(key string, val interface{}) {
	if _, ok := r.vals[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.vals[key] = val
}

// Get returns the value of a field.
func (r *Record) Get(key string) (interface{}, bool) {
	v, ok := r.vals[key]
	return v, ok
}

// Has tells whether a field exists.
func (r *Record) Has(key string) bool {
	_, ok := r.vals[key]
	return ok
}

// String returns the value of a field if it holds a string.
func (r *Record) String(key string) (string, bool) {
	v, ok := r.vals[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the value of a numeric field. Strings are parsed,
// so "1e-10" and 1e-10 are both accepted.
func (r *Record) Float(key string) (float64, bool) {
	v, ok := r.vals[key]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Sub returns the nested record stored in a field, creating it
// if the field is absent or does not hold a record.
func (r *Record) Sub(key string) *Record {
	if v, ok := r.vals[key]; ok {
		if sub, ok := v.(*Record); ok {
			return sub
		}
	}
	sub := NewRecord()
	r.Set(key, sub)
	return sub
}

// Nested returns the nested record stored in a field, or nil.
func (r *Record) Nested(key string) *Record {
	if v, ok := r.vals[key]; ok {
		if sub, ok := v.(*Record); ok {
			return sub
		}
	}
	return nil
}

// Delete removes a field.
func (r *Record) Delete(key string) {
	if _, ok := r.vals[key]; !ok {
		return
	}
	delete(r.vals, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
}

// Keys returns field names in insertion order.
func (r *Record) Keys() []string { return r.keys }

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.keys) }

// Hits returns the hit list, or nil if the record has none.
func (r *Record) Hits() []*Hit {
	if v, ok := r.vals[FieldHits]; ok {
		if hits, ok := v.([]*Hit); ok {
			return hits
		}
	}
	return nil
}

// MarshalJSON writes fields in insertion order. HTML characters are
// not escaped, alignment header rows contain '<' and '>'.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	out := make([]byte, 0, 1024)
	out = append(out, '{')
	for i, k := range r.keys {
		if i > 0 {
			out = append(out, ',')
		}

		buf.Reset()
		if err := enc.Encode(k); err != nil {
			return nil, err
		}
		out = append(out, bytes.TrimRight(buf.Bytes(), "\n")...)
		out = append(out, ':')

		buf.Reset()
		if err := enc.Encode(r.vals[k]); err != nil {
			return nil, err
		}
		out = append(out, bytes.TrimRight(buf.Bytes(), "\n")...)
	}
	out = append(out, '}')
	return out, nil
}
