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

package util

import (
	"math"
	"strings"

	"github.com/shenwei356/bio/seq"
	"gonum.org/v1/gonum/stat"
)

// PhredOffset is the ASCII offset of Sanger/Illumina 1.8+ quality strings.
const PhredOffset = 33

// MaxPhred is returned by MinPhred for an empty quality string.
const MaxPhred = 100

// MinPhred returns the lowest Phred score in a quality string.
func MinPhred(qual string) int {
	lowest := MaxPhred
	var q int
	for i := 0; i < len(qual); i++ {
		q = int(qual[i]) - PhredOffset
		if q < lowest {
			lowest = q
		}
	}
	return lowest
}

// MeanPhred returns the mean Phred score of a quality string,
// rounded to 2 decimal places.
func MeanPhred(qual string) float64 {
	if len(qual) == 0 {
		return 0
	}
	vals := make([]float64, len(qual))
	for i := 0; i < len(qual); i++ {
		vals[i] = float64(int(qual[i]) - PhredOffset)
	}
	return Round(stat.Mean(vals, nil), 2)
}

// Round rounds a float to n decimal places.
func Round(v float64, n int) float64 {
	p := math.Pow10(n)
	return math.Round(v*p) / p
}

// MeanStdev returns the mean and the sample standard deviation.
func MeanStdev(values []float64) (float64, float64) {
	switch len(values) {
	case 0:
		return 0, 0
	case 1:
		return values[0], 0
	}
	return stat.MeanStdDev(values, nil)
}

// RevComp returns the reverse complement of a nucleotide sequence.
// IUPAC ambiguity codes are supported.
func RevComp(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	q, err := seq.NewSeqWithoutValidation(seq.DNAredundant, []byte(s))
	if err != nil {
		return "", err
	}
	q.RevComInplace()
	return string(q.Seq), nil
}

// RemoveGaps deletes alignment gap characters.
func RemoveGaps(s string) string {
	if strings.IndexByte(s, '-') < 0 {
		return s
	}
	return strings.ReplaceAll(s, "-", "")
}

// StringSplitNByByte splits s by sep into at most n items, reusing a.
func StringSplitNByByte(s string, sep byte, n int, a *[]string) {
	if a == nil {
		tmp := make([]string, n)
		a = &tmp
	}
	if cap(*a) < n {
		*a = make([]string, n)
	}
	*a = (*a)[:n]

	n--
	i := 0
	for i < n {
		m := strings.IndexByte(s, sep)
		if m < 0 {
			break
		}
		(*a)[i] = s[:m]
		s = s[m+1:]
		i++
	}
	(*a)[i] = s

	(*a) = (*a)[:i+1]
}

// BeforeByte returns the part of s before the first sep, or s itself.
func BeforeByte(s string, sep byte) string {
	if i := strings.IndexByte(s, sep); i >= 0 {
		return s[:i]
	}
	return s
}

// SafeSlice returns s[start:end] with both bounds clamped to the string.
func SafeSlice(s string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(s) {
		end = len(s)
	}
	if start >= end {
		return ""
	}
	return s[start:end]
}
