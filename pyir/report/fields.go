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

// Field names of records parsed from the multi-section text report.
const (
	FieldSequenceID     = "Sequence ID"
	FieldRawSequence    = "Raw Sequence"
	FieldSequenceLength = "Sequence Length"
	FieldDomain         = "Domain Classification"
	FieldHits           = "Hits"
	FieldMessage        = "Message"

	FieldTopV      = "Top V gene match"
	FieldTopD      = "Top D gene match"
	FieldTopJ      = "Top J gene match"
	FieldVFamily   = "V family"
	FieldDFamily   = "D family"
	FieldJFamily   = "J family"
	FieldVEvalue   = "Top V gene e_value"
	FieldDEvalue   = "Top D gene e_value"
	FieldJEvalue   = "Top J gene e_value"
	FieldStrand    = "Strand"
	FieldProduct   = "Productive"
	FieldStopCodon = "stop codon"
	FieldVJFrame   = "V-J frame"

	FieldJunction = "Junction details"

	FieldAlignments     = "Alignments"
	FieldAA             = "AA"
	FieldNTTrimmed      = "NT-Trimmed"
	FieldAverageQuality = "Average Quality"

	// region fields
	FieldRegionAA       = "AA"
	FieldRegionAALength = "AA_Length"
	FieldRegionNT       = "NT"
	FieldQuality        = "Quality"
	FieldLowestPhred    = "Lowest Phred"

	RegionCDR3 = "CDR3"
	RegionFR4  = "FR4"

	// set by the alignment summary, removed once regions are located
	fieldFrameworks = "Frameworks found"
)

// NotAvailable marks a missing value, e.g., no D gene in a light chain.
const NotAvailable = "N/A"

// Hit is one gene in the significant alignment list. Alignment fields are
// filled once the gene's alignment row is reconstructed.
type Hit struct {
	Gene     string  `json:"gene"`
	BitScore float64 `json:"bit_score"`
	Evalue   float64 `json:"e_value"`

	GeneType        string   `json:"gene_type,omitempty"`
	AlignmentStart  int      `json:"alignment_start,omitempty"`
	AlignmentEnd    int      `json:"alignment_end,omitempty"`
	PercentIdentity *float64 `json:"percent_identity,omitempty"`
	PercentFraction string   `json:"percent_fraction,omitempty"`
}

// Alignments holds the reconstructed alignment rows, header first,
// translation second, then the query and germline hits.
type Alignments struct {
	Strings []string `json:"strings"`
	Keys    []string `json:"keys"`
}

// Row returns the reconstructed row of a key.
func (a *Alignments) Row(key string) (string, bool) {
	for i, k := range a.Keys {
		if k == key {
			return a.Strings[i], true
		}
	}
	return "", false
}

// SeqLookup returns the raw sequence and quality string of a query.
// qual is empty for FASTA input.
type SeqLookup interface {
	Lookup(id string) (seq string, qual string, ok bool)
}
