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

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/crowelab/PyIR/pyir/config"
	"github.com/crowelab/PyIR/pyir/igblast"
	"github.com/crowelab/PyIR/pyir/output"
	"github.com/crowelab/PyIR/pyir/partition"
	"github.com/crowelab/PyIR/pyir/report"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse existing IgBLAST reports",
	Long: `Parse existing IgBLAST reports

Reports produced by IgBLAST elsewhere are parsed and filtered the same way as
the run command does, without running IgBLAST.

Input:
  1. AIRR tabular reports (-outfmt 19) by default, or the multi-section text
     reports (-outfmt 3) with --legacy.
  2. For legacy reports, the query sequences can be given via -s/--seqs, which
     is needed for reconstructing the query of alignments and for CDR3 qualities
     of FASTQ input.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)
		seq.ValidateSeq = false

		var fhLog *os.File
		if opt.Log2File {
			fhLog = addLog(opt.LogFile, opt.Verbose)
			setLogLevel(opt)
		}

		outputLog := opt.Verbose || opt.Log2File
		timeStart := time.Now()
		defer func() {
			if outputLog {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}()

		var err error

		cfg := config.Default()
		cfg.Threads = opt.NumCPUs
		cfg.OutFile = "-"
		setOutputFromFlags(cmd, cfg)
		setFilterFromFlags(cmd, cfg)
		if cfg.OutFormat == "dict" {
			checkError(fmt.Errorf("the dict format is only available in library mode"))
		}
		checkError(cfg.Validate(false))

		format, err := output.ParseFormat(cfg.OutFormat)
		checkError(err)

		var extra *report.Field
		if cfg.AdditionalField != "" {
			extra, err = report.ParseField(cfg.AdditionalField)
			checkError(err)
		}
		var columns []string
		if format == output.TSV {
			columns = report.AIRRHeader(extra)
		}

		var store report.SeqLookup
		var quality bool
		if seqFile := getFlagString(cmd, "seqs"); seqFile != "" {
			if !cfg.Legacy {
				log.Warningf("flag -s/--seqs is ignored for tabular reports")
			} else {
				s, err := partition.ReadStore(seqFile, 0, 1024)
				checkError(err)
				if seqs := s.Sequences(); len(seqs) > 0 && seqs[0].Qual != "" {
					quality = true
				}
				if outputLog {
					log.Infof("%s sequences loaded from %s", humanize.Comma(int64(s.Len())), seqFile)
				}
				store = s
			}
		}

		files := getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)

		// ---------------------------------------------------------------

		outfh, gw, w := outStream(cfg.OutFile, cfg.Gzip, cfg.CompressionLevel)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		writer, err := output.NewWriter(outfh, format, cfg.Pretty, columns)
		checkError(err)

		var parsed, accepted int
		for _, file := range files {
			n, m, err := parseReport(file, igblast.NewParser(cfg, extra, store, quality), writer)
			checkError(err)
			if outputLog {
				log.Infof("%s: %s records parsed", file, humanize.Comma(int64(n)))
				if m > 0 {
					log.Warningf("%s: %d lines not recognized", file, m)
				}
			}
			parsed += n
		}
		checkError(writer.Close())
		accepted = writer.N()

		if outputLog {
			log.Info()
			log.Infof("parsed records: %s", humanize.Comma(int64(parsed)))
			if cfg.Filter.Enable {
				log.Infof("records passing filters: %s", humanize.Comma(int64(accepted)))
			}
		}
	},
}

// parseReport returns the numbers of parsed records and unrecognized lines.
func parseReport(file string, parser report.Parser, writer *output.Writer) (int, int, error) {
	fh, err := xopen.Ropen(file)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "read report: %s", file)
	}
	defer fh.Close()

	n, err := parser.Parse(fh, writer.Write)
	if err != nil {
		return n, 0, errors.Wrapf(err, "parse report: %s", file)
	}
	var mismatched int
	if chain, ok := parser.(*report.Chain); ok {
		mismatched = chain.Mismatched
	}
	return n, mismatched, nil
}

func init() {
	utilsCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of input files list (one file per line). If given, they are appended to files from CLI arguments.`))
	parseCmd.Flags().StringP("seqs", "s", "",
		formatFlagUsage(`FASTA/Q file of the query sequences, for legacy reports.`))

	addOutputFlags(parseCmd)
	parseCmd.Flags().Lookup("out-file").Usage = formatFlagUsage(`Out file ("-" for stdout).`)

	addFilterFlags(parseCmd)

	parseCmd.SetUsageTemplate(usageTemplate("[report.tsv.gz ...]"))
}
