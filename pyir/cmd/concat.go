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
	"regexp"
	"time"

	"github.com/crowelab/PyIR/pyir/output"
	"github.com/crowelab/PyIR/pyir/report"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var concatCmd = &cobra.Command{
	Use:   "concat",
	Short: "Merge per-chunk outputs",
	Long: `Merge per-chunk outputs

Per-chunk outputs kept in the temporary directory of a run in debug mode
(chunk_000000.json, ...) are merged into one file, in the order of input files.
Use -I/--in-dir to merge all chunk outputs of a directory in chunk order.

Output formats:
  json     Chunk files of the json format are wrapped into a JSON array.
  lsjson   Chunk files are concatenated.
  tsv      A header line is added, chunk files should not contain the header.

`,
	Run: func(cmd *cobra.Command, args []string) {
		opt := getOptions(cmd)

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

		format, err := output.ParseFormat(getFlagString(cmd, "out-format"))
		checkError(err)
		if format == output.Dict {
			checkError(fmt.Errorf("the dict format is only available in library mode"))
		}
		outFile := getFlagString(cmd, "out-file")
		gzipped := getFlagBool(cmd, "gzip")
		level := getFlagInt(cmd, "compression-level")

		var extra *report.Field
		if s := getFlagString(cmd, "additional-field"); s != "" {
			extra, err = report.ParseField(s)
			checkError(err)
		}
		var columns []string
		if format == output.TSV {
			columns = report.AIRRHeader(extra)
		}

		var files []string
		if inDir := getFlagString(cmd, "in-dir"); inDir != "" {
			re := regexp.MustCompile(`^chunk_\d+` + regexp.QuoteMeta(format.Ext()) + `$`)
			files, err = getFileListFromDir(inDir, re, opt.NumCPUs)
			if err != nil {
				checkError(errors.Errorf("err on walking the directory: %s", err))
			}
			if len(files) == 0 {
				checkError(fmt.Errorf("no chunk outputs found in %s", inDir))
			}
		} else {
			files = getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)
		}

		if outputLog {
			log.Infof("merging %d files", len(files))
		}

		outfh, gw, w := outStream(outFile, gzipped, level)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		checkError(output.Concat(outfh, files, format, columns))
	},
}

func init() {
	utilsCmd.AddCommand(concatCmd)

	concatCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of input files list (one file per line). If given, they are appended to files from CLI arguments.`))
	concatCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing chunk outputs.`))
	concatCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file ("-" for stdout).`))
	concatCmd.Flags().StringP("out-format", "f", "json",
		formatFlagUsage(`Format of chunk outputs, available values: json, lsjson, tsv.`))
	concatCmd.Flags().BoolP("gzip", "z", false,
		formatFlagUsage(`Compress the output with gzip.`))
	concatCmd.Flags().IntP("compression-level", "", 5,
		formatFlagUsage(`Gzip compression level.`))
	concatCmd.Flags().StringP("additional-field", "", "",
		formatFlagUsage(`The additional field used in the run, which is a column of TSV outputs.`))

	concatCmd.SetUsageTemplate(usageTemplate("[chunk_000000.json ...]"))
}
