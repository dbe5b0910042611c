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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/crowelab/PyIR/pyir/output"
	"github.com/crowelab/PyIR/pyir/report"
	"github.com/crowelab/PyIR/pyir/util"
	"github.com/pkg/errors"
	"github.com/shenwei356/xopen"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var plotCDR3Cmd = &cobra.Command{
	Use:   "plot-cdr3",
	Short: "Plot the CDR3 amino acid length distribution of a result file",
	Long: `Plot the CDR3 amino acid length distribution of a result file

Input:
  A result file of the run or parse command, in the format given by -f/--in-format.
  CDR3 lengths are read from the "cdr3_aa_length" field (or "cdr3_aa") of tabular
  report records, or "CDR3" -> "AA_Length" of legacy report records.
  Records without CDR3 are skipped.

Output:
  1. A histogram, in the format decided by the extension of -o/--out-file,
     e.g., .png, .jpg, .svg, .pdf.
  2. Statistics written to stdout: records, mean, stdev, min, median, max.

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

		format, err := output.ParseFormat(getFlagString(cmd, "in-format"))
		checkError(err)
		if format == output.Dict {
			checkError(fmt.Errorf("the dict format is only available in library mode"))
		}
		outFile := getFlagString(cmd, "out-file")
		bins := getFlagPositiveInt(cmd, "bins")
		width := getFlagNonNegativeFloat64(cmd, "width")
		height := getFlagNonNegativeFloat64(cmd, "height")
		title := getFlagString(cmd, "title")

		files := getFileList(args, true)
		if len(files) > 1 {
			checkError(fmt.Errorf("only one input file is allowed"))
		}
		file := files[0]

		if outFile == "" {
			if isStdin(file) {
				outFile = "cdr3.png"
			} else {
				name, _, _ := filepathTrimExtension(file, nil)
				outFile = name + ".cdr3.png"
			}
		}

		fh, err := xopen.Ropen(file)
		checkError(err)
		lens, err := readCDR3Lengths(fh, format)
		fh.Close()
		checkError(err)
		if len(lens) == 0 {
			checkError(fmt.Errorf("no CDR3 found in %s", file))
		}

		// ---------------------------------------------------------------
		// statistics

		mean, stdev := util.MeanStdev(lens)
		sorted := make([]float64, len(lens))
		copy(sorted, lens)
		sorts.Quicksort(sort.Float64Slice(sorted))
		median := sorted[len(sorted)/2]
		if len(sorted)%2 == 0 {
			median = (sorted[len(sorted)/2-1] + median) / 2
		}
		fmt.Printf("records\tmean\tstdev\tmin\tmedian\tmax\n")
		fmt.Printf("%d\t%.2f\t%.2f\t%.0f\t%.1f\t%.0f\n",
			len(lens), mean, stdev, sorted[0], median, sorted[len(sorted)-1])

		// ---------------------------------------------------------------
		// histogram

		p := plot.New()
		p.Title.Text = title
		p.X.Label.Text = "CDR3 amino acid length"
		p.Y.Label.Text = "Count"

		h, err := plotter.NewHist(plotter.Values(lens), bins)
		checkError(errors.Wrap(err, "histogram"))
		p.Add(h)

		checkError(p.Save(vg.Length(width)*vg.Inch, vg.Length(height)*vg.Inch, outFile))
		if outputLog {
			log.Infof("histogram saved to: %s", outFile)
		}
	},
}

// readCDR3Lengths collects CDR3 amino acid lengths of records.
func readCDR3Lengths(r io.Reader, format output.Format) ([]float64, error) {
	lens := make([]float64, 0, 1024)

	if format == output.TSV {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 1<<20), 1<<26)
		colLen, colAA := -1, -1
		var line string
		var items []string
		header := true
		for scanner.Scan() {
			line = strings.TrimRight(scanner.Text(), "\r")
			items = strings.Split(line, "\t")
			if header {
				for i, col := range items {
					switch col {
					case "cdr3_aa_length":
						colLen = i
					case "cdr3_aa":
						colAA = i
					}
				}
				if colLen < 0 && colAA < 0 {
					return nil, errors.New("no CDR3 column found in the header")
				}
				header = false
				continue
			}
			if colLen >= 0 && colLen < len(items) && items[colLen] != "" {
				v, err := strconv.Atoi(items[colLen])
				if err != nil {
					return nil, errors.Errorf("invalid CDR3 length: %s", items[colLen])
				}
				if v > 0 {
					lens = append(lens, float64(v))
				}
				continue
			}
			if colAA >= 0 && colAA < len(items) && items[colAA] != "" {
				lens = append(lens, float64(len(items[colAA])))
			}
		}
		return lens, scanner.Err()
	}

	dec := json.NewDecoder(r)
	if format == output.JSON {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return lens, nil
			}
			return nil, errors.Wrap(err, "read JSON")
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return nil, errors.New("a JSON array expected")
		}
	}
	for {
		if format == output.JSON && !dec.More() {
			break
		}
		var rec map[string]interface{}
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, "read JSON")
		}
		if v, ok := cdr3Length(rec); ok {
			lens = append(lens, v)
		}
	}
	return lens, nil
}

func cdr3Length(rec map[string]interface{}) (float64, bool) {
	if v, ok := rec["cdr3_aa_length"].(float64); ok {
		return v, v > 0
	}
	if s, ok := rec["cdr3_aa"].(string); ok {
		return float64(len(s)), s != ""
	}
	if region, ok := rec[report.RegionCDR3].(map[string]interface{}); ok {
		if v, ok := region[report.FieldRegionAALength].(float64); ok {
			return v, v > 0
		}
		if s, ok := region[report.FieldRegionAA].(string); ok {
			return float64(len(s)), s != ""
		}
	}
	return 0, false
}

func init() {
	utilsCmd.AddCommand(plotCDR3Cmd)

	plotCDR3Cmd.Flags().StringP("in-format", "f", "json",
		formatFlagUsage(`Format of the result file, available values: json, lsjson, tsv.`))
	plotCDR3Cmd.Flags().StringP("out-file", "o", "",
		formatFlagUsage(`Out image file. By default, it is derived from the input file, e.g., reads.json -> reads.cdr3.png.`))
	plotCDR3Cmd.Flags().IntP("bins", "b", 30,
		formatFlagUsage(`Number of bins.`))
	plotCDR3Cmd.Flags().Float64P("width", "W", 6,
		formatFlagUsage(`Image width in inches.`))
	plotCDR3Cmd.Flags().Float64P("height", "H", 4,
		formatFlagUsage(`Image height in inches.`))
	plotCDR3Cmd.Flags().StringP("title", "t", "CDR3 length distribution",
		formatFlagUsage(`Plot title.`))

	plotCDR3Cmd.SetUsageTemplate(usageTemplate("[result.json.gz]"))
}
