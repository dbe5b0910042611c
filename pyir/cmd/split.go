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

	"github.com/crowelab/PyIR/pyir/partition"
	"github.com/dustin/go-humanize"
	"github.com/shenwei356/bio/seq"
	"github.com/spf13/cobra"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split sequences into chunks as the run command does",
	Long: `Split sequences into chunks as the run command does

Chunk files are written to the output directory:
  chunk_000000.fasta, chunk_000001.fasta, ...

For FASTQ input, the FASTQ records of every chunk are also saved
(chunk_000000.fastq, ...), with spaces removed from sequence identifiers.

A table of chunks is written to stdout (or the file given by -o/--out-file):
  chunk, first (1-based order of the first sequence), sequences, fasta, fastq

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

		outDir := getFlagString(cmd, "out-dir")
		if outDir == "" {
			checkError(fmt.Errorf("flag -O/--out-dir is needed"))
		}
		force := getFlagBool(cmd, "force")
		chunkSize := getFlagNonNegativeInt(cmd, "chunk-size")
		outFile := getFlagString(cmd, "out-file")

		files := getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)

		makeOutDir(outDir, force, "output directory", opt.Verbose)

		if chunkSize == 0 {
			size, err := partition.InputSize(files)
			checkError(err)
			if outputLog {
				log.Infof("input size: %s", humanize.Bytes(uint64(size)))
			}
		}

		p, err := partition.Split(files, &partition.Options{ChunkSize: chunkSize, OutDir: outDir})
		checkError(err)

		if outputLog {
			log.Infof("%s sequences split into %d chunks of up to %d sequences",
				humanize.Comma(int64(p.NumSeqs)), len(p.Chunks), p.ChunkSize)
			log.Infof("chunks saved to: %s", outDir)
		}

		outfh, gw, w := outStream(outFile, false, opt.CompressionLevel)
		defer func() {
			outfh.Flush()
			if gw != nil {
				gw.Close()
			}
			w.Close()
		}()

		fmt.Fprintln(outfh, "chunk\tfirst\tsequences\tfasta\tfastq")
		for _, c := range p.Chunks {
			fmt.Fprintf(outfh, "%d\t%d\t%d\t%s\t%s\n", c.Index, c.First+1, c.N, c.FastaFile, c.FastqFile)
		}
	},
}

func init() {
	utilsCmd.AddCommand(splitCmd)

	splitCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of input files list (one file per line). If given, they are appended to files from CLI arguments.`))
	splitCmd.Flags().StringP("out-dir", "O", "",
		formatFlagUsage(`Output directory.`))
	splitCmd.Flags().BoolP("force", "", false,
		formatFlagUsage(`Overwrite existing output directory.`))
	splitCmd.Flags().IntP("chunk-size", "c", 0,
		formatFlagUsage(`Number of sequences per chunk. 0 for estimating from the input size.`))
	splitCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file of the chunk table ("-" for stdout).`))

	splitCmd.SetUsageTemplate(usageTemplate("[input.fastx.gz ...]"))
}
