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
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/crowelab/PyIR/pyir/config"
	"github.com/crowelab/PyIR/pyir/igblast"
	"github.com/crowelab/PyIR/pyir/partition"
	"github.com/crowelab/PyIR/pyir/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run IgBLAST on sequences in parallel and parse the reports",
	Long: `Run IgBLAST on sequences in parallel and parse the reports

Input:
  1. (Gzipped) FASTA or FASTQ records from files or stdin. Mixed FASTA and FASTQ input
     is not allowed.
  2. Input files can be given as positional arguments, via -X/--infile-list, or
     via -I/--in-dir with -r/--file-regexp.
  3. Sequence identifiers must be unique within a chunk. Spaces in FASTQ headers are removed.

Workflow:
  1. Sequences are split into chunks of -c/--chunk-size records in a temporary directory.
     With -c 0, the chunk size is estimated from the input size (at most 1000).
  2. Every chunk is aligned by one IgBLAST process (-j/--threads processes at a time),
     and the report is parsed and filtered as it is produced.
  3. Per-chunk results are merged into one output file. Chunks are merged in the
     order they finish unless --keep-order is given.

Report types:
  By default, IgBLAST writes the AIRR tabular report (-outfmt 19), which can be
  output as JSON or TSV. With --legacy, the multi-section text report (-outfmt 3) is
  parsed instead, adding reconstructed alignments, sub-region sequences, and
  CDR3 qualities for FASTQ input. TSV output is not available for legacy reports.

Germline databases:
  Ig:  <database>/Ig/<species>/<species>_gl_{V,D,J}
  TCR: <database>/TCR/<species>/<species>_TCR_{V,D,J}
  Auxiliary data: <database>/aux_data/<species>_gl.aux

Configuration file:
  Options can also be given in a TOML file via --config. Flags explicitly given on
  the command line override values in the file. In debug mode, the effective
  configuration is saved as config.toml in the temporary directory.

Filters (only applied with --enable-filter):
  1. V and J e-values <= thresholds.
  2. Productive, no stop codon, and V-J in frame.
  3. No stop codon in the amino acid sequence, and a WG or FG motif after the CDR3.
  4. No ambiguous bases in the aligned sequence, ignoring the first 2 and last 3 bases.
  5. Optional: CDR3 amino acid length in [min, max).
  6. Optional: the lowest Phred score of the CDR3 region (legacy report of FASTQ input).

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
		closeLog := func() {
			if outputLog {
				log.Info()
				log.Infof("elapsed time: %s", time.Since(timeStart))
				log.Info()
			}
			if opt.Log2File {
				fhLog.Close()
			}
		}

		var err error

		// ---------------------------------------------------------------
		// input files

		inDir := getFlagString(cmd, "in-dir")
		var files []string
		if inDir != "" {
			isDir, err := pathutil.IsDir(inDir)
			if err != nil {
				checkError(errors.Errorf("checking -I/--in-dir: %s", err))
			}
			if !isDir {
				checkError(fmt.Errorf("the value of -I/--in-dir should be a directory: %s", inDir))
			}
			reFile := getFlagString(cmd, "file-regexp")
			var reFileRe *regexp.Regexp
			if reFileRe, err = regexp.Compile("(?i)" + reFile); err != nil {
				checkError(errors.Errorf("failed to parse regular expression for matching file: %s", reFile))
			}
			files, err = getFileListFromDir(inDir, reFileRe, opt.NumCPUs)
			if err != nil {
				checkError(errors.Errorf("err on walking the directory: %s", err))
			}
			if len(files) == 0 {
				checkError(fmt.Errorf("no files found in %s with the pattern: %s", inDir, reFile))
			}
		} else {
			files = getFileListFromArgsAndFile(cmd, args, true, "infile-list", true)
		}

		// ---------------------------------------------------------------
		// configuration

		cfg := buildConfig(cmd, opt)
		if len(cfg.Input) == 0 || len(args) > 0 || inDir != "" || cmd.Flags().Changed("infile-list") {
			cfg.Input = files
		}
		if cfg.OutFormat == "dict" {
			checkError(fmt.Errorf("the dict format is only available in library mode"))
		}
		checkError(cfg.Validate(true))

		if outputLog {
			log.Infof("PyIR v%s", VERSION)
			log.Info()
			if len(cfg.Input) == 1 {
				log.Infof("  input: %s", cfg.Input[0])
			} else {
				log.Infof("  input: %d files", len(cfg.Input))
			}
			log.Infof("  report: %s", reportType(cfg.Legacy))
			log.Infof("  receptor: %s, species: %s", cfg.Receptor, cfg.Species)
			log.Infof("  IgBLAST: %s", cfg.Executable)
			log.Infof("  parallel processes: %d", cfg.Threads)
			if cfg.Filter.Enable {
				log.Infof("  filters: V e-value <= %g, J e-value <= %g", cfg.Filter.VEvalue, cfg.Filter.JEvalue)
			}
			log.Info()
		}

		// ---------------------------------------------------------------
		// run

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// process bar
		var pbs *mpb.Progress
		var bar *mpb.Bar
		var chDuration chan [2]int64
		var doneDuration chan int
		var lastTime time.Time
		showProgressBar := opt.Verbose

		pOpt := &pipeline.Options{
			OnSplit: func(p *partition.Partition) {
				if !showProgressBar {
					return
				}
				pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
				bar = pbs.AddBar(int64(p.NumSeqs),
					mpb.PrependDecorators(
						decor.Name("parsed sequences: ", decor.WC{W: len("parsed sequences: "), C: decor.DindentRight}),
						decor.Name("", decor.WCSyncSpaceR),
						decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
					),
					mpb.AppendDecorators(
						decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
						decor.EwmaETA(decor.ET_STYLE_GO, 3),
						decor.OnComplete(decor.Name(""), ". done"),
					),
				)

				chDuration = make(chan [2]int64, opt.NumCPUs)
				doneDuration = make(chan int)
				go func() {
					for t := range chDuration {
						bar.EwmaIncrBy(int(t[0]), time.Duration(t[1]))
					}
					doneDuration <- 1
				}()
				lastTime = time.Now()
			},
			OnResult: func(r *igblast.Result) {
				if chDuration == nil {
					return
				}
				chDuration <- [2]int64{int64(r.Parsed), int64(time.Since(lastTime))}
				lastTime = time.Now()
			},
		}

		sum, err := pipeline.Run(ctx, cfg, pOpt)

		if chDuration != nil {
			close(chDuration)
			<-doneDuration
			bar.SetTotal(-1, true)
			pbs.Wait()
		}

		if ctx.Err() != nil {
			log.Error("interrupted, IgBLAST processes stopped")
			closeLog()
			os.Exit(130)
		}
		if err != nil && errors.Cause(err) != pipeline.ErrChunksFailed {
			checkError(err)
		}

		if outputLog {
			log.Info()
			log.Infof("sequences: %s in %d chunks", humanize.Comma(int64(sum.NumSeqs)), sum.Chunks)
			log.Infof("parsed records: %s", humanize.Comma(int64(sum.Parsed)))
			if cfg.Filter.Enable {
				log.Infof("records passing filters: %s", humanize.Comma(int64(sum.Accepted)))
			}
			log.Infof("results saved to: %s", sum.OutFile)
		}

		if err != nil {
			for _, r := range sum.Failed {
				log.Errorf("  chunk %d: sequences %d-%d", r.Chunk.Index, r.Chunk.First+1, r.Chunk.First+r.Chunk.N)
			}
			log.Error(err)
			closeLog()
			os.Exit(-1)
		}
		closeLog()
	},
}

func reportType(legacy bool) string {
	if legacy {
		return "legacy text report (-outfmt 3)"
	}
	return "AIRR tabular report (-outfmt 19)"
}

// buildConfig merges defaults, the config file and flags given explicitly.
func buildConfig(cmd *cobra.Command, opt *Options) *config.Config {
	var cfg *config.Config
	var err error
	if file := getFlagString(cmd, "config"); file != "" {
		cfg, err = config.Load(file)
		checkError(err)
	} else {
		cfg = config.Default()
	}

	if cmd.Flags().Changed("threads") {
		cfg.Threads = opt.NumCPUs
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = opt.Debug
	}

	setOutputFromFlags(cmd, cfg)

	setFromFlag(cmd, "chunk-size", &cfg.ChunkSize)
	setFromFlag(cmd, "keep-order", &cfg.KeepOrder)
	setFromFlag(cmd, "tmp-dir", &cfg.TmpDir)

	setFromFlag(cmd, "executable", &cfg.Executable)
	setFromFlag(cmd, "database", &cfg.Database)
	setFromFlag(cmd, "receptor", &cfg.Receptor)
	setFromFlag(cmd, "species", &cfg.Species)
	setFromFlag(cmd, "min-d-match", &cfg.MinDMatch)
	setFromFlag(cmd, "num-v-alignments", &cfg.NumV)
	setFromFlag(cmd, "num-d-alignments", &cfg.NumD)
	setFromFlag(cmd, "num-j-alignments", &cfg.NumJ)
	setFromFlag(cmd, "word-size", &cfg.WordSize)
	setFromFlag(cmd, "germline-v", &cfg.GermlineV)
	setFromFlag(cmd, "germline-d", &cfg.GermlineD)
	setFromFlag(cmd, "germline-j", &cfg.GermlineJ)
	setFromFlag(cmd, "aux-data", &cfg.AuxData)

	setFilterFromFlags(cmd, cfg)

	return cfg
}

func setOutputFromFlags(cmd *cobra.Command, cfg *config.Config) {
	setFromFlag(cmd, "out-file", &cfg.OutFile)
	setFromFlag(cmd, "out-format", &cfg.OutFormat)
	setFromFlag(cmd, "pretty", &cfg.Pretty)
	setFromFlag(cmd, "gzip", &cfg.Gzip)
	setFromFlag(cmd, "compression-level", &cfg.CompressionLevel)
	setFromFlag(cmd, "additional-field", &cfg.AdditionalField)
	setFromFlag(cmd, "legacy", &cfg.Legacy)

	if !cfg.Gzip && strings.HasSuffix(strings.ToLower(cfg.OutFile), ".gz") {
		cfg.Gzip = true
	}
	if cfg.Gzip && cfg.OutFile != "" && cfg.OutFile != "-" && !strings.HasSuffix(strings.ToLower(cfg.OutFile), ".gz") {
		cfg.OutFile += ".gz"
	}
}

func setFromFlag(cmd *cobra.Command, flag string, target interface{}) {
	if !cmd.Flags().Changed(flag) {
		return
	}
	switch v := target.(type) {
	case *string:
		*v = getFlagString(cmd, flag)
	case *int:
		*v = getFlagInt(cmd, flag)
	case *bool:
		*v = getFlagBool(cmd, flag)
	case *float64:
		*v = getFlagNonNegativeFloat64(cmd, flag)
	default:
		checkError(fmt.Errorf("unsupported flag type: --%s", flag))
	}
}

func setFilterFromFlags(cmd *cobra.Command, cfg *config.Config) {
	f := &cfg.Filter
	setFromFlag(cmd, "enable-filter", &f.Enable)
	setFromFlag(cmd, "filter-v-evalue", &f.VEvalue)
	setFromFlag(cmd, "filter-j-evalue", &f.JEvalue)
	setFromFlag(cmd, "filter-productive", &f.Productive)
	setFromFlag(cmd, "filter-stop-codon", &f.StopCodon)
	setFromFlag(cmd, "filter-vjframe", &f.VJFrame)
	setFromFlag(cmd, "filter-aa-strings", &f.AAStrings)
	setFromFlag(cmd, "filter-nt-strings", &f.NTStrings)
	if cmd.Flags().Changed("filter-cdr3-length") {
		f.CDR3Length = true
		f.CDR3MinLength, f.CDR3MaxLength = getFlagIntRange(cmd, "filter-cdr3-length")
	}
	if cmd.Flags().Changed("filter-cdr3-quality") {
		f.CDR3Quality = true
		f.MinPhred = getFlagNonNegativeInt(cmd, "filter-cdr3-quality")
	}
}

func addOutputFlags(c *cobra.Command) {
	c.Flags().StringP("out-file", "o", "",
		formatFlagUsage(`Out file ("-" for stdout). By default, it is derived from the first input file, `+
			`e.g., reads.fq.gz -> reads.json.`))
	c.Flags().StringP("out-format", "f", "json",
		formatFlagUsage(`Output format, available values: json (a JSON array), lsjson (one JSON object per line), tsv.`))
	c.Flags().BoolP("pretty", "", false,
		formatFlagUsage(`Indent JSON records.`))
	c.Flags().BoolP("gzip", "z", false,
		formatFlagUsage(`Compress the output with gzip. It's also enabled for output files with the ".gz" suffix.`))
	c.Flags().IntP("compression-level", "", 5,
		formatFlagUsage(`Gzip compression level.`))
	c.Flags().StringP("additional-field", "", "",
		formatFlagUsage(`A comma-separated key,value pair added to every record, e.g., "donor,10".`))
	c.Flags().BoolP("legacy", "", false,
		formatFlagUsage(`Parse the multi-section text report (-outfmt 3) instead of the AIRR tabular report (-outfmt 19).`))
}

func addFilterFlags(c *cobra.Command) {
	def := config.Default().Filter
	c.Flags().BoolP("enable-filter", "", false,
		formatFlagUsage(`Only output records passing the filters.`))
	c.Flags().Float64P("filter-v-evalue", "", def.VEvalue,
		formatFlagUsage(`Maximum e-value of the top V gene.`))
	c.Flags().Float64P("filter-j-evalue", "", def.JEvalue,
		formatFlagUsage(`Maximum e-value of the top J gene.`))
	c.Flags().BoolP("filter-productive", "", def.Productive,
		formatFlagUsage(`Only keep productive rearrangements.`))
	c.Flags().BoolP("filter-stop-codon", "", def.StopCodon,
		formatFlagUsage(`Only keep rearrangements without stop codons.`))
	c.Flags().BoolP("filter-vjframe", "", def.VJFrame,
		formatFlagUsage(`Only keep rearrangements with V and J in frame.`))
	c.Flags().BoolP("filter-aa-strings", "", def.AAStrings,
		formatFlagUsage(`Only keep amino acid sequences without "*" and with a WG/FG motif after the CDR3.`))
	c.Flags().BoolP("filter-nt-strings", "", def.NTStrings,
		formatFlagUsage(`Only keep aligned sequences without ambiguous bases.`))
	c.Flags().StringP("filter-cdr3-length", "", fmt.Sprintf("%d,%d", def.CDR3MinLength, def.CDR3MaxLength),
		formatFlagUsage(`Range of CDR3 amino acid length, in format of "min,max" (max excluded). Only applied when given.`))
	c.Flags().IntP("filter-cdr3-quality", "", def.MinPhred,
		formatFlagUsage(`Minimum Phred score of the CDR3 region, for legacy reports of FASTQ input. Only applied when given.`))
}

func init() {
	RootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("infile-list", "X", "",
		formatFlagUsage(`File of input files list (one file per line). If given, they are appended to files from CLI arguments.`))
	runCmd.Flags().StringP("in-dir", "I", "",
		formatFlagUsage(`Directory containing FASTA/Q files. Directory symlinks are followed.`))
	runCmd.Flags().StringP("file-regexp", "r", `\.(f[aq](st[aq])?|fna)(\.gz|\.xz|\.zst|\.bz2)?$`,
		formatFlagUsage(`Regular expression for matching sequence files in -I/--in-dir, case ignored.`))
	runCmd.Flags().StringP("config", "", "",
		formatFlagUsage(`Configuration file in TOML format.`))

	addOutputFlags(runCmd)

	runCmd.Flags().IntP("chunk-size", "c", 0,
		formatFlagUsage(`Number of sequences per IgBLAST process. 0 for estimating from the input size.`))
	runCmd.Flags().BoolP("keep-order", "", false,
		formatFlagUsage(`Merge chunk results in input order instead of completion order.`))
	runCmd.Flags().StringP("tmp-dir", "t", os.TempDir(),
		formatFlagUsage(`Directory for temporary files.`))

	runCmd.Flags().StringP("executable", "x", "igblastn",
		formatFlagUsage(`Path of igblastn.`))
	runCmd.Flags().StringP("database", "d", "",
		formatFlagUsage(`Root directory of germline databases, also used as IGDATA.`))
	runCmd.Flags().StringP("receptor", "", "Ig",
		formatFlagUsage(`Receptor type, available values: `+strings.Join(config.Receptors, ", ")+`.`))
	runCmd.Flags().StringP("species", "s", "human",
		formatFlagUsage(`Species, available values: `+strings.Join(config.Species, ", ")+`.`))
	runCmd.Flags().IntP("min-d-match", "", 5,
		formatFlagUsage(`Minimum D gene nucleotide matches (>= 5).`))
	runCmd.Flags().IntP("num-v-alignments", "", 3,
		formatFlagUsage(`Number of V gene alignments to report.`))
	runCmd.Flags().IntP("num-d-alignments", "", 3,
		formatFlagUsage(`Number of D gene alignments to report.`))
	runCmd.Flags().IntP("num-j-alignments", "", 3,
		formatFlagUsage(`Number of J gene alignments to report.`))
	runCmd.Flags().IntP("word-size", "", 9,
		formatFlagUsage(`Word size of IgBLAST.`))
	runCmd.Flags().StringP("germline-v", "", "",
		formatFlagUsage(`V gene database, overriding the one in -d/--database.`))
	runCmd.Flags().StringP("germline-d", "", "",
		formatFlagUsage(`D gene database, overriding the one in -d/--database.`))
	runCmd.Flags().StringP("germline-j", "", "",
		formatFlagUsage(`J gene database, overriding the one in -d/--database.`))
	runCmd.Flags().StringP("aux-data", "", "",
		formatFlagUsage(`Auxiliary data file, overriding the one in -d/--database.`))

	addFilterFlags(runCmd)

	runCmd.SetUsageTemplate(usageTemplate("[input.fastx.gz ...]"))
}
