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

// Package config holds the run configuration shared by all workers.
// A Config is built once, validated, and then only read.
package config

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/crowelab/PyIR/pyir/filter"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"
)

// ErrConfig is the cause of all configuration errors.
var ErrConfig = errors.New("invalid configuration")

// Receptors lists the supported receptor types.
var Receptors = []string{"Ig", "TCR"}

// Species lists the species of the germline databases.
var Species = []string{"human", "mouse", "rabbit", "rat", "rhesus_monkey"}

// Formats lists the output formats.
var Formats = []string{"lsjson", "json", "tsv", "dict"}

// Config is the run configuration.
type Config struct {
	// input and output
	Input            []string `toml:"input"`
	OutFile          string   `toml:"out-file"`
	OutFormat        string   `toml:"out-format"`
	Pretty           bool     `toml:"pretty"`
	Gzip             bool     `toml:"gzip"`
	CompressionLevel int      `toml:"compression-level"`
	AdditionalField  string   `toml:"additional-field"`

	// Legacy selects the multi-section text report instead of the tabular one.
	Legacy bool `toml:"legacy"`

	// dispatching
	ChunkSize int    `toml:"chunk-size"` // 0 for estimating from the input size
	Threads   int    `toml:"threads"`
	KeepOrder bool   `toml:"keep-order"`
	TmpDir    string `toml:"tmp-dir"`
	Debug     bool   `toml:"debug"` // keep temporary files

	// external tool
	Executable string `toml:"executable"`
	Database   string `toml:"database"`
	Receptor   string `toml:"receptor"`
	Species    string `toml:"species"`
	MinDMatch  int    `toml:"min-d-match"`
	NumV       int    `toml:"num-v-alignments"`
	NumD       int    `toml:"num-d-alignments"`
	NumJ       int    `toml:"num-j-alignments"`
	WordSize   int    `toml:"word-size"`

	// germline files, resolved from Database, Receptor and Species if empty
	GermlineV string `toml:"germline-v"`
	GermlineD string `toml:"germline-d"`
	GermlineJ string `toml:"germline-j"`
	AuxData   string `toml:"aux-data"`

	Filter filter.Config `toml:"filter"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		OutFormat:        "json",
		CompressionLevel: 5,
		Legacy:           false,
		Threads:          runtime.NumCPU(),
		TmpDir:           os.TempDir(),
		Executable:       "igblastn",
		Receptor:         "Ig",
		Species:          "human",
		MinDMatch:        5,
		NumV:             3,
		NumD:             3,
		NumJ:             3,
		WordSize:         9,
		Filter:           filter.DefaultConfig(),
	}
}

// Load reads a TOML file over the default configuration.
func Load(file string) (*Config, error) {
	cfg := Default()
	file, err := homedir.Expand(file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err = dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(ErrConfig, "%s: %s", file, err)
	}
	return cfg, nil
}

// Write dumps the configuration in TOML.
func (c *Config) Write(file string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(file, data, 0644)
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfig, format, args...)
}

func oneOf(s string, list []string) bool {
	for _, v := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Validate checks values and resolves paths. The external tool and
// germline files are only checked when checkTool is true.
func (c *Config) Validate(checkTool bool) error {
	var err error

	if !oneOf(c.OutFormat, Formats) {
		return invalid("unsupported output format: %s, available: %s", c.OutFormat, strings.Join(Formats, ", "))
	}
	if c.Legacy && c.OutFormat == "tsv" {
		return invalid("tsv output is only available for the tabular report")
	}
	if c.CompressionLevel < -2 || c.CompressionLevel > 9 {
		return invalid("compression level should be in range of [-2, 9]: %d", c.CompressionLevel)
	}
	if c.ChunkSize < 0 {
		return invalid("chunk size should not be negative: %d", c.ChunkSize)
	}
	if c.Threads < 1 {
		return invalid("number of threads should be positive: %d", c.Threads)
	}
	if c.MinDMatch < 5 {
		return invalid("the amount of D gene nucleotide matches must be >= 5: %d", c.MinDMatch)
	}
	if c.NumV < 1 || c.NumD < 1 || c.NumJ < 1 {
		return invalid("numbers of V/D/J alignments should be positive: %d, %d, %d", c.NumV, c.NumD, c.NumJ)
	}
	if c.WordSize < 4 {
		return invalid("word size should be >= 4: %d", c.WordSize)
	}
	if !oneOf(c.Receptor, Receptors) {
		return invalid("unsupported receptor: %s, available: %s", c.Receptor, strings.Join(Receptors, ", "))
	}
	if !oneOf(c.Species, Species) {
		return invalid("unsupported species: %s, available: %s", c.Species, strings.Join(Species, ", "))
	}
	if err = c.Filter.Validate(); err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}

	if c.TmpDir, err = homedir.Expand(c.TmpDir); err != nil {
		return invalid("tmp dir: %s", err)
	}
	if c.Database, err = homedir.Expand(c.Database); err != nil {
		return invalid("database: %s", err)
	}
	if c.Database != "" {
		if c.Database, err = filepath.Abs(c.Database); err != nil {
			return invalid("database: %s", err)
		}
	}
	c.resolveGermline()

	if !checkTool {
		return nil
	}
	return c.checkTool()
}

// resolveGermline fills germline paths not set explicitly:
// <db>/Ig/<species>/<species>_gl_{V,D,J} and <db>/TCR/<species>/<species>_TCR_{V,D,J},
// and <db>/aux_data/<species>_gl.aux.
func (c *Config) resolveGermline() {
	if c.Database == "" {
		return
	}
	dir := filepath.Join(c.Database, c.Receptor, c.Species)
	suffix := "gl"
	if c.Receptor == "TCR" {
		suffix = "TCR"
	}
	prefix := filepath.Join(dir, c.Species+"_"+suffix+"_")
	if c.GermlineV == "" {
		c.GermlineV = prefix + "V"
	}
	if c.GermlineD == "" {
		c.GermlineD = prefix + "D"
	}
	if c.GermlineJ == "" {
		c.GermlineJ = prefix + "J"
	}
	if c.AuxData == "" {
		c.AuxData = filepath.Join(c.Database, "aux_data", c.Species+"_gl.aux")
	}
}

func (c *Config) checkTool() error {
	if c.Database == "" {
		return invalid("germline database directory needed")
	}
	ok, err := pathutil.DirExists(c.Database)
	if err != nil || !ok {
		return invalid("germline database directory does not exist: %s", c.Database)
	}

	// germline files are BLAST databases with several index files
	for _, db := range []string{c.GermlineV, c.GermlineD, c.GermlineJ} {
		files, _ := filepath.Glob(db + ".*")
		if len(files) == 0 {
			return invalid("germline database not found: %s", db)
		}
	}
	if ok, err = pathutil.Exists(c.AuxData); err != nil || !ok {
		return invalid("auxiliary data not found: %s", c.AuxData)
	}

	exe, err := homedir.Expand(c.Executable)
	if err != nil {
		return invalid("executable: %s", err)
	}
	if exe, err = lookPath(exe); err != nil {
		return invalid("executable not found: %s", c.Executable)
	}
	c.Executable = exe
	return nil
}

func lookPath(exe string) (string, error) {
	if strings.ContainsRune(exe, os.PathSeparator) {
		ok, err := pathutil.Exists(exe)
		if err != nil || !ok {
			return "", errors.Errorf("file not found: %s", exe)
		}
		return filepath.Abs(exe)
	}
	return exec.LookPath(exe)
}
