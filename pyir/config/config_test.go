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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(false); err != nil {
		t.Error(err)
		return
	}

	for _, modify := range []func(c *Config){
		func(c *Config) { c.OutFormat = "xml" },
		func(c *Config) { c.Legacy = true; c.OutFormat = "tsv" },
		func(c *Config) { c.ChunkSize = -1 },
		func(c *Config) { c.Threads = 0 },
		func(c *Config) { c.MinDMatch = 4 },
		func(c *Config) { c.Species = "dog" },
		func(c *Config) { c.Receptor = "BCR" },
		func(c *Config) { c.Filter.CDR3Length = true; c.Filter.CDR3MinLength = 60 },
	} {
		cfg = Default()
		modify(cfg)
		if err := cfg.Validate(false); errors.Cause(err) != ErrConfig {
			t.Errorf("expected: %v, results: %v", ErrConfig, err)
		}
	}
}

func TestGermlinePaths(t *testing.T) {
	cfg := Default()
	cfg.Database = "/data/pyir"
	cfg.Receptor = "TCR"
	cfg.Species = "mouse"
	cfg.GermlineD = "/custom/d"
	if err := cfg.Validate(false); err != nil {
		t.Error(err)
		return
	}
	if cfg.GermlineV != "/data/pyir/TCR/mouse/mouse_TCR_V" {
		t.Errorf("unexpected V database: %s", cfg.GermlineV)
	}
	if cfg.GermlineD != "/custom/d" {
		t.Errorf("explicit D database should be kept: %s", cfg.GermlineD)
	}
	if cfg.AuxData != "/data/pyir/aux_data/mouse_gl.aux" {
		t.Errorf("unexpected auxiliary data: %s", cfg.AuxData)
	}
}

func TestCheckTool(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Database = dir
	cfg.Executable = filepath.Join(dir, "igblastn")

	if err := cfg.Validate(true); errors.Cause(err) != ErrConfig {
		t.Errorf("error expected for missing germline databases, results: %v", err)
	}

	for _, file := range []string{
		"Ig/human/human_gl_V.nhr", "Ig/human/human_gl_D.nhr", "Ig/human/human_gl_J.nhr",
		"aux_data/human_gl.aux", "igblastn",
	} {
		file = filepath.Join(dir, file)
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(file, nil, 0755); err != nil {
			t.Fatal(err)
		}
	}

	cfg = Default()
	cfg.Database = dir
	cfg.Executable = filepath.Join(dir, "igblastn")
	if err := cfg.Validate(true); err != nil {
		t.Error(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "run.toml")
	data := `out-format = "tsv"
chunk-size = 200
species = "rabbit"

[filter]
enable = true
v-evalue = 1e-3
`
	if err := os.WriteFile(file, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(file)
	if err != nil {
		t.Error(err)
		return
	}
	if cfg.OutFormat != "tsv" || cfg.ChunkSize != 200 || cfg.Species != "rabbit" {
		t.Errorf("unexpected values: %s %d %s", cfg.OutFormat, cfg.ChunkSize, cfg.Species)
	}
	if !cfg.Filter.Enable || cfg.Filter.VEvalue != 1e-3 || cfg.Filter.JEvalue != 1e-6 {
		t.Errorf("unexpected filter: %+v", cfg.Filter)
	}
	if cfg.NumV != 3 {
		t.Errorf("defaults should be kept, results: %d", cfg.NumV)
	}

	// round trip through the debug dump
	dump := filepath.Join(dir, "config.toml")
	if err = cfg.Write(dump); err != nil {
		t.Error(err)
		return
	}
	cfg2, err := Load(dump)
	if err != nil {
		t.Error(err)
		return
	}
	if cfg2.ChunkSize != cfg.ChunkSize || cfg2.Filter.VEvalue != cfg.Filter.VEvalue {
		t.Errorf("dumped configuration differs")
	}

	if err = os.WriteFile(file, []byte("unknown-key = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err = Load(file); errors.Cause(err) != ErrConfig {
		t.Errorf("expected: %v, results: %v", ErrConfig, err)
	}
}
