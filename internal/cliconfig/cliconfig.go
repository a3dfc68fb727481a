// Package cliconfig provides the optional --config file cobra's root
// command layers flag defaults on top of, adapted from the teacher's
// internal/config loader (muster's full multi-source entity config
// system, narrowed here to one YAML file of flag defaults — lymbo has
// no ServiceClass/Workflow entity store to load).
package cliconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lymbo/internal/model"
)

// File is the shape of a lymbo config.yaml: one default per CLI flag
// that isn't set explicitly on the command line (spec.md §6's flag
// surface).
type File struct {
	GroupBy       string `yaml:"groupby"`
	Report        string `yaml:"report"`
	LogLevel      string `yaml:"log_level"`
	Log           string `yaml:"log"`
	ReportFailure string `yaml:"report_failure"`
	Workers       int    `yaml:"workers"`
	Filter        string `yaml:"filter"`
}

// Defaults is File's parsed, validated form — zero values mean "no
// default supplied, fall back to the built-in flag default".
type Defaults struct {
	GroupBy       model.GroupBy
	Report        string
	LogLevel      string
	Log           string
	ReportFailure model.ReportFailure
	Workers       int
	Filter        string
}

// Load reads a config file at path. A missing file is not an error —
// Load returns a zero Defaults, identical to not passing --config at
// all.
func Load(path string) (Defaults, error) {
	var d Defaults
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return d, nil
		}
		return d, fmt.Errorf("cliconfig: reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return d, fmt.Errorf("cliconfig: parsing %s: %w", path, err)
	}

	d.Report = f.Report
	d.LogLevel = f.LogLevel
	d.Log = f.Log
	d.Workers = f.Workers
	d.Filter = f.Filter

	if f.GroupBy != "" {
		gb, ok := model.ParseGroupBy(f.GroupBy)
		if !ok {
			return d, fmt.Errorf("cliconfig: %s: invalid groupby %q", path, f.GroupBy)
		}
		d.GroupBy = gb
	}
	if f.ReportFailure != "" {
		rf, ok := model.ParseReportFailure(f.ReportFailure)
		if !ok {
			return d, fmt.Errorf("cliconfig: %s: invalid report_failure %q", path, f.ReportFailure)
		}
		d.ReportFailure = rf
	}

	return d, nil
}
