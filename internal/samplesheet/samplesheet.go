// Package samplesheet reads the dataset description that drives fan-out:
// a delimited table with one row per sample. The sheet is validated in full
// before the workflow builder creates a single task.
package samplesheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Required column names.
const (
	ColSample = "sample"
	ColPath   = "path"
)

// Row is one sample: an identifier and the location of its source reads.
type Row struct {
	Sample string
	Path   string
	// Extra holds any additional columns, keyed by header name.
	Extra map[string]string
}

// Sheet is an ordered collection of validated sample rows.
type Sheet struct {
	Rows []Row
}

// Load reads and validates a sample sheet from disk. The delimiter is
// chosen by extension: .tsv and .txt are tab-separated, everything else is
// comma-separated.
func Load(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sample sheet: %w", err)
	}
	defer f.Close()

	comma := ','
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".txt":
		comma = '\t'
	}
	return Parse(f, comma)
}

// Parse reads and validates a sample sheet from r using the given delimiter.
func Parse(r io.Reader, comma rune) (*Sheet, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing sample sheet: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("sample sheet is empty, expected a header row with columns '%s' and '%s'", ColSample, ColPath)
	}

	header := records[0]
	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{ColSample, ColPath} {
		if _, ok := colIdx[required]; !ok {
			return nil, fmt.Errorf("sample sheet is missing required column '%s'", required)
		}
	}

	seenSamples := make(map[string]struct{})
	seenPaths := make(map[string]struct{})
	sheet := &Sheet{}

	for lineNo, rec := range records[1:] {
		sample := strings.TrimSpace(rec[colIdx[ColSample]])
		srcPath := strings.TrimSpace(rec[colIdx[ColPath]])
		if sample == "" || srcPath == "" {
			return nil, fmt.Errorf("sample sheet row %d has an empty '%s' or '%s' value", lineNo+2, ColSample, ColPath)
		}
		if _, dup := seenSamples[sample]; dup {
			return nil, fmt.Errorf("duplicate sample identifier '%s' in sample sheet", sample)
		}
		if _, dup := seenPaths[srcPath]; dup {
			return nil, fmt.Errorf("duplicate source path '%s' in sample sheet", srcPath)
		}
		seenSamples[sample] = struct{}{}
		seenPaths[srcPath] = struct{}{}

		extra := make(map[string]string)
		for name, idx := range colIdx {
			if name == ColSample || name == ColPath || idx >= len(rec) {
				continue
			}
			extra[name] = strings.TrimSpace(rec[idx])
		}
		sheet.Rows = append(sheet.Rows, Row{Sample: sample, Path: srcPath, Extra: extra})
	}

	return sheet, nil
}
