// Package ingest turns tabular import files (CSV, JSON, YAML) into raw
// data rows, entities and benchmark records.
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CCAFRICA/spm-platform/internal/common"
)

// Format is the encoding of an import file.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Record is one decoded row keyed by column name.
type Record map[string]any

// FormatFromPath infers the file format from its extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: unsupported extension %q", common.ErrInvalidImport, filepath.Ext(path))
	}
}

// ReadRecords decodes every row of r. CSV files must carry a header row;
// JSON and YAML files hold a list of objects.
func ReadRecords(r io.Reader, format Format) ([]Record, error) {
	switch format {
	case FormatCSV:
		return readCSV(r)
	case FormatJSON:
		return readJSON(r)
	case FormatYAML:
		return readYAML(r)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", common.ErrInvalidImport, format)
	}
}

func readCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %w", common.ErrInvalidImport, err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var records []Record
	for line := 2; ; line++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %w", common.ErrInvalidImport, line, err)
		}
		rec := make(Record, len(header))
		for i, f := range fields {
			if f = strings.TrimSpace(f); f != "" {
				rec[header[i]] = f
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func readJSON(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var records []Record
	if err := dec.Decode(&records); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: parse json: %w", common.ErrInvalidImport, err)
	}
	return records, nil
}

func readYAML(r io.Reader) ([]Record, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read yaml: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var records []Record
	if err := yaml.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %w", common.ErrInvalidImport, err)
	}
	return records, nil
}

// String returns the trimmed text of a column, or "" when absent.
func (r Record) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
