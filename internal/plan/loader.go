// Package plan loads compensation plans authored as YAML or JSON documents.
// Every document is validated against the embedded rule set schema before
// its components are decoded into the typed component union.
package plan

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/CCAFRICA/spm-platform/internal/common"
	"github.com/CCAFRICA/spm-platform/internal/model"
)

//go:embed schema/ruleset.schema.json
var ruleSetSchema []byte

const schemaURL = "ruleset.schema.json"

// Format is the encoding of a plan document.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported plan file extension %q", common.ErrInvalidPlan, filepath.Ext(path))
	}
}

var (
	compiled    *jsonschema.Schema
	compileErr  error
	compileOnce sync.Once
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(ruleSetSchema)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(schemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// Load reads a plan document, validates it and returns the rule set.
// Missing status defaults to active and missing version to 1.
func Load(r io.Reader, format Format) (*model.RuleSet, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	doc, err := toJSON(raw, format)
	if err != nil {
		return nil, err
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	var rs model.RuleSet
	if err := json.Unmarshal(doc, &rs); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidPlan, err)
	}
	if rs.Status == "" {
		rs.Status = model.RuleSetActive
	}
	if rs.Version == 0 {
		rs.Version = 1
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidPlan, err)
	}
	return &rs, nil
}

// ValidateDocument checks a JSON plan document against the rule set schema.
func ValidateDocument(doc []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(doc, &payload); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidPlan, err)
	}
	if err := s.Validate(payload); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidPlan, err)
	}
	return nil
}

// ValidateComponents checks stored variant JSON against the component
// definitions of the schema. Storage calls it when a plan is read back.
func ValidateComponents(variants []byte) error {
	doc := fmt.Sprintf(`{"name":"stored","variants":%s}`, variants)
	return ValidateDocument([]byte(doc))
}

func toJSON(raw []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return raw, nil
	case FormatYAML:
		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: parse yaml: %w", common.ErrInvalidPlan, err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: convert yaml: %w", common.ErrInvalidPlan, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown format %q", common.ErrInvalidPlan, format)
	}
}
