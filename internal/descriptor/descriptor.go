// Package descriptor parses tabular data package descriptors.
//
// A descriptor lists the CSV resources of a package together with their
// field schemas. Both JSON (datapackage.json) and YAML (datapackage.yaml)
// encodings are accepted; unknown keys are ignored.
package descriptor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of a descriptor document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrInvalidDescriptor wraps every parse and shape problem of a descriptor.
var ErrInvalidDescriptor = errors.New("invalid descriptor")

// PackageDescriptor is the parsed package document.
type PackageDescriptor struct {
	Name      string         `json:"name" yaml:"name"`
	Title     string         `json:"title,omitempty" yaml:"title,omitempty"`
	Resources []ResourceSpec `json:"resources" yaml:"resources"`
}

// ResourceSpec describes one tabular file and the table it becomes.
type ResourceSpec struct {
	Name     string     `json:"name" yaml:"name"`
	Path     string     `json:"path" yaml:"path"`
	Encoding string     `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	Dialect  Dialect    `json:"dialect,omitempty" yaml:"dialect,omitempty"`
	Schema   SchemaSpec `json:"schema" yaml:"schema"`
}

// Dialect holds the CSV options the loader honours.
type Dialect struct {
	Delimiter string `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
}

// SchemaSpec is a resource's table schema.
type SchemaSpec struct {
	Fields []FieldSpec `json:"fields" yaml:"fields"`

	// MissingValues lists cell values read as null. Defaults to [""].
	MissingValues []string `json:"missingValues,omitempty" yaml:"missingValues,omitempty"`
}

// FieldSpec is one declared column.
type FieldSpec struct {
	Name   string `json:"name" yaml:"name"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	TrueValues  []string `json:"trueValues,omitempty" yaml:"trueValues,omitempty"`
	FalseValues []string `json:"falseValues,omitempty" yaml:"falseValues,omitempty"`
	DecimalChar string   `json:"decimalChar,omitempty" yaml:"decimalChar,omitempty"`
	GroupChar   string   `json:"groupChar,omitempty" yaml:"groupChar,omitempty"`
	BareNumber  *bool    `json:"bareNumber,omitempty" yaml:"bareNumber,omitempty"`
}

// Fields returns the resource's declared fields in order.
func (r ResourceSpec) Fields() []FieldSpec {
	return r.Schema.Fields
}

// MissingValues returns the tokens read as null, defaulting to the empty string.
func (r ResourceSpec) MissingValues() []string {
	if r.Schema.MissingValues == nil {
		return []string{""}
	}
	return r.Schema.MissingValues
}

// Delimiter returns the CSV delimiter as a rune, defaulting to a comma.
func (r ResourceSpec) Delimiter() rune {
	if d := []rune(r.Dialect.Delimiter); len(d) == 1 {
		return d[0]
	}
	return ','
}

// DisplayName is the resource name, or the data file name when unnamed.
func (r ResourceSpec) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	base := filepath.Base(filepath.FromSlash(r.Path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsBareNumber reports whether numbers must be free of surrounding symbols.
func (f FieldSpec) IsBareNumber() bool {
	return f.BareNumber == nil || *f.BareNumber
}

// FormatFromPath picks the descriptor encoding from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes a descriptor document.
func Parse(data []byte, format Format) (*PackageDescriptor, error) {
	var pkg PackageDescriptor

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &pkg); err != nil {
			return nil, fmt.Errorf("%w: yaml: %v", ErrInvalidDescriptor, err)
		}
	case FormatJSON, "":
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&pkg); err != nil {
			return nil, fmt.Errorf("%w: json: %v", ErrInvalidDescriptor, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidDescriptor, format)
	}

	if err := pkg.validate(); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// validate checks the shape problems that make the whole document unusable.
// Per-resource problems (bad field names, missing paths) are left to the
// loader so sibling resources still import.
func (p *PackageDescriptor) validate() error {
	if p.Resources == nil {
		return fmt.Errorf("%w: missing resources list", ErrInvalidDescriptor)
	}
	for i, r := range p.Resources {
		if d := r.Dialect.Delimiter; d != "" && len([]rune(d)) != 1 {
			return fmt.Errorf("%w: resource %d: delimiter %q must be a single character", ErrInvalidDescriptor, i, d)
		}
	}
	return nil
}
