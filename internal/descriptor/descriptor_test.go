package descriptor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

const financialsJSON = `{
  "name": "s-and-p-500-companies",
  "resources": [
    {
      "name": "constituents_financials",
      "path": "data/constituents-financials.csv",
      "schema": {
        "fields": [
          {"name": "Symbol", "type": "string"},
          {"name": "Name", "type": "string"},
          {"name": "Price", "type": "number"},
          {"name": "Price/Earnings", "type": "number"}
        ]
      }
    }
  ]
}`

const financialsYAML = `
name: s-and-p-500-companies
resources:
  - name: constituents_financials
    path: data/constituents-financials.csv
    dialect:
      delimiter: ";"
    schema:
      missingValues: ["", "NA"]
      fields:
        - name: Symbol
          type: string
        - name: Listed
          type: boolean
          trueValues: ["Y"]
          falseValues: ["N"]
        - name: Price
          type: number
          decimalChar: ","
          bareNumber: false
`

func TestParse_JSON(t *testing.T) {
	pkg, err := Parse([]byte(financialsJSON), FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if pkg.Name != "s-and-p-500-companies" {
		t.Errorf("Name = %q", pkg.Name)
	}
	if len(pkg.Resources) != 1 {
		t.Fatalf("len(Resources) = %d, want 1", len(pkg.Resources))
	}

	res := pkg.Resources[0]
	if res.Path != "data/constituents-financials.csv" {
		t.Errorf("Path = %q", res.Path)
	}
	if len(res.Fields()) != 4 {
		t.Fatalf("len(Fields) = %d, want 4", len(res.Fields()))
	}
	if f := res.Fields()[3]; f.Name != "Price/Earnings" || f.Type != "number" {
		t.Errorf("Fields[3] = %+v", f)
	}
	if res.Delimiter() != ',' {
		t.Errorf("Delimiter() = %q, want ','", res.Delimiter())
	}
	if mv := res.MissingValues(); len(mv) != 1 || mv[0] != "" {
		t.Errorf("MissingValues() = %q, want [\"\"]", mv)
	}
}

func TestParse_YAML(t *testing.T) {
	pkg, err := Parse([]byte(financialsYAML), FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	res := pkg.Resources[0]
	if res.Delimiter() != ';' {
		t.Errorf("Delimiter() = %q, want ';'", res.Delimiter())
	}
	if mv := res.MissingValues(); len(mv) != 2 || mv[1] != "NA" {
		t.Errorf("MissingValues() = %q", mv)
	}

	listed := res.Fields()[1]
	if len(listed.TrueValues) != 1 || listed.TrueValues[0] != "Y" {
		t.Errorf("TrueValues = %q", listed.TrueValues)
	}

	price := res.Fields()[2]
	if price.DecimalChar != "," {
		t.Errorf("DecimalChar = %q", price.DecimalChar)
	}
	if price.IsBareNumber() {
		t.Error("IsBareNumber() = true, want false")
	}
	if !res.Fields()[0].IsBareNumber() {
		t.Error("IsBareNumber() default should be true")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		format Format
	}{
		{"malformed json", `{"resources": [`, FormatJSON},
		{"no resources", `{"name": "x"}`, FormatJSON},
		{"wrong shape", `{"resources": {"path": "a.csv"}}`, FormatJSON},
		{"bad delimiter", `{"resources": [{"path": "a.csv", "dialect": {"delimiter": ";;"}}]}`, FormatJSON},
		{"malformed yaml", "resources: [\n  - path: a.csv\n bad", FormatYAML},
		{"unknown format", `{}`, Format("toml")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input), tt.format)
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("error should wrap ErrInvalidDescriptor: %v", err)
			}
		})
	}
}

func TestParse_IgnoresUnknownKeys(t *testing.T) {
	input := `{"profile": "tabular-data-package", "licenses": [{"name": "ODC-PDDL-1.0"}],
		"resources": [{"path": "a.csv", "mediatype": "text/csv", "schema": {"fields": [], "primaryKey": "id"}}]}`
	if _, err := Parse([]byte(input), FormatJSON); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		res  ResourceSpec
		want string
	}{
		{ResourceSpec{Name: "prices", Path: "data/x.csv"}, "prices"},
		{ResourceSpec{Path: "data/constituents.csv"}, "constituents"},
		{ResourceSpec{Path: "plain"}, "plain"},
	}
	for _, tt := range tests {
		if got := tt.res.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%+v) = %q, want %q", tt.res, got, tt.want)
		}
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"datapackage.json": FormatJSON,
		"datapackage.yaml": FormatYAML,
		"pkg/DP.YML":       FormatYAML,
		"noext":            FormatJSON,
	}
	for path, want := range tests {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLocalSource_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "datapackage.json"), financialsJSON)
	writeFile(t, filepath.Join(dir, "data", "constituents-financials.csv"), "Symbol\nMMM\n")

	pkg, err := LocalSource{}.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if pkg.Root != dir {
		t.Errorf("Root = %q, want %q", pkg.Root, dir)
	}

	rc, _, err := pkg.OpenResource(pkg.Descriptor.Resources[0])
	if err != nil {
		t.Fatalf("OpenResource() error = %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "Symbol\nMMM\n" {
		t.Errorf("resource content = %q", data)
	}
}

func TestLocalSource_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datapackage.yaml")
	writeFile(t, path, financialsYAML)

	pkg, err := LocalSource{}.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if pkg.Path != path {
		t.Errorf("Path = %q, want %q", pkg.Path, path)
	}
}

func TestLocalSource_NotFound(t *testing.T) {
	dir := t.TempDir()

	_, err := LocalSource{}.Open(context.Background(), dir)
	if !errors.Is(err, ErrDescriptorNotFound) {
		t.Errorf("Open(empty dir) error = %v, want ErrDescriptorNotFound", err)
	}

	_, err = LocalSource{}.Open(context.Background(), filepath.Join(dir, "missing.json"))
	if !errors.Is(err, ErrDescriptorNotFound) {
		t.Errorf("Open(missing file) error = %v, want ErrDescriptorNotFound", err)
	}
}

func TestResourcePath_RejectsEscapes(t *testing.T) {
	pkg := &Package{Root: t.TempDir()}

	tests := []string{
		"../outside.csv",
		"data/../../outside.csv",
		"https://example.com/data.csv",
	}
	for _, p := range tests {
		_, err := pkg.ResourcePath(ResourceSpec{Path: p})
		if !errors.Is(err, ErrUnsafePath) {
			t.Errorf("ResourcePath(%q) error = %v, want ErrUnsafePath", p, err)
		}
	}

	if _, err := pkg.ResourcePath(ResourceSpec{Name: "x"}); err == nil {
		t.Error("ResourcePath() with empty path expected error")
	}

	got, err := pkg.ResourcePath(ResourceSpec{Path: "data/./a.csv"})
	if err != nil {
		t.Fatalf("ResourcePath() error = %v", err)
	}
	if want := filepath.Join(pkg.Root, "data", "a.csv"); got != want {
		t.Errorf("ResourcePath() = %q, want %q", got, want)
	}
}
