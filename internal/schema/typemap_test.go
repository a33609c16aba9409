package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/tabload/internal/descriptor"
)

var defaultMissing = []string{""}

func coerce(t *testing.T, f descriptor.FieldSpec, raw string) (any, error) {
	t.Helper()
	return MapType(f, defaultMissing).Coerce(raw)
}

func TestMapType_StorageTypes(t *testing.T) {
	tests := []struct {
		declared string
		want     StorageType
		warns    bool
	}{
		{"string", Text, false},
		{"integer", Integer, false},
		{"number", Float, false},
		{"float", Float, false},
		{"boolean", Boolean, false},
		{"date", Date, false},
		{"datetime", Datetime, false},
		{"object", Text, true},
		{"duration", Text, true},
	}

	for _, tt := range tests {
		m := MapType(descriptor.FieldSpec{Name: "f", Type: tt.declared}, defaultMissing)
		if m.Type != tt.want {
			t.Errorf("MapType(%q).Type = %s, want %s", tt.declared, m.Type, tt.want)
		}
		if (m.Warning != "") != tt.warns {
			t.Errorf("MapType(%q).Warning = %q, want warning=%v", tt.declared, m.Warning, tt.warns)
		}
	}
}

func TestCoerce_String(t *testing.T) {
	f := descriptor.FieldSpec{Name: "s", Type: "string"}

	tests := []struct {
		input string
		want  any
	}{
		{"", ""},
		{"  padded  ", "  padded  "},
		{"3M Company", "3M Company"},
	}
	for _, tt := range tests {
		got, err := coerce(t, f, tt.input)
		if err != nil || got != tt.want {
			t.Errorf("coerce(%q) = %v, %v; want %v", tt.input, got, err, tt.want)
		}
	}

	m := MapType(f, []string{"", "NA"})
	if got, _ := m.Coerce("NA"); got != nil {
		t.Errorf("explicit missing token = %v, want nil", got)
	}
	if got, _ := m.Coerce(""); got != "" {
		t.Errorf("empty string = %v, want empty string", got)
	}
}

func TestCoerce_Integer(t *testing.T) {
	f := descriptor.FieldSpec{Name: "n", Type: "integer"}

	tests := []struct {
		name    string
		input   string
		want    any
		wantErr bool
	}{
		{"plain", "42", int64(42), false},
		{"negative", "-7", int64(-7), false},
		{"plus sign", "+3", int64(3), false},
		{"whitespace", " 12 ", int64(12), false},
		{"empty is null", "", nil, false},
		{"letters", "abc", nil, true},
		{"decimal", "1.5", nil, true},
		{"overflow", "99999999999999999999", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerce(t, f, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("coerce(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("coerce(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
			if err != nil {
				var ce *CoercionError
				if !errors.As(err, &ce) || ce.Type != TypeInteger {
					t.Errorf("error = %v, want *CoercionError for integer", err)
				}
			}
		})
	}
}

func TestCoerce_Integer_GroupChar(t *testing.T) {
	f := descriptor.FieldSpec{Name: "n", Type: "integer", GroupChar: ","}
	got, err := coerce(t, f, "1,234,567")
	if err != nil || got != int64(1234567) {
		t.Errorf("coerce = %v, %v; want 1234567", got, err)
	}
}

func TestCoerce_Number(t *testing.T) {
	bareFalse := false

	tests := []struct {
		name    string
		field   descriptor.FieldSpec
		input   string
		want    any
		wantErr bool
	}{
		{"decimal", descriptor.FieldSpec{}, "222.89", 222.89, false},
		{"negative", descriptor.FieldSpec{}, "-0.5", -0.5, false},
		{"exponent", descriptor.FieldSpec{}, "1.5e3", 1500.0, false},
		{"leading point", descriptor.FieldSpec{}, ".25", 0.25, false},
		{"integer text", descriptor.FieldSpec{}, "7", 7.0, false},
		{"empty", descriptor.FieldSpec{}, "", nil, false},
		{"text", descriptor.FieldSpec{}, "abc", nil, true},
		{"nan rejected", descriptor.FieldSpec{}, "NaN", nil, true},
		{"inf rejected", descriptor.FieldSpec{}, "Inf", nil, true},
		{"hex rejected", descriptor.FieldSpec{}, "0x1p-2", nil, true},
		{"underscore rejected", descriptor.FieldSpec{}, "1_000", nil, true},
		{"overflow", descriptor.FieldSpec{}, "1e999", nil, true},
		{"currency needs bareNumber false", descriptor.FieldSpec{}, "$12.50", nil, true},
		{"currency", descriptor.FieldSpec{BareNumber: &bareFalse}, "$12.50", 12.5, false},
		{"percent", descriptor.FieldSpec{BareNumber: &bareFalse}, "95%", 95.0, false},
		{"accounting negative", descriptor.FieldSpec{BareNumber: &bareFalse}, "(10.25)", -10.25, false},
		{"european", descriptor.FieldSpec{DecimalChar: ",", GroupChar: "."}, "1.234,5", 1234.5, false},
		{"group comma", descriptor.FieldSpec{GroupChar: ","}, "1,000.75", 1000.75, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.field
			f.Name, f.Type = "x", "number"
			got, err := coerce(t, f, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("coerce(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("coerce(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCoerce_Boolean(t *testing.T) {
	f := descriptor.FieldSpec{Name: "b", Type: "boolean"}

	tests := []struct {
		input   string
		want    any
		wantErr bool
	}{
		{"true", true, false},
		{"TRUE", true, false},
		{"Yes", true, false},
		{"1", true, false},
		{"false", false, false},
		{"no", false, false},
		{"0", false, false},
		{"", nil, false},
		{"maybe", nil, true},
		{"t", nil, true},
	}
	for _, tt := range tests {
		got, err := coerce(t, f, tt.input)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("coerce(%q) = %v, %v; want %v, wantErr %v", tt.input, got, err, tt.want, tt.wantErr)
		}
	}

	custom := descriptor.FieldSpec{Name: "b", Type: "boolean", TrueValues: []string{"Y"}, FalseValues: []string{"N"}}
	if got, err := coerce(t, custom, "y"); err != nil || got != true {
		t.Errorf("custom true = %v, %v", got, err)
	}
	if _, err := coerce(t, custom, "yes"); err == nil {
		t.Error("custom values should replace the defaults")
	}
}

func TestCoerce_Date(t *testing.T) {
	day := time.Date(2017, 3, 14, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		format  string
		input   string
		want    any
		wantErr bool
	}{
		{"iso default", "", "2017-03-14", day, false},
		{"default keyword", "default", "2017-03-14", day, false},
		{"iso rejects us", "", "03/14/2017", nil, true},
		{"strftime", "%d/%m/%Y", "14/03/2017", day, false},
		{"legacy fmt prefix", "fmt:%d/%m/%Y", "14/03/2017", day, false},
		{"strftime mismatch", "%d/%m/%Y", "2017-03-14", nil, true},
		{"strftime unpadded", "%d/%m/%Y", "14/3/2017", day, false},
		{"strftime unpadded day", "%m/%d/%Y", "3/1/2017", time.Date(2017, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"any us", "any", "3/14/2017", day, false},
		{"any long", "any", "Mar 14, 2017", day, false},
		{"any two digit", "any", "3/14/17", day, false},
		{"empty", "", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := descriptor.FieldSpec{Name: "d", Type: "date", Format: tt.format}
			got, err := coerce(t, f, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("coerce(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("coerce(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if tm, ok := got.(time.Time); !ok || !tm.Equal(tt.want.(time.Time)) {
				t.Errorf("coerce(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCoerce_Datetime(t *testing.T) {
	want := time.Date(2017, 3, 14, 15, 9, 26, 0, time.UTC)

	tests := []struct {
		format string
		input  string
	}{
		{"", "2017-03-14T15:09:26Z"},
		{"", "2017-03-14T17:09:26+02:00"},
		{"", "2017-03-14T15:09:26"},
		{"", "2017-03-14 15:09:26"},
		{"%Y-%m-%dT%H:%M:%SZ", "2017-03-14T15:09:26Z"},
		{"%d.%m.%Y %H:%M:%S", "14.03.2017 15:09:26"},
	}

	for _, tt := range tests {
		f := descriptor.FieldSpec{Name: "ts", Type: "datetime", Format: tt.format}
		got, err := coerce(t, f, tt.input)
		if err != nil {
			t.Errorf("coerce(%q, %q) error = %v", tt.format, tt.input, err)
			continue
		}
		if tm := got.(time.Time); !tm.Equal(want) || tm.Location() != time.UTC {
			t.Errorf("coerce(%q, %q) = %v, want %v UTC", tt.format, tt.input, tm, want)
		}
	}

	f := descriptor.FieldSpec{Name: "ts", Type: "datetime"}
	if _, err := coerce(t, f, "2017-03-14"); err == nil {
		t.Error("date only value should not satisfy a default datetime")
	}
}

func TestMapType_InvalidDateFormat(t *testing.T) {
	m := MapType(descriptor.FieldSpec{Name: "d", Type: "date", Format: "%Y-%q"}, defaultMissing)
	if m.Warning == "" {
		t.Error("expected a warning for an invalid format")
	}
	if _, err := m.Coerce("2017-03"); err == nil {
		t.Error("values under an invalid format should not coerce")
	}
}

func TestCoerce_UnknownIsVerbatim(t *testing.T) {
	m := MapType(descriptor.FieldSpec{Name: "g", Type: "geojson"}, defaultMissing)
	for _, in := range []string{"", `{"type":"Point"}`, "  x "} {
		got, err := m.Coerce(in)
		if err != nil || got != in {
			t.Errorf("Coerce(%q) = %v, %v; want verbatim", in, got, err)
		}
	}
}

func TestCoerce_CustomMissingValues(t *testing.T) {
	m := MapType(descriptor.FieldSpec{Name: "n", Type: "integer"}, []string{"NA", "-"})

	if got, err := m.Coerce("NA"); got != nil || err != nil {
		t.Errorf("Coerce(NA) = %v, %v; want nil, nil", got, err)
	}
	if _, err := m.Coerce(""); err == nil {
		t.Error("empty string is not missing when missingValues omit it")
	}
}
