package schema

// typemap.go maps declared field types to storage types and builds the
// per-cell coercion used by the importer.
//
// Coercion never fails a row. A value that cannot be converted comes back as
// nil with a *CoercionError the importer records as a warning.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/JonMunkholm/tabload/internal/descriptor"
)

// numericRegex accepts integers, decimals and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot controls "any" date parsing: two-digit years that land
// more than this many years in the future are moved back a century.
var TwoDigitYearPivot = 20

var (
	defaultTrueValues  = []string{"true", "yes", "1"}
	defaultFalseValues = []string{"false", "no", "0"}

	isoDateLayouts = []string{"2006-01-02"}

	isoDatetimeLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.999999999",
	}

	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006", "January 2, 2006", "2 January 2006",
		"20060102",
	}
	anyTimeLayouts = []string{
		"2006-01-02 15:04", "2006-01-02T15:04", "1/2/2006 15:04:05", "1/2/2006 15:04",
		"01/02/2006 15:04:05", time.RFC1123Z, time.RFC1123, time.RFC850, time.ANSIC,
	}
)

// CoerceFunc converts one raw cell. A nil value with a nil error is a null.
type CoerceFunc func(raw string) (any, error)

// CoercionError describes a cell that could not be read as its declared type.
type CoercionError struct {
	Type  DeclaredType
	Value string
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot read %q as %s", e.Value, e.Type)
}

// Mapping is the outcome of mapping one declared field.
type Mapping struct {
	Declared DeclaredType
	Type     StorageType
	Coerce   CoerceFunc

	// Warning is set when the field degrades, such as an unknown type
	// stored as text.
	Warning string
}

// MapType maps a field to its storage type and coercion. missingValues are
// the resource's null tokens.
func MapType(f descriptor.FieldSpec, missingValues []string) Mapping {
	missing := make(map[string]bool, len(missingValues))
	for _, v := range missingValues {
		missing[v] = true
	}

	switch declared := ParseDeclaredType(f.Type); declared {
	case TypeString:
		return Mapping{Declared: declared, Type: Text, Coerce: coerceString(missing)}

	case TypeInteger:
		return Mapping{Declared: declared, Type: Integer, Coerce: nullable(missing, parseInteger(f))}

	case TypeNumber:
		return Mapping{Declared: declared, Type: Float, Coerce: nullable(missing, parseNumber(f))}

	case TypeBoolean:
		return Mapping{Declared: declared, Type: Boolean, Coerce: nullable(missing, parseBoolean(f))}

	case TypeDate, TypeDatetime:
		parse, warning := parseTemporal(f, declared)
		storage := Date
		if declared == TypeDatetime {
			storage = Datetime
		}
		return Mapping{Declared: declared, Type: storage, Coerce: nullable(missing, parse), Warning: warning}

	default:
		return Mapping{
			Declared: TypeUnknown,
			Type:     Text,
			Coerce:   func(raw string) (any, error) { return raw, nil },
			Warning:  fmt.Sprintf("field %q has unsupported type %q; stored as text", f.Name, f.Type),
		}
	}
}

// coerceString keeps empty strings as empty. Only explicit non-empty
// missing-value tokens become null.
func coerceString(missing map[string]bool) CoerceFunc {
	return func(raw string) (any, error) {
		if raw != "" && missing[raw] {
			return nil, nil
		}
		return raw, nil
	}
}

func nullable(missing map[string]bool, parse CoerceFunc) CoerceFunc {
	return func(raw string) (any, error) {
		if missing[raw] {
			return nil, nil
		}
		trimmed := strings.TrimSpace(raw)
		if trimmed != raw && missing[trimmed] {
			return nil, nil
		}
		v, err := parse(trimmed)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// numericText normalizes a number cell: it drops group separators, swaps a
// custom decimal char for '.', and for non-bare numbers strips currency
// symbols, percent signs and accounting parentheses.
func numericText(f descriptor.FieldSpec, s string) string {
	if !f.IsBareNumber() {
		negative := false
		if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
			negative = true
			s = s[1 : len(s)-1]
		}
		s = strings.TrimFunc(s, func(r rune) bool {
			return !(r >= '0' && r <= '9') && r != '+' && r != '-' && string(r) != decimalChar(f)
		})
		if negative && s != "" {
			s = "-" + s
		}
	}
	if f.GroupChar != "" {
		s = strings.ReplaceAll(s, f.GroupChar, "")
	}
	if dc := decimalChar(f); dc != "." {
		s = strings.ReplaceAll(s, dc, ".")
	}
	return s
}

func decimalChar(f descriptor.FieldSpec) string {
	if f.DecimalChar == "" {
		return "."
	}
	return f.DecimalChar
}

func parseInteger(f descriptor.FieldSpec) CoerceFunc {
	return func(s string) (any, error) {
		n, err := strconv.ParseInt(numericText(f, s), 10, 64)
		if err != nil {
			return nil, &CoercionError{Type: TypeInteger, Value: s}
		}
		return n, nil
	}
}

func parseNumber(f descriptor.FieldSpec) CoerceFunc {
	return func(s string) (any, error) {
		text := numericText(f, s)
		if !numericRegex.MatchString(text) {
			return nil, &CoercionError{Type: TypeNumber, Value: s}
		}
		n, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsInf(n, 0) {
			return nil, &CoercionError{Type: TypeNumber, Value: s}
		}
		return n, nil
	}
}

func parseBoolean(f descriptor.FieldSpec) CoerceFunc {
	trueValues, falseValues := f.TrueValues, f.FalseValues
	if len(trueValues) == 0 {
		trueValues = defaultTrueValues
	}
	if len(falseValues) == 0 {
		falseValues = defaultFalseValues
	}

	values := make(map[string]bool, len(trueValues)+len(falseValues))
	for _, v := range falseValues {
		values[strings.ToLower(v)] = false
	}
	for _, v := range trueValues {
		values[strings.ToLower(v)] = true
	}

	return func(s string) (any, error) {
		b, ok := values[strings.ToLower(s)]
		if !ok {
			return nil, &CoercionError{Type: TypeBoolean, Value: s}
		}
		return b, nil
	}
}

// parseTemporal builds the parser for a date or datetime field.
//
// Format "" and "default" mean ISO 8601. "any" tries a list of common
// layouts. Anything else is a strftime pattern, optionally prefixed "fmt:".
func parseTemporal(f descriptor.FieldSpec, declared DeclaredType) (CoerceFunc, string) {
	format := strings.TrimSpace(f.Format)

	var layouts []string
	switch format {
	case "", "default":
		layouts = isoDateLayouts
		if declared == TypeDatetime {
			layouts = isoDatetimeLayouts
		}
	case "any":
		layouts = append([]string{}, fourDigitYearLayouts...)
		if declared == TypeDatetime {
			layouts = append(append(append([]string{}, isoDatetimeLayouts...), anyTimeLayouts...), layouts...)
		}
	default:
		// strftime.Parse uses the parsing layout, so %d and %m also accept
		// unpadded values such as 1/2/2020.
		pattern := strings.TrimPrefix(format, "fmt:")
		if _, err := strftime.Parse(pattern, ""); isFormatError(err) {
			return failing(declared), fmt.Sprintf("field %q has invalid %s format %q: %v", f.Name, declared, f.Format, err)
		}
		return func(s string) (any, error) {
			t, err := strftime.Parse(pattern, s)
			if err != nil {
				return nil, &CoercionError{Type: declared, Value: s}
			}
			return normalize(t, declared), nil
		}, ""
	}

	twoDigit := format == "any"
	return func(s string) (any, error) {
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return normalize(t, declared), nil
			}
		}
		if twoDigit {
			pivot := time.Now().Year() + TwoDigitYearPivot
			for _, layout := range twoDigitYearLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					if t.Year() > pivot {
						t = t.AddDate(-100, 0, 0)
					}
					return normalize(t, declared), nil
				}
			}
		}
		return nil, &CoercionError{Type: declared, Value: s}
	}, ""
}

// isFormatError reports whether a strftime.Parse failure came from the
// pattern itself rather than from the (empty) value.
func isFormatError(err error) bool {
	if err == nil {
		return false
	}
	_, isTimeErr := err.(*time.ParseError)
	return !isTimeErr
}

func failing(declared DeclaredType) CoerceFunc {
	return func(s string) (any, error) {
		return nil, &CoercionError{Type: declared, Value: s}
	}
}

// normalize stores dates as UTC midnight and datetimes in UTC.
func normalize(t time.Time, declared DeclaredType) time.Time {
	if declared == TypeDate {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return t.UTC()
}
