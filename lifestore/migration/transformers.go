package migration

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Transformer converts a field value. Numbers come in and go out as
// float64, matching stored records.
type Transformer func(value any) (any, error)

// TransformerRegistry maps transformer names to their implementations
var TransformerRegistry = map[string]Transformer{
	"toString":    ToString,
	"toInt":       ToInt,
	"toFloat":     ToFloat,
	"toBool":      ToBool,
	"toLowerCase": ToLowerCase,
	"toUpperCase": ToUpperCase,
	"trim":        Trim,
}

// HasTransformer reports whether name is a registered transformer
func HasTransformer(name string) bool {
	_, ok := TransformerRegistry[name]
	return ok
}

// TransformerNames lists the registered transformers, sorted
func TransformerNames() []string {
	names := make([]string, 0, len(TransformerRegistry))
	for name := range TransformerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", value)
	}
}

// ToString converts any value to string
func ToString(value any) (any, error) {
	if value == nil {
		return "", nil
	}
	return asString(value), nil
}

// ToInt converts a value to a whole number, truncating fractions
func ToInt(value any) (any, error) {
	f, err := ToFloat(value)
	if err != nil {
		return 0.0, err
	}
	return math.Trunc(f.(float64)), nil
}

// ToFloat converts a value to float64
func ToFloat(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return 0.0, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0.0, fmt.Errorf("cannot convert %q to number", v)
		}
		return f, nil
	case bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	default:
		return 0.0, fmt.Errorf("cannot convert %T to number", value)
	}
}

// ToBool converts a value to boolean
func ToBool(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1", "on":
			return true, nil
		case "false", "no", "0", "off", "":
			return false, nil
		default:
			return false, fmt.Errorf("cannot convert %q to bool", v)
		}
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", value)
	}
}

// ToLowerCase converts a string to lowercase
func ToLowerCase(value any) (any, error) {
	if value == nil {
		return "", nil
	}
	return cases.Lower(language.Und).String(asString(value)), nil
}

// ToUpperCase converts a string to uppercase
func ToUpperCase(value any) (any, error) {
	if value == nil {
		return "", nil
	}
	return cases.Upper(language.Und).String(asString(value)), nil
}

// Trim removes leading and trailing whitespace from a string
func Trim(value any) (any, error) {
	if value == nil {
		return "", nil
	}
	return strings.TrimSpace(asString(value)), nil
}
