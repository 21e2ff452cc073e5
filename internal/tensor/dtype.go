package tensor

import (
	"fmt"
	"strings"
)

// ElementType is the numeric kind of every element of a tensor.
type ElementType int

// Supported element types. Unknown is the type of an empty tensor.
const (
	Unknown ElementType = iota
	Float32
	Float64
	Float16
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Int64
)

var elementTypeNames = map[ElementType]string{
	Float32: "float32",
	Float64: "float64",
	Float16: "float16",
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Int64:   "int64",
}

// Size returns the byte size of one element, or 0 for Unknown.
func (dt ElementType) Size() int {
	switch dt {
	case Int8, Uint8:
		return 1
	case Float16, Int16, Uint16:
		return 2
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	default:
		return 0
	}
}

// String returns the lower-case name used on the wire and in config files.
func (dt ElementType) String() string {
	if name, ok := elementTypeNames[dt]; ok {
		return name
	}
	return "unknown"
}

// IsFloat reports whether dt is a floating point type.
func (dt ElementType) IsFloat() bool {
	return dt == Float16 || dt == Float32 || dt == Float64
}

// Valid reports whether dt is one of the supported element types.
func (dt ElementType) Valid() bool {
	_, ok := elementTypeNames[dt]
	return ok
}

// ParseElementType converts a name such as "float32" (or its short alias
// "f32") into an ElementType.
func ParseElementType(s string) (ElementType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "f16", "half":
		return Float16, nil
	case "f32", "float":
		return Float32, nil
	case "f64", "double":
		return Float64, nil
	}
	for dt, n := range elementTypeNames {
		if n == name {
			return dt, nil
		}
	}
	return Unknown, fmt.Errorf("%w: element type %q", ErrUnsupportedConversion, s)
}

// MarshalText implements encoding.TextMarshaler.
func (dt ElementType) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (dt *ElementType) UnmarshalText(b []byte) error {
	if len(b) == 0 || string(b) == "unknown" {
		*dt = Unknown
		return nil
	}
	parsed, err := ParseElementType(string(b))
	if err != nil {
		return err
	}
	*dt = parsed
	return nil
}
