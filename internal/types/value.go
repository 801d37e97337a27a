package types

import "fmt"

// TypeID is the host's variable type identifier. Hosts may report several
// bits at once for a variable readable in more than one representation.
type TypeID int32

const (
	TypeUnknown    TypeID = 0
	TypeInt        TypeID = 1
	TypeFloat      TypeID = 2
	TypeDouble     TypeID = 4
	TypeFloatArray TypeID = 8
	TypeIntArray   TypeID = 16
	TypeData       TypeID = 32
)

// MaxArrayElems bounds every array and byte variant.
const MaxArrayElems = 1024

// Has reports whether t shares any bit with other.
func (t TypeID) Has(other TypeID) bool {
	return t&other != 0
}

// Single reports whether t is exactly one of the known variant ids.
func (t TypeID) Single() bool {
	switch t {
	case TypeInt, TypeFloat, TypeDouble, TypeFloatArray, TypeIntArray, TypeData:
		return true
	}
	return false
}

// Primary picks the variant a multi-bit mask is read as. The precedence
// mirrors what the host itself prefers for scalar reads.
func (t TypeID) Primary() TypeID {
	for _, c := range []TypeID{TypeInt, TypeFloat, TypeDouble, TypeIntArray, TypeFloatArray, TypeData} {
		if t&c != 0 {
			return c
		}
	}
	return TypeUnknown
}

func (t TypeID) String() string {
	switch t {
	case TypeUnknown:
		return "unknown"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeFloatArray:
		return "float[]"
	case TypeIntArray:
		return "int[]"
	case TypeData:
		return "data"
	default:
		return fmt.Sprintf("mask(%d)", int32(t))
	}
}

// TypedValue is an immutable host variable value. Exactly one variant is
// active, identified by Kind. Type carries the full mask the value was
// declared or reported with, which always includes Kind.
type TypedValue struct {
	kind   TypeID
	mask   TypeID
	i32    int32
	f32    float32
	f64    float64
	ints   []int32
	floats []float32
	bytes  []byte
}

// IntValue builds an int variant.
func IntValue(v int32) TypedValue {
	return TypedValue{kind: TypeInt, mask: TypeInt, i32: v}
}

// FloatValue builds a float variant.
func FloatValue(v float32) TypedValue {
	return TypedValue{kind: TypeFloat, mask: TypeFloat, f32: v}
}

// DoubleValue builds a double variant.
func DoubleValue(v float64) TypedValue {
	return TypedValue{kind: TypeDouble, mask: TypeDouble, f64: v}
}

// IntArrayValue copies at most MaxArrayElems elements of v.
func IntArrayValue(v []int32) TypedValue {
	n := min(len(v), MaxArrayElems)
	out := make([]int32, n)
	copy(out, v)
	return TypedValue{kind: TypeIntArray, mask: TypeIntArray, ints: out}
}

// FloatArrayValue copies at most MaxArrayElems elements of v.
func FloatArrayValue(v []float32) TypedValue {
	n := min(len(v), MaxArrayElems)
	out := make([]float32, n)
	copy(out, v)
	return TypedValue{kind: TypeFloatArray, mask: TypeFloatArray, floats: out}
}

// BytesValue copies at most MaxArrayElems bytes of v.
func BytesValue(v []byte) TypedValue {
	n := min(len(v), MaxArrayElems)
	out := make([]byte, n)
	copy(out, v)
	return TypedValue{kind: TypeData, mask: TypeData, bytes: out}
}

// WithType returns a copy reporting mask as its type. The active variant
// is always kept in the mask.
func (v TypedValue) WithType(mask TypeID) TypedValue {
	v.mask = mask | v.kind
	return v
}

// Kind is the active variant.
func (v TypedValue) Kind() TypeID { return v.kind }

// Type is the full reported mask.
func (v TypedValue) Type() TypeID { return v.mask }

// Valid reports whether the value holds any variant.
func (v TypedValue) Valid() bool { return v.kind != TypeUnknown }

// Len is the element count of array and byte variants, 1 for scalars and 0
// for the zero value.
func (v TypedValue) Len() int {
	switch v.kind {
	case TypeIntArray:
		return len(v.ints)
	case TypeFloatArray:
		return len(v.floats)
	case TypeData:
		return len(v.bytes)
	case TypeUnknown:
		return 0
	default:
		return 1
	}
}

func (v TypedValue) Int() (int32, bool) {
	return v.i32, v.kind == TypeInt
}

func (v TypedValue) Float() (float32, bool) {
	return v.f32, v.kind == TypeFloat
}

func (v TypedValue) Double() (float64, bool) {
	return v.f64, v.kind == TypeDouble
}

// IntArray returns a copy of the int array variant.
func (v TypedValue) IntArray() ([]int32, bool) {
	if v.kind != TypeIntArray {
		return nil, false
	}
	return append([]int32(nil), v.ints...), true
}

// FloatArray returns a copy of the float array variant.
func (v TypedValue) FloatArray() ([]float32, bool) {
	if v.kind != TypeFloatArray {
		return nil, false
	}
	return append([]float32(nil), v.floats...), true
}

// Bytes returns a copy of the byte variant.
func (v TypedValue) Bytes() ([]byte, bool) {
	if v.kind != TypeData {
		return nil, false
	}
	return append([]byte(nil), v.bytes...), true
}
