// Package codec implements the text wire format spoken over the bridge
// channel. A request is a list of token groups:
//
//	get:name;set:name:type:value;cmd:name:action[:duration]
//
// and a reply is the matching list of results joined the same way. There is
// no escaping, so separators can never appear inside names or values.
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"xpbridge/internal/types"
)

const (
	RecordSep      = ";"
	FieldSep       = ":"
	ElemSep        = ","
	LineTerminator = "\n"
)

var (
	ErrUnknownType    = errors.New("unknown type")
	ErrMalformedValue = errors.New("malformed value")
)

// Tokenize splits a raw request into token groups. A single dangling record
// separator at the end of the request does not produce an empty group; any
// other empty group or field is kept so the caller can reject it in place.
// An empty request yields no groups.
func Tokenize(raw string) [][]string {
	if raw == "" {
		return nil
	}
	raw = strings.TrimSuffix(raw, RecordSep)

	records := strings.Split(raw, RecordSep)
	groups := make([][]string, 0, len(records))
	for _, rec := range records {
		groups = append(groups, strings.Split(rec, FieldSep))
	}
	return groups
}

// JoinReplies concatenates per-group results in input order.
func JoinReplies(replies []string) string {
	return strings.Join(replies, RecordSep)
}

// ParseType reads a declared type id. Only single, known ids are accepted;
// a client cannot write through a combined mask.
func ParseType(s string) (types.TypeID, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return types.TypeUnknown, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	t := types.TypeID(n)
	if !t.Single() {
		return types.TypeUnknown, fmt.Errorf("%w: %d", ErrUnknownType, n)
	}
	return t, nil
}

// ParseValue converts the textual value of a set request into a TypedValue,
// using the declared type as the authoritative tag.
func ParseValue(typeStr, value string) (types.TypedValue, error) {
	t, err := ParseType(typeStr)
	if err != nil {
		return types.TypedValue{}, err
	}

	switch t {
	case types.TypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return types.TypedValue{}, fmt.Errorf("%w: int %q", ErrMalformedValue, value)
		}
		return types.IntValue(int32(n)), nil

	case types.TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
		if err != nil {
			return types.TypedValue{}, fmt.Errorf("%w: float %q", ErrMalformedValue, value)
		}
		return types.FloatValue(float32(f)), nil

	case types.TypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return types.TypedValue{}, fmt.Errorf("%w: double %q", ErrMalformedValue, value)
		}
		return types.DoubleValue(f), nil

	case types.TypeIntArray:
		var out []int32
		err := eachElem(value, func(elem string) error {
			n, err := strconv.ParseInt(elem, 10, 32)
			if err != nil {
				return err
			}
			out = append(out, int32(n))
			return nil
		})
		if err != nil {
			return types.TypedValue{}, fmt.Errorf("%w: int array: %v", ErrMalformedValue, err)
		}
		return types.IntArrayValue(out), nil

	case types.TypeFloatArray:
		var out []float32
		err := eachElem(value, func(elem string) error {
			f, err := strconv.ParseFloat(elem, 32)
			if err != nil {
				return err
			}
			out = append(out, float32(f))
			return nil
		})
		if err != nil {
			return types.TypedValue{}, fmt.Errorf("%w: float array: %v", ErrMalformedValue, err)
		}
		return types.FloatArrayValue(out), nil

	case types.TypeData:
		return types.BytesValue([]byte(value)), nil
	}

	return types.TypedValue{}, fmt.Errorf("%w: %d", ErrUnknownType, t)
}

// eachElem walks a comma-separated list left to right and stops once
// MaxArrayElems elements were handed to fn. The rest of the input is never
// looked at.
func eachElem(list string, fn func(string) error) error {
	if list == "" {
		return nil
	}
	rest := list
	for n := 0; n < types.MaxArrayElems; n++ {
		elem, tail, more := strings.Cut(rest, ElemSep)
		if err := fn(strings.TrimSpace(elem)); err != nil {
			return err
		}
		if !more {
			return nil
		}
		rest = tail
	}
	return nil
}

// FormatValue renders the value part of a get result.
func FormatValue(v types.TypedValue) (string, error) {
	switch v.Kind() {
	case types.TypeInt:
		n, _ := v.Int()
		return strconv.FormatInt(int64(n), 10), nil
	case types.TypeFloat:
		f, _ := v.Float()
		return strconv.FormatFloat(float64(f), 'g', -1, 32), nil
	case types.TypeDouble:
		f, _ := v.Double()
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case types.TypeIntArray:
		arr, _ := v.IntArray()
		parts := make([]string, len(arr))
		for i, n := range arr {
			parts[i] = strconv.FormatInt(int64(n), 10)
		}
		return strings.Join(parts, ElemSep), nil
	case types.TypeFloatArray:
		arr, _ := v.FloatArray()
		parts := make([]string, len(arr))
		for i, f := range arr {
			parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
		return strings.Join(parts, ElemSep), nil
	case types.TypeData:
		b, _ := v.Bytes()
		return string(b), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownType, v.Type())
}

// EncodeResult renders a full get result as name:type:value.
func EncodeResult(name string, v types.TypedValue) (string, error) {
	val, err := FormatValue(v)
	if err != nil {
		return "", err
	}
	return name + FieldSep + strconv.FormatInt(int64(v.Type()), 10) + FieldSep + val, nil
}

// DecodeResult parses a get result back into its name and value. The value
// is decoded according to the primary variant of the reported type.
func DecodeResult(s string) (string, types.TypedValue, error) {
	name, rest, ok := strings.Cut(s, FieldSep)
	if !ok {
		return "", types.TypedValue{}, fmt.Errorf("%w: %q", ErrMalformedValue, s)
	}
	typeStr, val, ok := strings.Cut(rest, FieldSep)
	if !ok {
		return "", types.TypedValue{}, fmt.Errorf("%w: %q", ErrMalformedValue, s)
	}
	mask, err := strconv.ParseInt(typeStr, 10, 32)
	if err != nil {
		return "", types.TypedValue{}, fmt.Errorf("%w: %q", ErrUnknownType, typeStr)
	}
	reported := types.TypeID(mask)
	primary := reported.Primary()
	v, err := ParseValue(strconv.FormatInt(int64(primary), 10), val)
	if err != nil {
		return "", types.TypedValue{}, err
	}
	return name, v.WithType(reported), nil
}
