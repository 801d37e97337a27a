package codec

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xpbridge/internal/types"
)

func TestTokenize(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want [][]string
	}{
		{"batch", "get:alpha;set:beta:1:42", [][]string{{"get", "alpha"}, {"set", "beta", "1", "42"}}},
		{"single", "get:alpha", [][]string{{"get", "alpha"}}},
		{"dangling separator", "get:alpha;", [][]string{{"get", "alpha"}}},
		{"empty middle group", "get:a;;get:b", [][]string{{"get", "a"}, {""}, {"get", "b"}}},
		{"double dangling", "get:a;;", [][]string{{"get", "a"}, {""}}},
		{"empty trailing field", "set:x:1:", [][]string{{"set", "x", "1", ""}}},
		{"only separator", ";", [][]string{{""}}},
		{"empty", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Tokenize(tc.raw))
		})
	}
}

func TestJoinReplies(t *testing.T) {
	assert.Equal(t, "{ok};a:1:2", JoinReplies([]string{"{ok}", "a:1:2"}))
	assert.Equal(t, "", JoinReplies(nil))
}

func TestParseType(t *testing.T) {
	for _, id := range []types.TypeID{1, 2, 4, 8, 16, 32} {
		got, err := ParseType(strconv.Itoa(int(id)))
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
	for _, bad := range []string{"0", "3", "64", "x", "", "-1"} {
		_, err := ParseType(bad)
		assert.ErrorIs(t, err, ErrUnknownType, bad)
	}
}

func TestParseValueScalars(t *testing.T) {
	v, err := ParseValue("1", "42")
	require.NoError(t, err)
	n, ok := v.Int()
	require.True(t, ok)
	assert.Equal(t, int32(42), n)

	v, err = ParseValue("2", "1.5")
	require.NoError(t, err)
	f, ok := v.Float()
	require.True(t, ok)
	assert.Equal(t, float32(1.5), f)

	v, err = ParseValue("4", "-0.125")
	require.NoError(t, err)
	d, ok := v.Double()
	require.True(t, ok)
	assert.Equal(t, -0.125, d)

	_, err = ParseValue("1", "abc")
	assert.ErrorIs(t, err, ErrMalformedValue)
	_, err = ParseValue("1", "99999999999")
	assert.ErrorIs(t, err, ErrMalformedValue)
}

func TestParseValueArrays(t *testing.T) {
	v, err := ParseValue("16", "1,2,3")
	require.NoError(t, err)
	ints, ok := v.IntArray()
	require.True(t, ok)
	assert.Equal(t, []int32{1, 2, 3}, ints)

	v, err = ParseValue("8", "0.5, 1.25")
	require.NoError(t, err)
	floats, ok := v.FloatArray()
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 1.25}, floats)

	v, err = ParseValue("16", "")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Len())

	_, err = ParseValue("16", "1,,3")
	assert.ErrorIs(t, err, ErrMalformedValue)
}

func TestParseValueArrayTruncatesAtCapacity(t *testing.T) {
	elems := make([]string, types.MaxArrayElems+50)
	for i := range elems {
		elems[i] = strconv.Itoa(i)
	}
	// Anything past the capacity is never parsed, even if it is garbage.
	raw := strings.Join(elems, ",") + ",garbage"

	v, err := ParseValue("16", raw)
	require.NoError(t, err)
	assert.Equal(t, types.MaxArrayElems, v.Len())
	ints, _ := v.IntArray()
	assert.Equal(t, int32(types.MaxArrayElems-1), ints[len(ints)-1])
}

func TestParseValueBytesTruncates(t *testing.T) {
	raw := strings.Repeat("x", types.MaxArrayElems+10)
	v, err := ParseValue("32", raw)
	require.NoError(t, err)
	assert.Equal(t, types.MaxArrayElems, v.Len())

	v, err = ParseValue("32", "hello world")
	require.NoError(t, err)
	b, ok := v.Bytes()
	require.True(t, ok)
	assert.Equal(t, []byte("hello world"), b)
}

func TestEncodeDecodeResult(t *testing.T) {
	cases := []struct {
		typ   string
		value string
	}{
		{"1", "-7"},
		{"2", "0.1"},
		{"4", "3.141592653589793"},
		{"8", "1,2.5,-3"},
		{"16", "4,5,6"},
		{"32", "tail number"},
	}
	for _, tc := range cases {
		t.Run(tc.typ, func(t *testing.T) {
			v, err := ParseValue(tc.typ, tc.value)
			require.NoError(t, err)

			s, err := EncodeResult("sim/x", v)
			require.NoError(t, err)
			assert.Equal(t, "sim/x:"+tc.typ+":"+tc.value, s)

			name, back, err := DecodeResult(s)
			require.NoError(t, err)
			assert.Equal(t, "sim/x", name)
			assert.Equal(t, v, back)
		})
	}
}

func TestEncodeResultReportsMask(t *testing.T) {
	v := types.FloatValue(2).WithType(types.TypeFloat | types.TypeDouble)
	s, err := EncodeResult("sim/y", v)
	require.NoError(t, err)
	assert.Equal(t, "sim/y:6:2", s)
}

func TestFormatValueUnknown(t *testing.T) {
	_, err := FormatValue(types.TypedValue{})
	assert.ErrorIs(t, err, ErrUnknownType)
}
