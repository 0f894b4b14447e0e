package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"min int64", int64(-9223372036854775808), "-9223372036854775808"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"nested", map[string]any{"b": []any{1, "x"}, "a": map[string]any{"c": false}}, `{"a":{"c":false},"b":[1,"x"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshal_Escaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quote and backslash", `a"b\c`, `"a\"b\\c"`},
		{"short escapes", "\b\f\n\r\t", `"\b\f\n\r\t"`},
		{"other control", "\x01\x1f", `"\u0001\u001f"`},
		{"html unescaped", "<a&b>", `"<a&b>"`},
		{"line separators raw", "x\u2028y\u2029", "\"x\u2028y\u2029\""},
		{"nfc", "e\u0301", "\"\u00e9\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshal_KeysSortByUTF16(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort before U+FF5E
	// in UTF-16 but after it in UTF-8.
	in := map[string]any{"～": 1, "\U0001F600": 2, "a": 3}
	out, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":3,\"\U0001F600\":2,\"～\":1}", string(out))
}

func TestMarshal_Rejects(t *testing.T) {
	_, err := Marshal(1.5)
	assert.ErrorContains(t, err, "floats are forbidden")

	_, err = Marshal(map[string]any{"k": []any{nil}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `object["k"]`)
	assert.Contains(t, err.Error(), "array[0]")

	_, err = Marshal(struct{}{})
	assert.ErrorContains(t, err, "unsupported type")
}

func TestFingerprint_DomainSeparates(t *testing.T) {
	v := map[string]any{"a": 1}
	s1, err := Fingerprint(DomainState, v)
	require.NoError(t, err)
	s2, err := Fingerprint(DomainState, map[string]any{"a": 1})
	require.NoError(t, err)
	tr, err := Fingerprint(DomainTrace, v)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.NotEqual(t, s1, tr)
	assert.Len(t, s1, 64)
}
