package bencode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMarshalScalars(t *testing.T) {
	var table = []struct {
		input    interface{}
		expected string
	}{
		{"example", "7:example"},
		{[]byte("example"), "7:example"},
		{42, "i42e"},
		{int64(-42), "i-42e"},
		{uint32(42), "i42e"},
		{uint64(42), "i42e"},
		{90 * time.Second, "i90e"},
		{[]string{"a", "b"}, "l1:a1:be"},
		{List{"a", 1}, "l1:ai1ee"},
		{Dict{"b": "b", "a": "a"}, "d1:a1:a1:b1:be"},
		{[]Dict{{"k": "v"}}, "ld1:k1:vee"},
	}

	for _, tt := range table {
		got, err := Marshal(tt.input)
		require.NoError(t, err)
		require.Equal(t, tt.expected, string(got), "input %#v", tt.input)
	}
}

func TestMarshalDictKeysSorted(t *testing.T) {
	got, err := Marshal(Dict{"zz": 1, "aa": 2, "mm": 3})
	require.NoError(t, err)
	require.Equal(t, "d2:aai2e2:mmi3e2:zzi1ee", string(got))
}

func TestMarshalUnsupportedType(t *testing.T) {
	_, err := Marshal(struct{}{})
	require.Error(t, err)
}
