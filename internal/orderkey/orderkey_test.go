package orderkey

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_RoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC)

	gotTime, gotID, err := Decode(Encode(ts, "user-42"))
	require.NoError(t, err)
	assert.True(t, gotTime.Equal(ts), "expected %v, got %v", ts, gotTime)
	assert.Equal(t, "user-42", gotID)
}

func TestEncode_IDContainingSeparator(t *testing.T) {
	_, id, err := Decode(Encode(time.Unix(1700000000, 0), "a#b#c"))
	require.NoError(t, err)
	assert.Equal(t, "a#b#c", id)
}

func TestEncode_OrderMatchesTimestampThenID(t *testing.T) {
	base := time.Unix(1700000000, 0)
	keys := []string{
		Encode(base.Add(time.Second), "a"),
		Encode(base, "b"),
		Encode(base, "a"),
		Encode(base.Add(-time.Hour), "z"),
		Encode(base, "ab"),
	}
	want := []string{
		Encode(base.Add(-time.Hour), "z"),
		Encode(base, "a"),
		Encode(base, "ab"),
		Encode(base, "b"),
		Encode(base.Add(time.Second), "a"),
	}

	sort.Strings(keys)
	assert.Equal(t, want, keys)
}

func TestEncode_ClampsPreEpoch(t *testing.T) {
	ts, _, err := Decode(Encode(time.Unix(-10, 0), "x"))
	require.NoError(t, err)
	assert.Zero(t, ts.UnixNano())
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"too short", "123#a"},
		{"missing separator", "00000000000000000001xabc"},
		{"non numeric", "0000000000000000000a#abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.key)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
