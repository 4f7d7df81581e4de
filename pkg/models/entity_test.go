package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   *string
		want *string
	}{
		{in: nil, want: nil},
		{in: ptr("   "), want: nil},
		{in: ptr(" ab12 "), want: ptr("AB12")},
		{in: ptr("2374560"), want: ptr("2374560")},
	}
	for _, tt := range tests {
		got := NormalizeKey(tt.in)
		if tt.want == nil {
			assert.Nil(t, got)
			continue
		}
		require.NotNil(t, got)
		assert.Equal(t, *tt.want, *got)
	}

	in := "xy"
	NormalizeKey(&in)
	assert.Equal(t, "xy", in, "the argument is left untouched")
}

func ptr(s string) *string { return &s }
