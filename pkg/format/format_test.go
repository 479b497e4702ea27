package format

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Bytes(tt.in))
		})
	}
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "42", Number(42))
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, "45.7%", Percentage(45.678, 1))
}

func TestRate(t *testing.T) {
	tests := []struct {
		name string
		r    *big.Rat
		unit string
		want string
	}{
		{"whole", big.NewRat(15, 1), "fps", "15 fps"},
		{"fraction", big.NewRat(75, 7), "fps", "10.714 fps"},
		{"trailing zeros", big.NewRat(15, 2), "fps", "7.5 fps"},
		{"no unit", big.NewRat(150, 1), "", "150"},
		{"nil", nil, "fps", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rate(tt.r, tt.unit))
		})
	}
}

func TestTimecode(t *testing.T) {
	assert.Equal(t, "0:31:02.500", Timecode(big.NewRat(3725, 2)))
	assert.Equal(t, "1:00:00.000", Timecode(big.NewRat(3600, 1)))
	assert.Equal(t, "0:00:00.066", Timecode(big.NewRat(1, 15)))
	assert.Equal(t, "0:00:00.000", Timecode(nil))
}
