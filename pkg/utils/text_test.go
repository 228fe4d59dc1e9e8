package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"short string unchanged", "hello", 10, "hello"},
		{"ascii cut", "hello world", 5, "hello..."},
		{"zero keeps input", "x", 0, "x"},
		{"exact length", "hello", 5, "hello"},
		{"multi-byte runes stay whole", "respuesta también", 15, "respuesta tambi..."},
		{"accent at boundary", "ñandú", 2, "ña..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.maxLen))
		})
	}
}
