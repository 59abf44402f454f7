package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeRequestedName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"Report", "Report"},
		{"Hi Mom -+Jjo--!", "Hi Mom -☺-!"},
		{"+ZeVnLIqe-", "日本語"},
		{"A+ImIDkQ.", "A≢Α."},
		{"1 +- 1", "1 + 1"},
		// Not UTF-7: returned as sent.
		{"a+b", "a+b"},
		{"C++", "C++"},
		{"Résumé+1", "Résumé+1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decodeRequestedName(tt.in), "input %q", tt.in)
	}
}
