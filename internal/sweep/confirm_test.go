package sweep

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmPolicies(t *testing.T) {
	assert.True(t, AllowAll().Confirm("jump?"))
	assert.False(t, DenyAll().Confirm("jump?"))
}

func TestInteractiveConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"yes\n", true},
		{"  YES  \n", true},
		{"n\n", false},
		{"no\n", false},
		{"\n", false},
		{"whatever\n", false},
		{"", false}, // EOF before an answer declines
	}
	for _, tt := range tests {
		var out strings.Builder
		c := Interactive(strings.NewReader(tt.input), &out)
		assert.Equalf(t, tt.want, c.Confirm("vg reads 5 but the sweep starts at 0; jump there?"), "input %q", tt.input)
		require.Contains(t, out.String(), "[y/N]")
	}
}

func TestInteractiveConfirmSequential(t *testing.T) {
	var out strings.Builder
	c := Interactive(strings.NewReader("y\nn\n"), &out)
	assert.True(t, c.Confirm("first?"))
	assert.False(t, c.Confirm("second?"))
}
