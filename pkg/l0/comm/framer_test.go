package comm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineFramer(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		lines  []string
		rest   string
	}{
		{
			name:   "single line",
			chunks: []string{"L 1\n"},
			lines:  []string{"L 1"},
		},
		{
			name:   "split across reads",
			chunks: []string{"A D1", "B6 BC", "D4\r", "\n"},
			lines:  []string{"A D1B6 BCD4"},
		},
		{
			name:   "carriage returns dropped anywhere",
			chunks: []string{"\rL\r 0\r\n"},
			lines:  []string{"L 0"},
		},
		{
			name:   "several lines in one read",
			chunks: []string{"e\n# 1\nT 00000064\n"},
			lines:  []string{"e", "# 1", "T 00000064"},
		},
		{
			name:   "empty line",
			chunks: []string{"\n"},
			lines:  []string{""},
		},
		{
			name:   "partial kept",
			chunks: []string{"RetroSPEX v2", ".1"},
			rest:   "RetroSPEX v2.1",
		},
		{
			name:   "high bit stripped",
			chunks: []string{string([]byte{'L' | 0x80, ' ', '1', '\n' | 0x80})},
			lines:  []string{"L 1"},
		},
	}
	for _, test := range tests {
		var f LineFramer
		var lines []string
		for _, chunk := range test.chunks {
			lines = append(lines, f.Feed([]byte(chunk))...)
		}
		require.Equalf(t, test.lines, lines, "%s: lines", test.name)
		require.Equalf(t, test.rest, f.Pending(), "%s: pending", test.name)
	}
}

func TestLineFramerNoData(t *testing.T) {
	var f LineFramer
	require.Empty(t, f.Feed(nil))
	require.Empty(t, f.Feed([]byte{}))
	f.Feed([]byte("abc"))
	f.Reset()
	require.Equal(t, []string{"x"}, f.Feed([]byte("x\n")))
}
