package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		want  int
		found bool
	}{
		{"7z progress line", "7 - Compressing  42% 123", 42, true},
		{"no percent", "no percent here", 0, false},
		{"first match wins", "ignore 4%5%", 4, true},
		{"hundred", "100% done", 100, true},
		{"not range checked", "999%", 999, true},
		{"longer digit run uses last three", "1234%", 234, true},
		{"rclone transferred", "Transferred:   	  1.2 MiB / 3 MiB, 40%, 0 B/s", 40, true},
		{"percent without digits", "100 % spaced", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Percent(tt.line)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		want  Record
		found bool
	}{
		{
			name:  "update record",
			line:  "007 U testdata/file.bin",
			want:  Record{Index: 7, Opcode: "U", Path: "testdata/file.bin"},
			found: true,
		},
		{
			name:  "plus opcode",
			line:  "12 + dir/new.txt",
			want:  Record{Index: 12, Opcode: "+", Path: "dir/new.txt"},
			found: true,
		},
		{
			name:  "path with spaces preserved",
			line:  "3 A My Documents/read me.txt",
			want:  Record{Index: 3, Opcode: "A", Path: "My Documents/read me.txt"},
			found: true,
		},
		{
			name:  "embedded after progress",
			line:  " 35% 12 + testdata/a.txt",
			want:  Record{Index: 12, Opcode: "+", Path: "testdata/a.txt"},
			found: true,
		},
		{
			name:  "lowercase opcode",
			line:  "1 u file",
			found: false,
		},
		{
			name:  "no path",
			line:  "1 U",
			found: false,
		},
		{
			name:  "plain text",
			line:  "Everything is Ok",
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRecord(tt.line)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecord_String(t *testing.T) {
	r := Record{Index: 7, Opcode: "U", Path: "testdata/file.bin"}
	assert.Equal(t, "#007 op=U file=testdata/file.bin", r.String())

	r = Record{Index: 1234, Opcode: "+", Path: "x"}
	assert.Equal(t, "#1234 op=+ file=x", r.String())
}

func TestVars(t *testing.T) {
	got := Vars("A=1\nB=2\nnotakeyvalue\nA=3")
	assert.Equal(t, map[string]string{"A": "3", "B": "2"}, got)
}

func TestVars_IgnoresLinesWithSeveralEquals(t *testing.T) {
	got := Vars("Path=C:\\x\nexpr=a=b\nSize = 10\r\n")
	assert.Equal(t, map[string]string{"Path": "C:\\x", "Size ": " 10"}, got)
}

func TestVars_Empty(t *testing.T) {
	assert.Empty(t, Vars(""))
	assert.Empty(t, Vars("no pairs\nat all"))
}

func TestCompile_CustomPatterns(t *testing.T) {
	m, err := Compile(Patterns{
		Percent: `Total complete: (\d+)%`,
		Filter:  `INFO`,
	})
	require.NoError(t, err)

	_, ok := m.Percent("file 50% copied")
	assert.False(t, ok)

	n, ok := m.Percent("Total complete: 75%")
	assert.True(t, ok)
	assert.Equal(t, 75, n)

	assert.True(t, m.Keep("2024/10/12 INFO  : a.7z: Copied (new)"))
	assert.False(t, m.Keep("Transferred: 0 B"))
	assert.True(t, Default().Keep("anything"))
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		patterns Patterns
		errPart  string
	}{
		{"bad percent regex", Patterns{Percent: `(`}, "invalid percent pattern"},
		{"percent without group", Patterns{Percent: `\d+%`}, "capture group"},
		{"record with too few groups", Patterns{Record: `(\d+) (.+)`}, "three capture groups"},
		{"bad filter", Patterns{Filter: `[`}, "invalid filter pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.patterns)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}
