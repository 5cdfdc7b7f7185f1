package shlex

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		line string
		want [][]string
	}{
		{
			name: "single program",
			line: "echo hi",
			want: [][]string{{"echo", "hi"}},
		},
		{
			name: "extra whitespace",
			line: "  echo \t hi  ",
			want: [][]string{{"echo", "hi"}},
		},
		{
			name: "two stage pipeline",
			line: "printf ab | tr a X",
			want: [][]string{{"printf", "ab"}, {"tr", "a", "X"}},
		},
		{
			name: "pipe without surrounding spaces",
			line: "printf ab|tr a X",
			want: [][]string{{"printf", "ab"}, {"tr", "a", "X"}},
		},
		{
			name: "single quotes verbatim",
			line: `echo 'a "b" \n c'`,
			want: [][]string{{"echo", `a "b" \n c`}},
		},
		{
			name: "double quote escapes",
			line: `echo "a \"b\" \\ c"`,
			want: [][]string{{"echo", `a "b" \ c`}},
		},
		{
			name: "double quote keeps other backslashes",
			line: `echo "a\nb"`,
			want: [][]string{{"echo", `a\nb`}},
		},
		{
			name: "backslash space outside quotes",
			line: `cat my\ file`,
			want: [][]string{{"cat", "my file"}},
		},
		{
			name: "backslash before other byte is literal",
			line: `echo a\b`,
			want: [][]string{{"echo", `a\b`}},
		},
		{
			name: "empty quoted token survives",
			line: `printf '' x`,
			want: [][]string{{"printf", "", "x"}},
		},
		{
			name: "quotes concatenate with adjacent bytes",
			line: `echo pre'mid'post`,
			want: [][]string{{"echo", "premidpost"}},
		},
		{
			name: "pipe inside quotes is literal",
			line: `echo 'a | b'`,
			want: [][]string{{"echo", "a | b"}},
		},
		{
			name: "three stages",
			line: "cat f | sort | uniq -c",
			want: [][]string{{"cat", "f"}, {"sort"}, {"uniq", "-c"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "empty line", line: ""},
		{name: "whitespace only", line: "   "},
		{name: "leading pipe", line: "| cat"},
		{name: "trailing pipe", line: "cat |"},
		{name: "double pipe", line: "cat || sort"},
		{name: "unterminated single quote", line: "echo 'oops"},
		{name: "unterminated double quote", line: `echo "oops`},
		{name: "trailing backslash", line: `echo oops\`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split(tt.line)
			require.Error(t, err)
			var perr *ParseError
			assert.True(t, errors.As(err, &perr), "error should be a *ParseError, got %T", err)
		})
	}
}

func TestSplitIdempotent(t *testing.T) {
	// Re-tokenizing the surviving argv of a simple command changes nothing.
	got, err := Split("tr a X")
	require.NoError(t, err)
	require.Len(t, got, 1)

	again, err := Split(strings.Join(got[0], " "))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}
