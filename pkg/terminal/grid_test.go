package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGridRendering(t *testing.T) {
	var testCases = []struct {
		Name     string
		Input    string
		Expected []string
	}{
		{
			Name:     "plain text",
			Input:    "hello",
			Expected: []string{"hello"},
		},
		{
			Name:     "newline starts a new row",
			Input:    "one\r\ntwo",
			Expected: []string{"one", "two"},
		},
		{
			Name:     "carriage return overwrites the row",
			Input:    "aaaa\rbb",
			Expected: []string{"bbaa"},
		},
		{
			Name:     "backspace moves the cursor left",
			Input:    "ab\b\bcd",
			Expected: []string{"cd"},
		},
		{
			Name:     "escape sequences are skipped, not rendered",
			Input:    "\x1b[31mred\x1b[0m",
			Expected: []string{"red"},
		},
		{
			Name:     "bell is dropped",
			Input:    "ding\a!",
			Expected: []string{"ding!"},
		},
		{
			Name:     "window title sequences are skipped",
			Input:    "\x1b]0;some title\avisible",
			Expected: []string{"visible"},
		},
		{
			Name:     "window title sequences terminated by ST are skipped",
			Input:    "\x1b]2;another title\x1b\\visible",
			Expected: []string{"visible"},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase

		t.Run(testCase.Name, func(t *testing.T) {
			g := newGrid(DefaultDimensions())
			g.advance([]byte(testCase.Input))

			assert.Equal(t, testCase.Expected, g.snapshot(1).Cells)
		})
	}
}

func TestGridWrapsLongLines(t *testing.T) {
	g := newGrid(Dimensions{WidthColumns: 4, HeightRows: 24})
	g.advance([]byte("abcdef"))

	assert.Equal(t, []string{"abcd", "ef"}, g.snapshot(1).Cells)
}

func TestGridKeepsOnlyVisibleRows(t *testing.T) {
	g := newGrid(Dimensions{WidthColumns: 80, HeightRows: 2})
	g.advance([]byte("one\r\ntwo\r\nthree"))

	snapshot := g.snapshot(1)
	assert.Equal(t, []string{"two", "three"}, snapshot.Cells)
	assert.Equal(t, 1, snapshot.CursorRow)
	assert.Equal(t, 5, snapshot.CursorCol)
}
