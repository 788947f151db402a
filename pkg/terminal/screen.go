package terminal

import "strings"

const (
	defaultWidthColumns = 80
	defaultHeightRows   = 24
)

// Dimensions describes a terminal's size in character cells.
type Dimensions struct {
	WidthColumns uint32 `json:"width_columns"`
	HeightRows   uint32 `json:"height_rows"`
}

func DefaultDimensions() Dimensions {
	return Dimensions{
		WidthColumns: defaultWidthColumns,
		HeightRows:   defaultHeightRows,
	}
}

// ScreenState is a value snapshot of the visible cell grid plus cursor
// metadata. Consumers replace it wholesale; it is never patched in place.
type ScreenState struct {
	Seq       uint64   `json:"seq"`
	Cells     []string `json:"cells"`
	CursorRow int      `json:"cursor_row"`
	CursorCol int      `json:"cursor_col"`
}

// Text returns the visible rows joined with newlines, primarily for
// content assertions in tests.
func (state ScreenState) Text() string {
	return strings.Join(state.Cells, "\n")
}

func (state ScreenState) Equal(other ScreenState) bool {
	if state.CursorRow != other.CursorRow || state.CursorCol != other.CursorCol {
		return false
	}

	if len(state.Cells) != len(other.Cells) {
		return false
	}

	for i := range state.Cells {
		if state.Cells[i] != other.Cells[i] {
			return false
		}
	}

	return true
}

// Clone returns a deep copy so a held snapshot cannot alias a later one.
func (state ScreenState) Clone() ScreenState {
	cells := make([]string, len(state.Cells))
	copy(cells, state.Cells)
	state.Cells = cells

	return state
}
