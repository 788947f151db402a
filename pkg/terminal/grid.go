package terminal

// grid is a minimal cell-grid renderer: enough to turn a byte stream into
// the visible rows a snapshot carries. It understands newlines, carriage
// returns and backspace, and skips over escape sequences instead of
// interpreting them.
type grid struct {
	cols int
	rows int

	lines     [][]rune
	cursorRow int
	cursorCol int

	// Escape-sequence skipping state.
	inEscape bool
	inCSI    bool
	inOSC    bool
}

func newGrid(dimensions Dimensions) *grid {
	g := &grid{
		cols: int(dimensions.WidthColumns),
		rows: int(dimensions.HeightRows),
	}
	g.lines = [][]rune{{}}

	return g
}

func (g *grid) resize(dimensions Dimensions) {
	g.cols = int(dimensions.WidthColumns)
	g.rows = int(dimensions.HeightRows)
}

func (g *grid) advance(data []byte) {
	for _, r := range string(data) {
		if g.inCSI {
			// A CSI sequence ends with a byte in the 0x40-0x7e range
			if r >= 0x40 && r <= 0x7e {
				g.inCSI = false
			}
			continue
		}
		if g.inOSC {
			// An OSC sequence ends with BEL or ST (ESC \)
			if r == '\a' {
				g.inOSC = false
			} else if r == 0x1b {
				g.inOSC = false
				g.inEscape = true
			}
			continue
		}
		if g.inEscape {
			g.inEscape = false
			switch r {
			case '[':
				g.inCSI = true
			case ']':
				g.inOSC = true
			}
			continue
		}

		switch r {
		case 0x1b:
			g.inEscape = true
		case '\n':
			g.cursorRow++
			for g.cursorRow >= len(g.lines) {
				g.lines = append(g.lines, []rune{})
			}
		case '\r':
			g.cursorCol = 0
		case '\b':
			if g.cursorCol > 0 {
				g.cursorCol--
			}
		case '\a':
			// Bell, nothing to render
		default:
			if r < 0x20 {
				continue
			}
			g.put(r)
		}
	}
}

func (g *grid) put(r rune) {
	if g.cols > 0 && g.cursorCol >= g.cols {
		g.cursorCol = 0
		g.cursorRow++
	}
	for g.cursorRow >= len(g.lines) {
		g.lines = append(g.lines, []rune{})
	}

	line := g.lines[g.cursorRow]
	for g.cursorCol >= len(line) {
		line = append(line, ' ')
	}
	line[g.cursorCol] = r
	g.lines[g.cursorRow] = line

	g.cursorCol++
}

// snapshot renders the last visible rows into a value snapshot.
func (g *grid) snapshot(seq uint64) ScreenState {
	first := 0
	if g.rows > 0 && len(g.lines) > g.rows {
		first = len(g.lines) - g.rows
	}

	cells := make([]string, 0, len(g.lines)-first)
	for _, line := range g.lines[first:] {
		cells = append(cells, string(line))
	}

	return ScreenState{
		Seq:       seq,
		Cells:     cells,
		CursorRow: g.cursorRow - first,
		CursorCol: g.cursorCol,
	}
}
