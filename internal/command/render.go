package command

import (
	"fmt"
	"os"

	"github.com/collabterm/collabterm/pkg/terminal"
)

// renderFrame repaints the whole screen from a snapshot. Snapshots carry
// the full visible grid, so there is nothing incremental to do.
func renderFrame(state terminal.ScreenState) {
	fmt.Print("\x1b[H\x1b[2J" + state.Text())
}

// forwardStdin pumps raw stdin bytes into input until stdin closes.
func forwardStdin(input func([]byte) error) {
	buf := make([]byte, 1024)

	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return
		}

		if err := input(buf[:n]); err != nil {
			return
		}
	}
}
