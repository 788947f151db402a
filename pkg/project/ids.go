package project

import "sync/atomic"

// Terminal IDs are allocated process-wide, so every terminal created by a
// host carries a distinct, monotonically increasing 64-bit identifier that
// is never reused while the process lives.
var nextTerminalID atomic.Uint64

func allocateTerminalID() uint64 {
	return nextTerminalID.Add(1)
}
