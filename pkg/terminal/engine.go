package terminal

// Engine is the process side of a terminal: something that accepts input
// bytes and renders them into screen snapshots. The shell-backed engine in
// this package is the production implementation; tests use MemoryEngine.
type Engine interface {
	// Input writes bytes (keystrokes) to the underlying process.
	Input(data []byte) error

	// Resize changes the cell grid dimensions.
	Resize(dimensions Dimensions) error

	// RestartState returns the opaque byte stream a fresh parser needs to
	// replay in order to reach the engine's current state.
	RestartState() []byte

	// Frames delivers a snapshot after every observed output change. The
	// channel is closed when the engine shuts down. Frames may be dropped
	// under load; a later frame always supersedes an earlier one.
	Frames() <-chan ScreenState

	Close() error
}
