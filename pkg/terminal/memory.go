package terminal

import (
	"sync"
)

// MemoryEngine is an in-memory engine that renders every input byte as if
// the process echoed it right back. It backs headless hosts and tests where
// spawning real shells is unwanted.
type MemoryEngine struct {
	mu     sync.Mutex
	grid   *grid
	raw    []byte
	seq    uint64
	closed bool

	frames chan ScreenState
}

func NewMemoryEngine(dimensions Dimensions) *MemoryEngine {
	return &MemoryEngine{
		grid:   newGrid(dimensions),
		frames: make(chan ScreenState, 64),
	}
}

func (engine *MemoryEngine) Input(data []byte) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if engine.closed {
		return nil
	}

	engine.raw = append(engine.raw, data...)
	engine.grid.advance(data)
	engine.seq++
	frame := engine.grid.snapshot(engine.seq)

	select {
	case engine.frames <- frame:
	default:
		select {
		case <-engine.frames:
		default:
		}
		engine.frames <- frame
	}

	return nil
}

func (engine *MemoryEngine) Resize(dimensions Dimensions) error {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	engine.grid.resize(dimensions)

	return nil
}

func (engine *MemoryEngine) RestartState() []byte {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	return append([]byte{}, engine.raw...)
}

func (engine *MemoryEngine) Frames() <-chan ScreenState {
	return engine.frames
}

func (engine *MemoryEngine) Close() error {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	if !engine.closed {
		engine.closed = true
		close(engine.frames)
	}

	return nil
}
