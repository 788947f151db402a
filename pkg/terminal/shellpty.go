//go:build !windows
// +build !windows

package terminal

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

// ShellEngine runs a shell attached to a PTY and renders its output into
// screen snapshots.
type ShellEngine struct {
	logger   *zap.SugaredLogger
	shellCmd *exec.Cmd
	pty      *os.File

	mu     sync.Mutex
	grid   *grid
	raw    bytes.Buffer
	seq    uint64
	closed bool

	frames    chan ScreenState
	closeOnce sync.Once
}

// NewShellEngine starts a shell in workingDirectory with the given
// dimensions and environment. An empty environment inherits this process'.
func NewShellEngine(logger *zap.SugaredLogger, dimensions Dimensions, workingDirectory string, env []string) (*ShellEngine, error) {
	shellPath := determineShellPath()
	shellCmd := exec.Command(shellPath)
	shellCmd.Dir = workingDirectory

	// Inherit this process environment variables
	if len(env) == 0 {
		shellCmd.Env = os.Environ()
	} else {
		shellCmd.Env = env
	}

	// Set TERM to avoid "Error opening terminal: unknown." error
	shellCmd.Env = append(shellCmd.Env, "TERM=xterm")

	shellPty, err := pty.StartWithSize(shellCmd, dimensionsToPtyWinsize(dimensions))
	if err != nil {
		return nil, err
	}

	logger.Debugf("started shell process with PID %d", shellCmd.Process.Pid)

	engine := &ShellEngine{
		logger:   logger,
		shellCmd: shellCmd,
		pty:      shellPty,
		grid:     newGrid(dimensions),
		frames:   make(chan ScreenState, 64),
	}

	go engine.readFromPty()

	return engine, nil
}

func (engine *ShellEngine) Input(data []byte) error {
	_, err := engine.pty.Write(data)

	return err
}

func (engine *ShellEngine) Resize(dimensions Dimensions) error {
	engine.mu.Lock()
	engine.grid.resize(dimensions)
	engine.mu.Unlock()

	return pty.Setsize(engine.pty, dimensionsToPtyWinsize(dimensions))
}

func (engine *ShellEngine) RestartState() []byte {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	return append([]byte{}, engine.raw.Bytes()...)
}

func (engine *ShellEngine) Frames() <-chan ScreenState {
	return engine.frames
}

func (engine *ShellEngine) readFromPty() {
	defer engine.closeOnce.Do(func() {
		close(engine.frames)
	})

	const bufSize = 4096
	buf := make([]byte, bufSize)

	for {
		n, err := engine.pty.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !engine.isClosed() {
				engine.logger.Warnf("failed to read data from the PTY: %v", err)
			}

			return
		}

		engine.mu.Lock()
		engine.raw.Write(buf[:n])
		engine.grid.advance(buf[:n])
		engine.seq++
		frame := engine.grid.snapshot(engine.seq)
		engine.mu.Unlock()

		// A dropped frame is fine, the next one carries the whole screen
		select {
		case engine.frames <- frame:
		default:
			select {
			case <-engine.frames:
			default:
			}
			engine.frames <- frame
		}
	}
}

func (engine *ShellEngine) isClosed() bool {
	engine.mu.Lock()
	defer engine.mu.Unlock()

	return engine.closed
}

func (engine *ShellEngine) Close() error {
	engine.mu.Lock()
	engine.closed = true
	engine.mu.Unlock()

	var result error

	if err := engine.pty.Close(); err != nil {
		result = err
	}

	engine.logger.Debugf("killing shell process with PID %d", engine.shellCmd.Process.Pid)

	if err := engine.shellCmd.Process.Kill(); err != nil {
		engine.logger.Warnf("failed to kill shell process with PID %d: %v", engine.shellCmd.Process.Pid, err)

		if result == nil {
			result = err
		}
	}

	_ = engine.shellCmd.Wait()

	return result
}

func determineShellPath() string {
	shellPath := "/bin/sh"

	// Prefer Zsh on macOS
	if runtime.GOOS == "darwin" {
		if zshPath, err := exec.LookPath("zsh"); err == nil {
			return zshPath
		}
	}

	if bashPath, err := exec.LookPath("bash"); err == nil {
		shellPath = bashPath
	}

	return shellPath
}

func dimensionsToPtyWinsize(dimensions Dimensions) *pty.Winsize {
	if dimensions.WidthColumns == 0 || dimensions.HeightRows == 0 {
		dimensions = DefaultDimensions()
	}

	return &pty.Winsize{
		Cols: uint16(dimensions.WidthColumns),
		Rows: uint16(dimensions.HeightRows),
	}
}
