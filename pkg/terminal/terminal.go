package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("terminal is closed")

const frameSubscriptionBuffer = 16

type Option func(*Terminal)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(terminal *Terminal) {
		terminal.logger = logger
	}
}

// Terminal owns one engine and serializes everything that observes or
// mutates its screen state through a single goroutine.
type Terminal struct {
	id     uint64
	engine Engine
	logger *zap.SugaredLogger

	mu          sync.Mutex
	lastContent ScreenState
	subscribers map[uint64]chan ScreenState
	nextSubID   uint64
	onRelease   []func()
	closed      bool

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func New(id uint64, engine Engine, opts ...Option) *Terminal {
	terminal := &Terminal{
		id:          id,
		engine:      engine,
		subscribers: make(map[uint64]chan ScreenState),
		ops:         make(chan func()),
		done:        make(chan struct{}),
	}

	// Apply options
	for _, opt := range opts {
		opt(terminal)
	}

	// Apply defaults
	if terminal.logger == nil {
		terminal.logger = zap.NewNop().Sugar()
	}

	go terminal.run()

	return terminal
}

func (terminal *Terminal) ID() uint64 {
	return terminal.id
}

func (terminal *Terminal) run() {
	frames := terminal.engine.Frames()

	for {
		// Drain pending frames before serving barrier operations, so that a
		// Sync caller observes every frame produced before it was enqueued
		select {
		case frame, ok := <-frames:
			if !ok {
				// The engine went away on its own (e.g. the shell exited)
				_ = terminal.Close()
				return
			}
			terminal.applyFrame(frame)
			continue
		default:
		}

		select {
		case frame, ok := <-frames:
			if !ok {
				_ = terminal.Close()
				return
			}
			terminal.applyFrame(frame)
		case op := <-terminal.ops:
			op()
		case <-terminal.done:
			return
		}
	}
}

func (terminal *Terminal) applyFrame(frame ScreenState) {
	// Sends below never block, so holding the lock is fine and keeps the
	// sends ordered against subscription channel closure
	terminal.mu.Lock()
	defer terminal.mu.Unlock()

	terminal.lastContent = frame

	for _, subscriber := range terminal.subscribers {
		// Most-recent-wins: push out the oldest queued frame when the
		// subscriber is not keeping up
		select {
		case subscriber <- frame:
		default:
			select {
			case <-subscriber:
			default:
			}
			select {
			case subscriber <- frame:
			default:
			}
		}
	}
}

// Input writes keystrokes to the engine. The resulting screen change comes
// back through the frame loop, never synchronously.
func (terminal *Terminal) Input(data []byte) error {
	if terminal.isClosed() {
		return ErrClosed
	}

	return terminal.engine.Input(data)
}

func (terminal *Terminal) Resize(dimensions Dimensions) error {
	if terminal.isClosed() {
		return ErrClosed
	}

	return terminal.engine.Resize(dimensions)
}

// LastContent returns the most recently observed screen state.
func (terminal *Terminal) LastContent() ScreenState {
	terminal.mu.Lock()
	defer terminal.mu.Unlock()

	return terminal.lastContent.Clone()
}

// Sync round-trips through the owner goroutine: when it returns, every
// frame the engine produced before the call has been observed.
func (terminal *Terminal) Sync(ctx context.Context) error {
	observed := make(chan struct{})

	select {
	case terminal.ops <- func() { close(observed) }:
	case <-terminal.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-observed:
		return nil
	case <-terminal.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot synchronizes with the owner goroutine and returns the parser
// restart state along with the visible cell content.
func (terminal *Terminal) Snapshot(ctx context.Context) ([]byte, ScreenState, error) {
	if err := terminal.Sync(ctx); err != nil {
		return nil, ScreenState{}, err
	}

	return terminal.engine.RestartState(), terminal.LastContent(), nil
}

// SubscribeFrames registers a frame consumer. The returned cancel function
// must be called once the consumer is done.
func (terminal *Terminal) SubscribeFrames() (<-chan ScreenState, func()) {
	terminal.mu.Lock()
	defer terminal.mu.Unlock()

	subscription := make(chan ScreenState, frameSubscriptionBuffer)

	if terminal.closed {
		close(subscription)
		return subscription, func() {}
	}

	id := terminal.nextSubID
	terminal.nextSubID++
	terminal.subscribers[id] = subscription

	return subscription, func() {
		terminal.mu.Lock()
		defer terminal.mu.Unlock()

		if _, ok := terminal.subscribers[id]; ok {
			delete(terminal.subscribers, id)
			close(subscription)
		}
	}
}

// OnRelease registers an observer that runs when the terminal is destroyed.
func (terminal *Terminal) OnRelease(observer func()) {
	terminal.mu.Lock()

	if terminal.closed {
		terminal.mu.Unlock()
		observer()
		return
	}

	terminal.onRelease = append(terminal.onRelease, observer)
	terminal.mu.Unlock()
}

// WaitForText blocks until the visible content contains text, primarily to
// detect that the screen has caught up with an expected input echo.
func (terminal *Terminal) WaitForText(ctx context.Context, text string, timeout time.Duration) error {
	subscription, cancel := terminal.SubscribeFrames()
	defer cancel()

	if strings.Contains(terminal.LastContent().Text(), text) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case frame, ok := <-subscription:
			if !ok {
				return ErrClosed
			}

			if strings.Contains(frame.Text(), text) {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timed out after %v waiting for %q to appear on screen", timeout, text)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (terminal *Terminal) isClosed() bool {
	terminal.mu.Lock()
	defer terminal.mu.Unlock()

	return terminal.closed
}

// Close shuts the engine down and notifies the release observers. Safe to
// call more than once.
func (terminal *Terminal) Close() error {
	var err error

	terminal.closeOnce.Do(func() {
		terminal.mu.Lock()
		terminal.closed = true
		observers := terminal.onRelease
		terminal.onRelease = nil
		subscribers := terminal.subscribers
		terminal.subscribers = make(map[uint64]chan ScreenState)
		terminal.mu.Unlock()

		close(terminal.done)
		err = terminal.engine.Close()

		for _, subscriber := range subscribers {
			close(subscriber)
		}

		for _, observer := range observers {
			observer()
		}
	})

	return err
}
