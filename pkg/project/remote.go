package project

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/collabterm/collabterm/internal/api"
	"github.com/collabterm/collabterm/pkg/terminal"
)

// RemoteTerminal is a guest-side view of one host-owned terminal, bound to
// one window. It holds the last applied screen snapshot; it never renders
// locally typed input itself — keystrokes travel to the host and the echo
// comes back through the regular frame broadcast.
type RemoteTerminal struct {
	project *Project
	id      uint64
	window  Window

	mu          sync.Mutex
	vteState    []byte
	lastContent terminal.ScreenState
	waiters     map[uint64]chan terminal.ScreenState
	callbacks   map[uint64]func(terminal.ScreenState)
	nextWaiter  uint64
	closed      bool
}

// OnFrame registers a callback invoked after every applied frame, e.g. for
// re-rendering the bound window. The callback runs on the frame delivery
// path and must not call back into the view. The returned function cancels
// the registration.
func (view *RemoteTerminal) OnFrame(callback func(terminal.ScreenState)) func() {
	view.mu.Lock()
	defer view.mu.Unlock()

	if view.callbacks == nil {
		view.callbacks = make(map[uint64]func(terminal.ScreenState))
	}

	id := view.nextWaiter
	view.nextWaiter++
	view.callbacks[id] = callback

	return func() {
		view.mu.Lock()
		defer view.mu.Unlock()

		delete(view.callbacks, id)
	}
}

func (view *RemoteTerminal) ID() uint64 {
	return view.id
}

func (view *RemoteTerminal) Window() Window {
	return view.window
}

// VTEState returns the parser restart state the view was seeded with.
func (view *RemoteTerminal) VTEState() []byte {
	view.mu.Lock()
	defer view.mu.Unlock()

	return view.vteState
}

// LastContent returns the most recently applied screen snapshot.
func (view *RemoteTerminal) LastContent() terminal.ScreenState {
	view.mu.Lock()
	defer view.mu.Unlock()

	return view.lastContent.Clone()
}

// Input forwards keystrokes to the host. Nothing changes locally until the
// host's resulting frame arrives.
func (view *RemoteTerminal) Input(data []byte) error {
	if view.isClosed() {
		return fmt.Errorf("%w: view is closed", ErrNotFound)
	}

	envelope, err := api.NewEnvelope(api.TypeTerminalInput, view.project.id, &api.TerminalInput{
		ProjectID: view.project.id,
		ID:        view.id,
		Data:      data,
	})
	if err != nil {
		return err
	}

	return view.project.client.Send(envelope)
}

// seed applies the snapshot the view was opened with. A frame that arrived
// while the open request was outstanding may already be newer than the
// snapshot; sequence numbers decide, the most recent full state wins.
// Reports false if the view was torn down while the request was outstanding.
func (view *RemoteTerminal) seed(vteState []byte, content terminal.ScreenState) bool {
	view.mu.Lock()
	defer view.mu.Unlock()

	if view.closed {
		return false
	}

	view.vteState = vteState

	if content.Seq < view.lastContent.Seq {
		return true
	}
	view.deliverLocked(content)

	return true
}

// applyFrame replaces the last-known content wholesale. A frame older than
// what the view already shows is superseded, never merged: sequence numbers
// decide, the most recent full state wins.
func (view *RemoteTerminal) applyFrame(content terminal.ScreenState) {
	view.mu.Lock()
	defer view.mu.Unlock()

	if view.closed {
		// A frame for a torn-down view, discard
		return
	}
	if content.Seq < view.lastContent.Seq {
		return
	}

	view.deliverLocked(content)
}

func (view *RemoteTerminal) deliverLocked(content terminal.ScreenState) {
	view.lastContent = content

	for _, callback := range view.callbacks {
		callback(content)
	}

	for _, waiter := range view.waiters {
		select {
		case waiter <- content:
		default:
			select {
			case <-waiter:
			default:
			}
			select {
			case waiter <- content:
			default:
			}
		}
	}
}

// WaitForText blocks until the view's content contains text, mirroring the
// host-side hook of the same name.
func (view *RemoteTerminal) WaitForText(ctx context.Context, text string, timeout time.Duration) error {
	view.mu.Lock()
	if view.closed {
		view.mu.Unlock()
		return fmt.Errorf("%w: view is closed", ErrNotFound)
	}
	if strings.Contains(view.lastContent.Text(), text) {
		view.mu.Unlock()
		return nil
	}

	waiter := make(chan terminal.ScreenState, 1)
	waiterID := view.nextWaiter
	view.nextWaiter++
	if view.waiters == nil {
		view.waiters = make(map[uint64]chan terminal.ScreenState)
	}
	view.waiters[waiterID] = waiter
	view.mu.Unlock()

	defer func() {
		view.mu.Lock()
		delete(view.waiters, waiterID)
		view.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case content := <-waiter:
			if strings.Contains(content.Text(), text) {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timed out after %v waiting for %q to appear on screen", timeout, text)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (view *RemoteTerminal) isClosed() bool {
	view.mu.Lock()
	defer view.mu.Unlock()

	return view.closed
}

// IsClosed reports whether the host confirmed the terminal is gone or the
// view was closed locally.
func (view *RemoteTerminal) IsClosed() bool {
	return view.isClosed()
}

func (view *RemoteTerminal) markClosed() {
	view.mu.Lock()
	defer view.mu.Unlock()

	view.closed = true
}

// Close detaches the view; subsequent frames for it are discarded.
func (view *RemoteTerminal) Close() error {
	view.project.detachView(view)
	view.markClosed()

	return nil
}
