package relay_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/collabterm/collabterm/internal/relay"
	"github.com/collabterm/collabterm/pkg/project"
	"github.com/collabterm/collabterm/pkg/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "fixed secret used in tests"

func startRelay(t *testing.T) (context.Context, string) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	terminalRelay, err := relay.New(relay.WithServerAddress("127.0.0.1:0"))
	require.NoError(t, err)

	go func() {
		_ = terminalRelay.Run(ctx)
	}()

	return ctx, "ws://" + terminalRelay.Address()
}

func memoryEngines(workingDirectory string, config project.TerminalConfig) (terminal.Engine, error) {
	return terminal.NewMemoryEngine(config.Dimensions), nil
}

func startHost(t *testing.T, ctx context.Context, relayURL string) *project.Project {
	hostProject, err := project.Share(ctx, relayURL, testSecret,
		project.WithEngineFactory(memoryEngines))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hostProject.Close() })

	return hostProject
}

func joinGuest(t *testing.T, ctx context.Context, relayURL string, projectID uint64) *project.Project {
	guestProject, err := project.Join(ctx, relayURL, projectID, testSecret)
	require.NoError(t, err)
	t.Cleanup(func() { _ = guestProject.Close() })

	return guestProject
}

func defaultConfig() project.TerminalConfig {
	return project.TerminalConfig{Dimensions: terminal.DefaultDimensions()}
}

func sameIDs(a []uint64, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTerminalSharing(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)

	// Build a terminal on the host
	hostTerminal, err := hostProject.CreateTerminal("", nil, defaultConfig())
	require.NoError(t, err)

	// Join as a guest and wait until the host's directory reaches us
	guestProject := joinGuest(t, ctx, relayURL, hostProject.ID())

	require.Eventually(t, func() bool {
		return sameIDs(guestProject.SharedTerminals(), []uint64{hostTerminal.ID()})
	}, 5*time.Second, 10*time.Millisecond, "directory never converged")

	// Open the terminal on the guest
	guestView, err := guestProject.OpenRemoteTerminal(ctx, hostTerminal.ID(), nil)
	require.NoError(t, err)

	// Type on the host and wait for both sides to see the echo
	const hostTyping = "--ABC--"
	require.NoError(t, hostTerminal.Input([]byte(hostTyping)))
	require.NoError(t, hostTerminal.WaitForText(ctx, hostTyping, 5*time.Second))
	require.NoError(t, guestView.WaitForText(ctx, hostTyping, 5*time.Second))

	assert.Equal(t, hostTerminal.LastContent().Cells, guestView.LastContent().Cells)

	// Type on the guest: the input travels to the host and the echo comes
	// back through the same broadcast both sides observe
	const guestTyping = "++XYZ++"
	require.NoError(t, guestView.Input([]byte(guestTyping)))
	require.NoError(t, hostTerminal.WaitForText(ctx, guestTyping, 5*time.Second))
	require.NoError(t, guestView.WaitForText(ctx, guestTyping, 5*time.Second))

	assert.Equal(t, hostTerminal.LastContent().Cells, guestView.LastContent().Cells)
}

func TestAttachSeedsInitialContent(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)

	hostTerminal, err := hostProject.CreateTerminal("", nil, defaultConfig())
	require.NoError(t, err)

	// Everything typed before the guest attaches must arrive with the
	// attach response, not depend on future frames
	require.NoError(t, hostTerminal.Input([]byte("typed before attach")))
	require.NoError(t, hostTerminal.WaitForText(ctx, "typed before attach", 5*time.Second))

	guestProject := joinGuest(t, ctx, relayURL, hostProject.ID())

	require.Eventually(t, func() bool {
		return len(guestProject.SharedTerminals()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	guestView, err := guestProject.OpenRemoteTerminal(ctx, hostTerminal.ID(), nil)
	require.NoError(t, err)

	assert.Contains(t, guestView.LastContent().Text(), "typed before attach")
	assert.Equal(t, []byte("typed before attach"), guestView.VTEState())
}

func TestAttachDuringActiveTyping(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)

	hostTerminal, err := hostProject.CreateTerminal("", nil, defaultConfig())
	require.NoError(t, err)

	guestProject := joinGuest(t, ctx, relayURL, hostProject.ID())

	require.Eventually(t, func() bool {
		return len(guestProject.SharedTerminals()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Race a keystroke against every attach: a frame broadcast between the
	// host's snapshot and the guest applying it must not be lost. After each
	// keystroke the host goes quiet, so the view has to catch up on its own
	for i := 0; i < 50; i++ {
		marker := fmt.Sprintf("m%05d.", i)
		require.NoError(t, hostTerminal.Input([]byte("\r"+marker)))
		time.Sleep(time.Duration(i%10) * 100 * time.Microsecond)

		guestView, err := guestProject.OpenRemoteTerminal(ctx, hostTerminal.ID(), nil)
		require.NoError(t, err)

		require.NoError(t, guestView.WaitForText(ctx, marker, 5*time.Second),
			"the guest view went stale on iteration %d", i)
		assert.Equal(t, hostTerminal.LastContent().Cells, guestView.LastContent().Cells)

		require.NoError(t, guestView.Close())
	}
}

func TestDirectoryConvergence(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)
	guestProject := joinGuest(t, ctx, relayURL, hostProject.ID())

	// Create a few terminals, then destroy the middle one
	var terminals []*terminal.Terminal
	for i := 0; i < 3; i++ {
		created, err := hostProject.CreateTerminal("", nil, defaultConfig())
		require.NoError(t, err)
		terminals = append(terminals, created)
	}

	require.NoError(t, terminals[1].Close())

	expected := []uint64{terminals[0].ID(), terminals[2].ID()}
	assert.Equal(t, expected, hostProject.LocalTerminals())

	require.Eventually(t, func() bool {
		return sameIDs(guestProject.SharedTerminals(), expected)
	}, 5*time.Second, 10*time.Millisecond, "guest directory never converged onto the host's")
}

func TestLateJoinerLearnsTheDirectory(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)

	hostTerminal, err := hostProject.CreateTerminal("", nil, defaultConfig())
	require.NoError(t, err)

	// The guest joins after the directory was broadcast
	guestProject := joinGuest(t, ctx, relayURL, hostProject.ID())

	require.Eventually(t, func() bool {
		return sameIDs(guestProject.SharedTerminals(), []uint64{hostTerminal.ID()})
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAttachRequiresDirectoryKnowledge(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)
	guestProject := joinGuest(t, ctx, relayURL, hostProject.ID())

	// An id the guest never learned about fails fast, locally
	_, err := guestProject.OpenRemoteTerminal(ctx, 424242, nil)
	assert.ErrorIs(t, err, project.ErrNotFound)
}

func TestAttachToDestroyedTerminal(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)

	hostTerminal, err := hostProject.CreateTerminal("", nil, defaultConfig())
	require.NoError(t, err)

	guestProject := joinGuest(t, ctx, relayURL, hostProject.ID())

	require.Eventually(t, func() bool {
		return len(guestProject.SharedTerminals()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, hostTerminal.Close())

	require.Eventually(t, func() bool {
		return len(guestProject.SharedTerminals()) == 0
	}, 5*time.Second, 10*time.Millisecond)

	// The id was removed one update earlier; attaching must fail and must
	// not create a view
	_, err = guestProject.OpenRemoteTerminal(ctx, hostTerminal.ID(), nil)
	assert.ErrorIs(t, err, project.ErrNotFound)
}

func TestDestroyingAnAttachedTerminal(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)

	hostTerminal, err := hostProject.CreateTerminal("", nil, defaultConfig())
	require.NoError(t, err)

	guestProject := joinGuest(t, ctx, relayURL, hostProject.ID())

	require.Eventually(t, func() bool {
		return len(guestProject.SharedTerminals()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	guestView, err := guestProject.OpenRemoteTerminal(ctx, hostTerminal.ID(), nil)
	require.NoError(t, err)

	// Destroying the terminal under an attached guest removes the id from
	// the directory and closes the view, without breaking anything
	require.NoError(t, hostTerminal.Close())

	require.Eventually(t, func() bool {
		return len(guestProject.SharedTerminals()) == 0 && guestView.IsClosed()
	}, 5*time.Second, 10*time.Millisecond)

	assert.Error(t, guestView.Input([]byte("too late")))
}

func TestGuestsCannotCreateTerminals(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)
	guestProject := joinGuest(t, ctx, relayURL, hostProject.ID())

	_, err := guestProject.CreateTerminal("", nil, defaultConfig())
	assert.ErrorIs(t, err, project.ErrGuestRole)
}

func TestInvalidSecretIsRejected(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)

	_, err := project.Join(ctx, relayURL, hostProject.ID(), "not the right secret")
	require.Error(t, err)
}

func TestJoiningAnUnknownProjectFails(t *testing.T) {
	ctx, relayURL := startRelay(t)

	_, err := project.Join(ctx, relayURL, 999999, testSecret)
	require.Error(t, err)
}

func TestCancelledAttachCreatesNoView(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)

	hostTerminal, err := hostProject.CreateTerminal("", nil, defaultConfig())
	require.NoError(t, err)

	guestProject := joinGuest(t, ctx, relayURL, hostProject.ID())

	require.Eventually(t, func() bool {
		return len(guestProject.SharedTerminals()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()

	_, err = guestProject.OpenRemoteTerminal(cancelledCtx, hostTerminal.ID(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTwoGuestsConverge(t *testing.T) {
	ctx, relayURL := startRelay(t)

	hostProject := startHost(t, ctx, relayURL)

	hostTerminal, err := hostProject.CreateTerminal("", nil, defaultConfig())
	require.NoError(t, err)

	guestA := joinGuest(t, ctx, relayURL, hostProject.ID())
	guestB := joinGuest(t, ctx, relayURL, hostProject.ID())

	for _, guest := range []*project.Project{guestA, guestB} {
		guest := guest
		require.Eventually(t, func() bool {
			return len(guest.SharedTerminals()) == 1
		}, 5*time.Second, 10*time.Millisecond)
	}

	viewA, err := guestA.OpenRemoteTerminal(ctx, hostTerminal.ID(), nil)
	require.NoError(t, err)
	viewB, err := guestB.OpenRemoteTerminal(ctx, hostTerminal.ID(), nil)
	require.NoError(t, err)

	require.NoError(t, hostTerminal.Input([]byte("seen by everyone")))

	require.NoError(t, viewA.WaitForText(ctx, "seen by everyone", 5*time.Second))
	require.NoError(t, viewB.WaitForText(ctx, "seen by everyone", 5*time.Second))

	assert.Equal(t, viewA.LastContent().Cells, viewB.LastContent().Cells)
	assert.Equal(t, hostTerminal.LastContent().Cells, viewA.LastContent().Cells)
}
