package project

import (
	"context"
	"testing"

	"github.com/collabterm/collabterm/internal/api"
	"github.com/collabterm/collabterm/pkg/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRequest(t *testing.T, id uint64) *api.Envelope {
	envelope, err := api.NewEnvelope(api.TypeOpenTerminal, 1, &api.OpenTerminal{
		ProjectID: 1,
		ID:        id,
	})
	require.NoError(t, err)
	envelope.RequestID = "test-request"

	return envelope
}

func TestOpenHandlerServesSnapshot(t *testing.T) {
	hostProject := newProject(true)

	hostTerminal := terminal.New(allocateTerminalID(), terminal.NewMemoryEngine(terminal.DefaultDimensions()))
	defer hostTerminal.Close()

	hostProject.localHandles = append(hostProject.localHandles, &localHandle{
		id:       hostTerminal.ID(),
		terminal: hostTerminal,
	})

	require.NoError(t, hostTerminal.Input([]byte("already on screen")))

	responseType, payload, err := hostProject.handleOpenTerminal(
		context.Background(), openRequest(t, hostTerminal.ID()))
	require.NoError(t, err)
	require.Equal(t, api.TypeOpenTerminalResponse, responseType)

	opened, ok := payload.(*api.OpenTerminalResponse)
	require.True(t, ok)

	// The handler synchronizes with the terminal before snapshotting, so
	// input applied before the request is guaranteed to be visible
	assert.Contains(t, opened.VisibleTerminalCells.Text(), "already on screen")
	assert.Equal(t, []byte("already on screen"), opened.VTEState)
}

func TestOpenHandlerRejectsUnknownIDs(t *testing.T) {
	hostProject := newProject(true)

	_, _, err := hostProject.handleOpenTerminal(context.Background(), openRequest(t, 424242))
	require.Error(t, err)

	apiError, ok := err.(*api.Error)
	require.True(t, ok)
	assert.Equal(t, api.CodeNotFound, apiError.Code)
}
