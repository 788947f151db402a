package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/collabterm/collabterm/internal/api"
)

// OpenRemoteTerminal attaches to a host-owned terminal and returns a view
// bound to the given window, seeded with the host's current screen state.
//
// The id must come from the cached directory; attaching to an id the guest
// has not learned about fails fast with ErrNotFound, and so does attaching
// to an id the host has since destroyed. The caller decides whether to
// retry, e.g. after the next directory update. If ctx is cancelled while
// the request is outstanding, the eventual response is discarded and no
// view is created.
func (project *Project) OpenRemoteTerminal(ctx context.Context, id uint64, window Window) (*RemoteTerminal, error) {
	if project.host {
		return nil, fmt.Errorf("%w: the host already owns its terminals", ErrHostRole)
	}

	if !project.knowsTerminal(id) {
		return nil, fmt.Errorf("%w: terminal %d is not in the shared directory", ErrNotFound, id)
	}

	// Register the view before asking the host, so frames broadcast while
	// the request is in flight land in the view instead of being discarded.
	// The seed from the response is reconciled against them below.
	view := &RemoteTerminal{
		project: project,
		id:      id,
		window:  window,
	}

	project.mu.Lock()
	project.remoteViews[id] = append(project.remoteViews[id], view)
	project.mu.Unlock()

	request, err := api.NewEnvelope(api.TypeOpenTerminal, project.id, &api.OpenTerminal{
		ProjectID: project.id,
		ID:        id,
	})
	if err != nil {
		view.Close()
		return nil, err
	}

	response, err := project.client.Request(ctx, request)
	if err != nil {
		view.Close()
		var apiError *api.Error
		if errors.As(err, &apiError) && apiError.Code == api.CodeNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, apiError.Message)
		}
		return nil, err
	}

	var opened api.OpenTerminalResponse
	if err := response.DecodePayload(&opened); err != nil {
		view.Close()
		return nil, err
	}

	// A directory update may have torn the view down while the request was
	// outstanding; the host's confirmation wins over its earlier response
	if !view.seed(opened.VTEState, opened.VisibleTerminalCells) {
		view.Close()
		return nil, fmt.Errorf("%w: terminal %d was destroyed while attaching", ErrNotFound, id)
	}

	return view, nil
}

func (project *Project) knowsTerminal(id uint64) bool {
	project.mu.Lock()
	defer project.mu.Unlock()

	for _, remoteID := range project.remoteIDs {
		if remoteID == id {
			return true
		}
	}

	return false
}

func (project *Project) detachView(view *RemoteTerminal) {
	project.mu.Lock()
	defer project.mu.Unlock()

	views := project.remoteViews[view.id]
	for i, candidate := range views {
		if candidate == view {
			project.remoteViews[view.id] = append(views[:i], views[i+1:]...)
			break
		}
	}

	if len(project.remoteViews[view.id]) == 0 {
		delete(project.remoteViews, view.id)
	}
}
