package project

import (
	"context"
	"fmt"
	"sync"

	"github.com/collabterm/collabterm/internal/api"
	"github.com/collabterm/collabterm/pkg/rpc"
	"github.com/collabterm/collabterm/pkg/terminal"
	"go.uber.org/zap"
)

// Window is an opaque handle to whatever surface a terminal view is bound
// to. The package carries it around but never looks inside.
type Window interface{}

// TerminalConfig carries everything terminal creation needs besides the
// working directory.
type TerminalConfig struct {
	Dimensions terminal.Dimensions
	Env        []string
}

// localHandle is one registry entry: an id paired with the terminal it was
// allocated for. The entry is pruned by the terminal's release observer, so
// the registry never keeps a terminal alive on its own.
type localHandle struct {
	id       uint64
	terminal *terminal.Terminal
}

// Project is one participant's view of a shared session. A host owns live
// terminals and broadcasts their directory and frames; a guest mirrors the
// directory and attaches remote views.
type Project struct {
	logger  *zap.SugaredLogger
	client  *rpc.Client
	rpcOpts []rpc.Option

	id     uint64
	peerID string
	host   bool

	engineFactory EngineFactory
	notify        func()

	mu           sync.Mutex
	localHandles []*localHandle
	remoteIDs    []uint64
	remoteViews  map[uint64][]*RemoteTerminal
}

func newProject(host bool, opts ...Option) *Project {
	project := &Project{
		host:        host,
		remoteViews: make(map[uint64][]*RemoteTerminal),
	}

	// Apply options
	for _, opt := range opts {
		opt(project)
	}

	// Apply defaults
	if project.logger == nil {
		project.logger = zap.NewNop().Sugar()
	}
	if project.engineFactory == nil {
		project.engineFactory = func(workingDirectory string, config TerminalConfig) (terminal.Engine, error) {
			return terminal.NewShellEngine(project.logger, config.Dimensions, workingDirectory, config.Env)
		}
	}
	if project.notify == nil {
		project.notify = func() {}
	}

	return project
}

// NewLocal creates a host project with no relay connection: terminals work
// and the registry is maintained, but nothing is advertised anywhere.
func NewLocal(opts ...Option) *Project {
	return newProject(true, opts...)
}

// Share connects to a relay as the host and registers a new project that
// guests can join with the trusted secret.
func Share(ctx context.Context, relayURL string, trustedSecret string, opts ...Option) (*Project, error) {
	project := newProject(true, opts...)

	client, err := rpc.Dial(ctx, relayURL+"/host", project.rpcOpts...)
	if err != nil {
		return nil, err
	}
	project.client = client

	// Register handlers before the handshake: requests can start flowing
	// the moment the relay acknowledges us
	client.HandleRequest(api.TypeOpenTerminal, project.handleOpenTerminal)
	client.HandleMessage(api.TypeTerminalInput, project.handleTerminalInput)

	hello, err := api.NewEnvelope(api.TypeHostHello, 0, &api.HostHello{TrustedSecret: trustedSecret})
	if err != nil {
		client.Close()
		return nil, err
	}

	response, err := client.Request(ctx, hello)
	if err != nil {
		client.Close()
		return nil, err
	}

	var helloResponse api.HelloResponse
	if err := response.DecodePayload(&helloResponse); err != nil {
		client.Close()
		return nil, err
	}
	project.id = helloResponse.ProjectID

	return project, nil
}

// Join connects to a relay as a guest of an already-shared project.
func Join(ctx context.Context, relayURL string, projectID uint64, secret string, opts ...Option) (*Project, error) {
	project := newProject(false, opts...)

	client, err := rpc.Dial(ctx, relayURL+"/guest", project.rpcOpts...)
	if err != nil {
		return nil, err
	}
	project.client = client

	// Register handlers before the handshake: the relay replays the latest
	// directory right after acknowledging the join
	client.HandleMessage(api.TypeUpdateTerminals, project.handleUpdateTerminals)
	client.HandleMessage(api.TypeTerminalFrame, project.handleTerminalFrame)

	hello, err := api.NewEnvelope(api.TypeGuestHello, projectID, &api.GuestHello{
		ProjectID: projectID,
		Secret:    secret,
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	response, err := client.Request(ctx, hello)
	if err != nil {
		client.Close()
		return nil, err
	}

	var helloResponse api.HelloResponse
	if err := response.DecodePayload(&helloResponse); err != nil {
		client.Close()
		return nil, err
	}
	project.id = helloResponse.ProjectID
	project.peerID = helloResponse.PeerID

	return project, nil
}

func (project *Project) ID() uint64 {
	return project.id
}

func (project *Project) IsHost() bool {
	return project.host
}

// CreateTerminal creates a local terminal, registers it, advertises the new
// directory to every guest and starts broadcasting the terminal's frames.
// Guests cannot create local terminals.
func (project *Project) CreateTerminal(workingDirectory string, window Window, config TerminalConfig) (*terminal.Terminal, error) {
	if !project.host {
		return nil, fmt.Errorf("%w: creating terminals as a guest is not supported", ErrGuestRole)
	}

	engine, err := project.engineFactory(workingDirectory, config)
	if err != nil {
		return nil, err
	}

	id := allocateTerminalID()
	newTerminal := terminal.New(id, engine, terminal.WithLogger(project.logger))

	project.mu.Lock()
	project.localHandles = append(project.localHandles, &localHandle{
		id:       id,
		terminal: newTerminal,
	})
	project.mu.Unlock()

	// Observe the terminal's destruction: prune the registry entry and
	// advertise the shrunk directory
	newTerminal.OnRelease(func() {
		project.mu.Lock()
		for i, handle := range project.localHandles {
			if handle.id == id {
				project.localHandles = append(project.localHandles[:i], project.localHandles[i+1:]...)
				break
			}
		}
		project.mu.Unlock()

		project.broadcastDirectory()
		project.notify()
	})

	go project.broadcastFrames(newTerminal)

	project.broadcastDirectory()
	project.notify()

	return newTerminal, nil
}

// LookupTerminal resolves an id to a live local terminal. A stale id
// reports absence, never a panic.
func (project *Project) LookupTerminal(id uint64) (*terminal.Terminal, bool) {
	project.mu.Lock()
	defer project.mu.Unlock()

	for _, handle := range project.localHandles {
		if handle.id == id {
			return handle.terminal, true
		}
	}

	return nil, false
}

// LocalTerminals returns the ordered ids of the host's live terminals.
func (project *Project) LocalTerminals() []uint64 {
	project.mu.Lock()
	defer project.mu.Unlock()

	ids := make([]uint64, 0, len(project.localHandles))
	for _, handle := range project.localHandles {
		ids = append(ids, handle.id)
	}

	return ids
}

// SharedTerminals returns the guest's cached terminal directory: the ids
// carried by the most recent directory update applied.
func (project *Project) SharedTerminals() []uint64 {
	project.mu.Lock()
	defer project.mu.Unlock()

	return append([]uint64{}, project.remoteIDs...)
}

// broadcastDirectory sends the full ordered id snapshot to every guest.
// Full-snapshot replacement is idempotent and self-healing: a guest that
// missed an update converges on the next one.
func (project *Project) broadcastDirectory() {
	// A local project that isn't shared has nobody to tell
	if project.client == nil {
		return
	}

	update := &api.UpdateTerminals{
		ProjectID: project.id,
		Terminals: project.LocalTerminals(),
	}

	envelope, err := api.NewEnvelope(api.TypeUpdateTerminals, project.id, update)
	if err != nil {
		project.logger.Warnf("failed to marshal a directory update: %v", err)
		return
	}

	if err := project.client.Send(envelope); err != nil {
		project.logger.Warnf("failed to broadcast a directory update: %v", err)
	}
}

// broadcastFrames pumps one terminal's frames to the relay for fan-out.
// Fire-and-forget: convergence comes from the next frame, not from acks.
func (project *Project) broadcastFrames(t *terminal.Terminal) {
	if project.client == nil {
		return
	}

	frames, cancel := t.SubscribeFrames()
	defer cancel()

	for frame := range frames {
		payload := &api.TerminalFrame{
			ProjectID: project.id,
			ID:        t.ID(),
			Content:   frame,
		}

		envelope, err := api.NewEnvelope(api.TypeTerminalFrame, project.id, payload)
		if err != nil {
			project.logger.Warnf("failed to marshal a frame: %v", err)
			continue
		}

		if err := project.client.Send(envelope); err != nil {
			project.logger.Debugf("failed to broadcast a frame for terminal %d: %v", t.ID(), err)
		}
	}
}

// handleOpenTerminal answers a guest's open request with everything the
// guest needs to seed its view. Unknown ids are a normal race with the
// directory updates and map to a not-found error.
func (project *Project) handleOpenTerminal(ctx context.Context, envelope *api.Envelope) (string, interface{}, error) {
	var request api.OpenTerminal
	if err := envelope.DecodePayload(&request); err != nil {
		return "", nil, &api.Error{Code: api.CodeFailedPrecondition, Message: "undecodable open request"}
	}

	requested, ok := project.LookupTerminal(request.ID)
	if !ok {
		return "", nil, &api.Error{
			Code:    api.CodeNotFound,
			Message: fmt.Sprintf("no terminal found for %d", request.ID),
		}
	}

	// Synchronize with the terminal owner before snapshotting, so the
	// response reflects every frame produced before the request arrived
	restartState, visibleCells, err := requested.Snapshot(ctx)
	if err != nil {
		return "", nil, &api.Error{Code: api.CodeInternal, Message: err.Error()}
	}

	return api.TypeOpenTerminalResponse, &api.OpenTerminalResponse{
		VTEState:             restartState,
		VisibleTerminalCells: visibleCells,
	}, nil
}

// handleTerminalInput applies guest keystrokes to the referenced local
// terminal. The screen change flows back through the regular frame
// broadcast, so every participant observes it through the same path.
func (project *Project) handleTerminalInput(envelope *api.Envelope) {
	var input api.TerminalInput
	if err := envelope.DecodePayload(&input); err != nil {
		project.logger.Warnf("failed to decode a terminal input envelope: %v", err)
		return
	}

	target, ok := project.LookupTerminal(input.ID)
	if !ok {
		// Input for a terminal that was just destroyed, drop it
		project.logger.Debugf("dropping input for unknown terminal %d", input.ID)
		return
	}

	if err := target.Input(input.Data); err != nil {
		project.logger.Warnf("failed to apply guest input to terminal %d: %v", input.ID, err)
	}
}

// handleUpdateTerminals replaces the cached directory wholesale and closes
// views whose terminal the host no longer advertises.
func (project *Project) handleUpdateTerminals(envelope *api.Envelope) {
	var update api.UpdateTerminals
	if err := envelope.DecodePayload(&update); err != nil {
		project.logger.Warnf("failed to decode a directory update: %v", err)
		return
	}

	live := make(map[uint64]struct{}, len(update.Terminals))
	for _, id := range update.Terminals {
		live[id] = struct{}{}
	}

	var orphaned []*RemoteTerminal

	project.mu.Lock()
	project.remoteIDs = update.Terminals
	for id, views := range project.remoteViews {
		if _, stillLive := live[id]; !stillLive {
			orphaned = append(orphaned, views...)
			delete(project.remoteViews, id)
		}
	}
	project.mu.Unlock()

	// The host confirmed these terminals no longer exist
	for _, view := range orphaned {
		view.markClosed()
	}

	project.notify()
}

// handleTerminalFrame replaces the last-known content of every attached
// view of the referenced terminal. Frames for unknown ids belong to views
// already torn down and are silently discarded.
func (project *Project) handleTerminalFrame(envelope *api.Envelope) {
	var frame api.TerminalFrame
	if err := envelope.DecodePayload(&frame); err != nil {
		project.logger.Warnf("failed to decode a frame envelope: %v", err)
		return
	}

	project.mu.Lock()
	views := append([]*RemoteTerminal{}, project.remoteViews[frame.ID]...)
	project.mu.Unlock()

	for _, view := range views {
		view.applyFrame(frame.Content)
	}
}

// Close tears down the participant: the host's terminals or the guest's
// views, then the relay connection.
func (project *Project) Close() error {
	project.mu.Lock()
	handles := project.localHandles
	project.localHandles = nil

	var views []*RemoteTerminal
	for _, idViews := range project.remoteViews {
		views = append(views, idViews...)
	}
	project.remoteViews = make(map[uint64][]*RemoteTerminal)
	project.mu.Unlock()

	for _, handle := range handles {
		if err := handle.terminal.Close(); err != nil {
			project.logger.Warnf("failed to close terminal %d: %v", handle.id, err)
		}
	}

	for _, view := range views {
		view.markClosed()
	}

	if project.client == nil {
		return nil
	}

	return project.client.Close()
}
