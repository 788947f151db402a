package relay

import (
	"net/http"

	"github.com/collabterm/collabterm/internal/api"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (relay *Relay) handleGuest(w http.ResponseWriter, r *http.Request) {
	logger := relay.logger.With(relay.traceContext(r)...)

	ws, err := relay.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("failed to upgrade guest connection", zap.Error(err))
		return
	}
	conn := newPeerConn(ws, relay.codec)
	defer conn.close()

	// Guest begins with a Hello envelope naming the project it wants to join
	envelope, err := conn.readEnvelope()
	if err != nil {
		logger.Warn("failed to receive a Hello envelope", zap.Error(err))
		return
	}
	if envelope.Type != api.TypeGuestHello {
		logger.Warn("expected a Hello envelope, got something else")
		relay.refuse(conn, envelope, api.CodeFailedPrecondition, "expected a Hello envelope")
		return
	}

	var hello api.GuestHello
	if err := envelope.DecodePayload(&hello); err != nil {
		logger.Warn("failed to decode the Hello envelope", zap.Error(err))
		relay.refuse(conn, envelope, api.CodeFailedPrecondition, "undecodable Hello envelope")
		return
	}

	logger = logger.With(ProjectField(hello.ProjectID))

	// Find the project with the requested ID
	project := relay.findProject(hello.ProjectID)
	if project == nil {
		logger.Warn("project with the specified ID not found")
		relay.refuse(conn, envelope, api.CodeNotFound, "project not found")
		return
	}

	// Authenticate the guest
	if !project.isSecretValid(hello.Secret) {
		logger.Warn("guest supplied an invalid secret")
		relay.refuse(conn, envelope, api.CodePermissionDenied, "invalid secret")
		return
	}

	// Join the project under a fresh peer ID
	peerID := uuid.New().String()
	logger = logger.With(PeerField(peerID))

	if err := relay.respond(conn, envelope, api.TypeHelloResponse, &api.HelloResponse{
		ProjectID: project.id,
		PeerID:    peerID,
	}); err != nil {
		logger.Warn("failed to tell the guest its peer ID", zap.Error(err))
		return
	}

	// Join after the hello response is on the wire: fan-out cannot reach
	// this guest before it is registered, and joining replays the directory
	// it missed while not joined
	if err := project.joinGuest(peerID, conn); err != nil {
		logger.Warn("failed to join guest to project", zap.Error(err))
		return
	}
	defer project.unregisterGuest(peerID)

	logger.Info("guest joined project")

	// Everything a guest sends goes to the host, stamped with the guest's
	// peer ID so the host's responses can be routed back
	for {
		envelope, err := conn.readEnvelope()
		if err != nil {
			logger.Info("guest has disconnected", zap.Error(err))
			return
		}

		envelope.From = peerID
		envelope.ProjectID = project.id

		if err := project.host.writeEnvelope(envelope); err != nil {
			logger.Warn("failed to route an envelope to the host", zap.Error(err))
			return
		}
	}
}
