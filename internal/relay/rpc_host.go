package relay

import (
	"net/http"

	"github.com/collabterm/collabterm/internal/api"
	"go.uber.org/zap"
)

func (relay *Relay) handleHost(w http.ResponseWriter, r *http.Request) {
	logger := relay.logger.With(relay.traceContext(r)...)

	ws, err := relay.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("failed to upgrade host connection", zap.Error(err))
		return
	}
	conn := newPeerConn(ws, relay.codec)
	defer conn.close()

	// Host begins with a Hello envelope that carries the secret it trusts
	envelope, err := conn.readEnvelope()
	if err != nil {
		logger.Warn("failed to receive a Hello envelope", zap.Error(err))
		return
	}
	if envelope.Type != api.TypeHostHello {
		logger.Warn("expected a Hello envelope, got something else")
		relay.refuse(conn, envelope, api.CodeFailedPrecondition, "expected a Hello envelope")
		return
	}

	var hello api.HostHello
	if err := envelope.DecodePayload(&hello); err != nil {
		logger.Warn("failed to decode the Hello envelope", zap.Error(err))
		relay.refuse(conn, envelope, api.CodeFailedPrecondition, "undecodable Hello envelope")
		return
	}

	// Create and register a new project associated with this host
	project, err := relay.registerProject(hello.TrustedSecret, conn)
	if err != nil {
		logger.Warn("failed to register project", zap.Error(err))
		relay.refuse(conn, envelope, api.CodeFailedPrecondition, err.Error())
		return
	}
	defer relay.unregisterProject(project)
	defer project.close()

	logger = logger.With(ProjectField(project.id), HashedSecretField(hello.TrustedSecret))

	// Tell the host its project ID
	if err := relay.respond(conn, envelope, api.TypeHelloResponse, &api.HelloResponse{ProjectID: project.id}); err != nil {
		logger.Warn("failed to tell the host its project ID", zap.Error(err))
		return
	}

	logger.Info("registered new project")

	for {
		envelope, err := conn.readEnvelope()
		if err != nil {
			// The host has left; the project dies with it
			logger.Info("host has disconnected", zap.Error(err))
			return
		}

		envelope.ProjectID = project.id

		if envelope.To != "" {
			// Addressed to one guest, e.g. a request response. A guest that
			// left while the host was answering is a normal race; the
			// envelope is simply dropped
			if guest := project.findGuest(envelope.To); guest != nil {
				if err := guest.writeEnvelope(envelope); err != nil {
					logger.Warn("failed to route an envelope to a guest",
						PeerField(envelope.To), zap.Error(err))
				}
			}
			continue
		}

		// Fan out to every guest currently joined
		project.broadcast(envelope, func(peerID string, err error) {
			logger.Warn("failed to fan an envelope out to a guest",
				PeerField(peerID), zap.Error(err))
		})
	}
}

func (relay *Relay) respond(conn *peerConn, request *api.Envelope, responseType string, payload interface{}) error {
	response, err := api.NewEnvelope(responseType, request.ProjectID, payload)
	if err != nil {
		return err
	}
	response.ReplyTo = request.RequestID

	return conn.writeEnvelope(response)
}

func (relay *Relay) refuse(conn *peerConn, request *api.Envelope, code string, message string) {
	_ = relay.respond(conn, request, api.TypeError, &api.Error{
		Code:    code,
		Message: message,
	})
}
