package relay

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/collabterm/collabterm/internal/api"
)

// project is one registered sharing session: the host connection that
// created it and every guest currently joined.
type project struct {
	id            uint64
	trustedSecret string

	host *peerConn

	lock         sync.Mutex
	guests       map[string]*peerConn
	noMoreGuests bool

	// The latest directory snapshot the host broadcast. Replayed to a guest
	// as it joins, which is sound because directory updates are whole-state
	// replacements. Joining and fan-out hold the same lock, so a replayed
	// snapshot can never reach a guest after a fresher broadcast.
	lastDirectory *api.Envelope
}

func newProject(id uint64, trustedSecret string, host *peerConn) *project {
	return &project{
		id:            id,
		trustedSecret: trustedSecret,
		host:          host,
		guests:        make(map[string]*peerConn),
	}
}

func (project *project) isSecretValid(secret string) bool {
	if project.trustedSecret == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(project.trustedSecret), []byte(secret)) == 1
}

// joinGuest registers a guest and replays the latest directory to it in the
// same critical section, so a concurrent fan-out cannot slip a fresher
// snapshot in between registration and the replay.
func (project *project) joinGuest(peerID string, conn *peerConn) error {
	project.lock.Lock()
	defer project.lock.Unlock()

	if project.noMoreGuests {
		return fmt.Errorf("refusing to register new guest because the project is shutting down")
	}

	if _, ok := project.guests[peerID]; ok {
		return fmt.Errorf("attempted to register multiple guests with the same peer ID")
	}

	project.guests[peerID] = conn

	if project.lastDirectory != nil {
		if err := conn.writeEnvelope(project.lastDirectory); err != nil {
			delete(project.guests, peerID)
			return fmt.Errorf("failed to replay the directory to a joining guest: %w", err)
		}
	}

	return nil
}

func (project *project) unregisterGuest(peerID string) {
	project.lock.Lock()
	defer project.lock.Unlock()

	delete(project.guests, peerID)
}

func (project *project) findGuest(peerID string) *peerConn {
	project.lock.Lock()
	defer project.lock.Unlock()

	return project.guests[peerID]
}

// broadcast fans an envelope out to every guest currently joined, caching
// directory snapshots for guests that join later. Write failures go to
// onError; a guest with a broken connection cleans itself up on its own
// handler's read path.
func (project *project) broadcast(envelope *api.Envelope, onError func(peerID string, err error)) {
	project.lock.Lock()
	defer project.lock.Unlock()

	if envelope.Type == api.TypeUpdateTerminals {
		project.lastDirectory = envelope
	}

	for peerID, conn := range project.guests {
		if err := conn.writeEnvelope(envelope); err != nil {
			onError(peerID, err)
		}
	}
}

// close disconnects every guest; the project is only closed when its host
// goes away, and a guest without a host has nothing left to observe.
func (project *project) close() {
	project.lock.Lock()
	defer project.lock.Unlock()

	project.noMoreGuests = true

	for peerID, conn := range project.guests {
		conn.close()
		delete(project.guests, peerID)
	}
}
