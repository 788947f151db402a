package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/collabterm/collabterm/internal/api"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrNewProjectRefused = errors.New("refusing to register new project")

const handshakeTimeout = 10 * time.Second

// Relay accepts one host connection per project and any number of guest
// connections, and routes envelopes between them: host envelopes fan out to
// the project's guests (or to one addressed guest), guest envelopes go to
// the host.
type Relay struct {
	logger *zap.Logger

	projectsLock  sync.RWMutex
	projects      map[uint64]*project
	nextProjectID atomic.Uint64

	addresses []string
	listeners []net.Listener
	tlsConfig *tls.Config

	websocketOriginFunc WebsocketOriginFunc
	upgrader            websocket.Upgrader
	codec               *api.Codec

	gcpProjectID string
}

func New(opts ...Option) (*Relay, error) {
	relay := &Relay{
		projects: make(map[uint64]*project),
	}

	// Apply options
	for _, opt := range opts {
		opt(relay)
	}

	// Apply defaults
	if relay.logger == nil {
		relay.logger = zap.NewNop()
	}
	if relay.websocketOriginFunc == nil {
		relay.websocketOriginFunc = func(request *http.Request) bool {
			// Non-browser clients don't send an Origin header
			return request.Header.Get("Origin") == ""
		}
	}
	if len(relay.addresses) == 0 {
		relay.addresses = []string{"0.0.0.0:0"}
	}

	codec, err := api.NewCodec()
	if err != nil {
		return nil, err
	}
	relay.codec = codec

	relay.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: handshakeTimeout,
		CheckOrigin:      relay.websocketOriginFunc,
	}

	// Listen
	for _, address := range relay.addresses {
		listener, err := net.Listen("tcp", address)
		if err != nil {
			return nil, err
		}

		relay.listeners = append(relay.listeners, listener)
	}

	return relay, nil
}

func (relay *Relay) Run(ctx context.Context) error {
	// Create a sub-context to let the first failing Goroutine to start the cancellation process
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/host", relay.handleHost)
	mux.HandleFunc("/guest", relay.handleGuest)

	startServer := func(listener net.Listener) error {
		server := http.Server{
			Handler:   mux,
			TLSConfig: relay.tlsConfig,
		}

		go func() {
			<-subCtx.Done()
			_ = server.Close()
		}()

		relay.logger.Sugar().Infof("starting relay on %s...", listener.Addr().String())

		if server.TLSConfig != nil {
			return server.ServeTLS(listener, "", "")
		}
		return server.Serve(listener)
	}

	for _, listener := range relay.listeners {
		listener := listener
		go func() {
			defer cancel()

			if serverErr := startServer(listener); serverErr != nil && !errors.Is(serverErr, http.ErrServerClosed) {
				relay.logger.Sugar().With(zap.Error(serverErr)).Warnf("relay failed on %s", listener.Addr().String())
			}
		}()
	}

	<-subCtx.Done()

	return ctx.Err()
}

func (relay *Relay) Addresses() []string {
	var result []string

	for _, listener := range relay.listeners {
		result = append(result, listener.Addr().String())
	}

	return result
}

// Address returns the first listener's address, for single-listener setups.
func (relay *Relay) Address() string {
	return relay.listeners[0].Addr().String()
}

func (relay *Relay) registerProject(trustedSecret string, host *peerConn) (*project, error) {
	if trustedSecret == "" {
		return nil, errors.New("empty trusted secret supplied")
	}

	relay.projectsLock.Lock()
	defer relay.projectsLock.Unlock()

	id := relay.nextProjectID.Add(1)

	if _, ok := relay.projects[id]; ok {
		return nil, ErrNewProjectRefused
	}

	project := newProject(id, trustedSecret, host)
	relay.projects[id] = project

	return project, nil
}

func (relay *Relay) findProject(id uint64) *project {
	relay.projectsLock.RLock()
	defer relay.projectsLock.RUnlock()

	return relay.projects[id]
}

func (relay *Relay) unregisterProject(project *project) {
	relay.projectsLock.Lock()
	defer relay.projectsLock.Unlock()

	delete(relay.projects, project.id)
}
