package relay

import (
	"crypto/tls"
	"net/http"

	"go.uber.org/zap"
)

type Option func(*Relay)

type WebsocketOriginFunc func(*http.Request) bool

func WithLogger(logger *zap.Logger) Option {
	return func(relay *Relay) {
		relay.logger = logger
	}
}

func WithServerAddress(addresses ...string) Option {
	return func(relay *Relay) {
		relay.addresses = append(relay.addresses, addresses...)
	}
}

func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(relay *Relay) {
		relay.tlsConfig = tlsConfig
	}
}

func WithWebsocketOriginFunc(websocketOriginFunc WebsocketOriginFunc) Option {
	return func(relay *Relay) {
		relay.websocketOriginFunc = websocketOriginFunc
	}
}

func WithGCPProjectID(gcpProjectID string) Option {
	return func(relay *Relay) {
		relay.gcpProjectID = gcpProjectID
	}
}
