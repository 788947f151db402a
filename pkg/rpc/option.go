package rpc

import (
	"time"

	"go.uber.org/zap"
)

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		client.logger = logger.Sugar()
	}
}

// WithDialMaxElapsedTime bounds how long Dial keeps retrying the relay.
func WithDialMaxElapsedTime(maxElapsedTime time.Duration) Option {
	return func(client *Client) {
		client.dialMaxElapsedTime = maxElapsedTime
	}
}
