package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/collabterm/collabterm/internal/api"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("rpc client is closed")
	ErrTransport = errors.New("transport failure")
)

const defaultDialMaxElapsedTime = 15 * time.Second

// MessageHandler consumes a one-way envelope. Handlers for a given channel
// run on the read loop, so messages of the same type are observed in the
// order the relay delivered them.
type MessageHandler func(envelope *api.Envelope)

// RequestHandler answers a request envelope with a response payload or an
// error. Errors are reported to the requester as api.Error envelopes.
type RequestHandler func(ctx context.Context, envelope *api.Envelope) (responseType string, payload interface{}, err error)

// Client is one end of a relay connection. It provides fire-and-forget
// sends, correlated request/response exchanges and per-message-type handler
// registration; dispatch onto a particular entity (e.g. a terminal id) is
// the registered handler's business.
type Client struct {
	logger *zap.SugaredLogger

	dialMaxElapsedTime time.Duration

	conn      *websocket.Conn
	writeLock sync.Mutex
	codec     *api.Codec

	handlersLock    sync.RWMutex
	messageHandlers map[string]MessageHandler
	requestHandlers map[string]RequestHandler

	pendingLock sync.Mutex
	pending     map[string]chan *api.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a relay endpoint, retrying with exponential backoff
// until the context is cancelled or the backoff gives up.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	client := &Client{
		messageHandlers: make(map[string]MessageHandler),
		requestHandlers: make(map[string]RequestHandler),
		pending:         make(map[string]chan *api.Envelope),
		done:            make(chan struct{}),
	}

	// Apply options
	for _, opt := range opts {
		opt(client)
	}

	// Apply defaults
	if client.logger == nil {
		client.logger = zap.NewNop().Sugar()
	}
	if client.dialMaxElapsedTime == 0 {
		client.dialMaxElapsedTime = defaultDialMaxElapsedTime
	}

	codec, err := api.NewCodec()
	if err != nil {
		return nil, err
	}
	client.codec = codec

	dialPolicy := backoff.NewExponentialBackOff()
	dialPolicy.MaxElapsedTime = client.dialMaxElapsedTime

	err = backoff.Retry(func() error {
		conn, _, dialErr := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if dialErr != nil {
			client.logger.Debugf("failed to dial %s, will retry: %v", url, dialErr)
			return dialErr
		}

		client.conn = conn
		return nil
	}, backoff.WithContext(dialPolicy, ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	go client.readLoop(ctx)

	return client, nil
}

// HandleMessage registers a handler for one-way envelopes of the given type.
func (client *Client) HandleMessage(messageType string, handler MessageHandler) {
	client.handlersLock.Lock()
	defer client.handlersLock.Unlock()

	client.messageHandlers[messageType] = handler
}

// HandleRequest registers a handler for request envelopes of the given type.
func (client *Client) HandleRequest(messageType string, handler RequestHandler) {
	client.handlersLock.Lock()
	defer client.handlersLock.Unlock()

	client.requestHandlers[messageType] = handler
}

// Send transmits an envelope without waiting for anything to come back.
func (client *Client) Send(envelope *api.Envelope) error {
	select {
	case <-client.done:
		return ErrClosed
	default:
	}

	frame, err := client.codec.Marshal(envelope)
	if err != nil {
		return err
	}

	client.writeLock.Lock()
	defer client.writeLock.Unlock()

	if err := client.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	return nil
}

// Request transmits an envelope and suspends the caller until a correlated
// response arrives, the context is done, or the connection breaks. An
// api.Error response is returned as an error.
func (client *Client) Request(ctx context.Context, envelope *api.Envelope) (*api.Envelope, error) {
	envelope.RequestID = uuid.New().String()

	responseChan := make(chan *api.Envelope, 1)

	client.pendingLock.Lock()
	client.pending[envelope.RequestID] = responseChan
	client.pendingLock.Unlock()

	defer func() {
		client.pendingLock.Lock()
		delete(client.pending, envelope.RequestID)
		client.pendingLock.Unlock()
	}()

	if err := client.Send(envelope); err != nil {
		return nil, err
	}

	select {
	case response := <-responseChan:
		if response.Type == api.TypeError {
			var apiError api.Error
			if err := response.DecodePayload(&apiError); err != nil {
				return nil, fmt.Errorf("%w: undecodable error response: %v", ErrTransport, err)
			}
			return nil, &apiError
		}
		return response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-client.done:
		return nil, fmt.Errorf("%w: connection closed while waiting for a response", ErrTransport)
	}
}

func (client *Client) readLoop(ctx context.Context) {
	defer client.closeOnce.Do(func() {
		close(client.done)
		_ = client.conn.Close()
	})

	for {
		_, frame, err := client.conn.ReadMessage()
		if err != nil {
			select {
			case <-client.done:
				// ignore, we're shutting down
			default:
				client.logger.Debugf("connection read failed: %v", err)
			}
			return
		}

		envelope, err := client.codec.Unmarshal(frame)
		if err != nil {
			client.logger.Warnf("failed to unmarshal a frame: %v", err)
			continue
		}

		client.dispatch(ctx, envelope)
	}
}

func (client *Client) dispatch(ctx context.Context, envelope *api.Envelope) {
	// Responses go to the correlated waiter; a response nobody waits for
	// anymore is a normal race and is discarded without comment
	if envelope.ReplyTo != "" {
		client.pendingLock.Lock()
		responseChan := client.pending[envelope.ReplyTo]
		delete(client.pending, envelope.ReplyTo)
		client.pendingLock.Unlock()

		if responseChan != nil {
			responseChan <- envelope
		}
		return
	}

	client.handlersLock.RLock()
	requestHandler := client.requestHandlers[envelope.Type]
	messageHandler := client.messageHandlers[envelope.Type]
	client.handlersLock.RUnlock()

	if envelope.RequestID != "" && requestHandler != nil {
		go client.serveRequest(ctx, requestHandler, envelope)
		return
	}

	if messageHandler != nil {
		messageHandler(envelope)
		return
	}

	client.logger.Debugf("no handler registered for %q envelopes", envelope.Type)
}

func (client *Client) serveRequest(ctx context.Context, handler RequestHandler, envelope *api.Envelope) {
	responseType, payload, err := handler(ctx, envelope)
	if err != nil {
		apiError := &api.Error{Code: api.CodeInternal, Message: err.Error()}
		errors.As(err, &apiError)

		client.sendResponse(envelope, api.TypeError, apiError)
		return
	}

	client.sendResponse(envelope, responseType, payload)
}

func (client *Client) sendResponse(request *api.Envelope, responseType string, payload interface{}) {
	response, err := api.NewEnvelope(responseType, request.ProjectID, payload)
	if err != nil {
		client.logger.Warnf("failed to marshal a %q response: %v", responseType, err)
		return
	}

	response.ReplyTo = request.RequestID
	response.To = request.From

	if err := client.Send(response); err != nil {
		client.logger.Warnf("failed to send a %q response: %v", responseType, err)
	}
}

// Close tears the connection down. Outstanding requests fail with a
// transport error; late responses are discarded.
func (client *Client) Close() error {
	client.closeOnce.Do(func() {
		close(client.done)
		_ = client.conn.Close()
	})

	return nil
}
