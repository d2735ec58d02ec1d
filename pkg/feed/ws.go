package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/deskstream/deskstream/internal/rand"
	"github.com/deskstream/deskstream/pkg/logger"
)

// DefaultDialer is the gorilla dialer used by Conn. It differs from
// gorilla's default in that compression is enabled and the cbor subprotocol
// is requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

const requestIDLength = 16

var (
	ErrClosed       = errors.New("feed connection closed")
	ErrIDInUse      = errors.New("request id already in use")
	ErrNotConnected = errors.New("feed connection not established")
	ErrNoURL        = errors.New("feed config has no URL")
	ErrNoCodec      = errors.New("feed config has no codec")

	errNotOwned = errors.New("subscription not owned by this connection")
)

// deadlineFrom converts a context deadline into the absolute deadline a
// gorilla control write expects, with a short default when the context has
// none.
func deadlineFrom(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(time.Second)
}

// rpcRequest is one client-to-server frame.
type rpcRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

// RPCError is a server-reported request failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// inbound is one server-to-client frame: either a response to a request
// (ID set) or a pushed change event (Event set).
type inbound struct {
	ID     string          `json:"id,omitempty"`
	Result cbor.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Event  *Event          `json:"event,omitempty"`
}

// Conn is a WebSocket feed connection. One read loop goroutine demultiplexes
// inbound frames into per-request response channels and per-subscription
// event channels, so any number of RPCs and subscriptions share the socket.
type Conn struct {
	conf *Config
	log  logger.Logger

	ws        *gorilla.Conn
	writeLock sync.Mutex

	responses     map[string]chan inbound
	responsesLock sync.Mutex

	subs     map[string]*Subscription
	subsLock sync.Mutex

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewConn builds a Conn from the config without dialing.
func NewConn(conf *Config) *Conn {
	log := conf.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Conn{
		conf:      conf,
		log:       log,
		responses: make(map[string]chan inbound),
		subs:      make(map[string]*Subscription),
		closeCh:   make(chan struct{}),
	}
}

// Connect dials the backend's /rpc endpoint and starts the read loop.
func (c *Conn) Connect(ctx context.Context) error {
	if c.conf.URL == nil {
		return ErrNoURL
	}
	if c.conf.Marshaler == nil || c.conf.Unmarshaler == nil {
		return ErrNoCodec
	}

	endpoint := *c.conf.URL
	endpoint.Path = "/rpc"

	ws, resp, err := DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint.String(), err)
	}
	defer resp.Body.Close()

	c.ws = ws
	go c.readLoop()
	return nil
}

// Authenticate presents the viewer's access token. The server scopes every
// subsequent subscription to the rows this identity is permitted to read.
func (c *Conn) Authenticate(ctx context.Context, token string) error {
	return c.send(ctx, nil, "authenticate", token)
}

// Subscribe registers a change-feed subscription and returns it with its
// delivery channel attached.
func (c *Conn) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	var id string
	if err := c.send(ctx, &id, "subscribe", filter); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", filter.Table, err)
	}

	buffer := c.conf.EventBuffer
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	sub := NewSubscription(id, filter, buffer)

	c.subsLock.Lock()
	c.subs[id] = sub
	c.subsLock.Unlock()

	return sub, nil
}

// Unsubscribe releases a subscription. Its event channel is closed once the
// server confirms, so a ranging consumer terminates cleanly.
func (c *Conn) Unsubscribe(ctx context.Context, sub *Subscription) error {
	c.subsLock.Lock()
	owned := c.subs[sub.ID()] == sub
	if owned {
		delete(c.subs, sub.ID())
	}
	c.subsLock.Unlock()

	if !owned {
		return errNotOwned
	}

	err := c.send(ctx, nil, "unsubscribe", sub.ID())
	sub.Terminate()
	return err
}

// Close tears the connection down: a best-effort close frame, then the
// socket, then every live subscription channel. Safe to call twice.
func (c *Conn) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)

		if c.ws != nil {
			// Let the server know we are going away, but do not wait
			// past the caller's deadline for the write to land.
			written := make(chan error, 1)
			go func() {
				written <- c.ws.WriteControl(
					gorilla.CloseMessage,
					gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""),
					deadlineFrom(ctx),
				)
			}()
			select {
			case werr := <-written:
				if werr != nil {
					c.log.Warn("close frame write failed", "error", werr)
				}
			case <-ctx.Done():
			}
			err = c.ws.Close()
		}

		c.terminateSubscriptions()
	})
	return err
}

func (c *Conn) terminateSubscriptions() {
	c.subsLock.Lock()
	defer c.subsLock.Unlock()
	for id, sub := range c.subs {
		sub.Terminate()
		delete(c.subs, id)
	}
}

// send issues one RPC and decodes the result into dest, which may be nil
// when the caller only cares about success.
func (c *Conn) send(ctx context.Context, dest any, method string, params ...any) error {
	if c.ws == nil {
		return ErrNotConnected
	}
	if c.conf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.Timeout)
		defer cancel()
	}

	select {
	case <-c.closeCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	id := rand.RequestID(requestIDLength)
	respCh, err := c.createResponseChannel(id)
	if err != nil {
		return err
	}
	defer c.removeResponseChannel(id)

	if err := c.write(&rpcRequest{ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCh:
		return ErrClosed
	case res, open := <-respCh:
		if !open {
			return ErrClosed
		}
		if res.Error != nil {
			return res.Error
		}
		if dest == nil || res.Result == nil {
			return nil
		}
		if err := c.conf.Unmarshaler.Unmarshal(res.Result, dest); err != nil {
			return fmt.Errorf("unmarshal %s response: %w", method, err)
		}
		return nil
	}
}

func (c *Conn) write(req *rpcRequest) error {
	data, err := c.conf.Marshaler.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.ws.WriteMessage(gorilla.BinaryMessage, data)
}

func (c *Conn) createResponseChannel(id string) (chan inbound, error) {
	c.responsesLock.Lock()
	defer c.responsesLock.Unlock()
	if _, ok := c.responses[id]; ok {
		return nil, fmt.Errorf("%w: %v", ErrIDInUse, id)
	}
	ch := make(chan inbound, 1)
	c.responses[id] = ch
	return ch, nil
}

func (c *Conn) removeResponseChannel(id string) {
	c.responsesLock.Lock()
	defer c.responsesLock.Unlock()
	delete(c.responses, id)
}

func (c *Conn) readLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				c.log.Error("feed read failed", "error", err)
				_ = c.Close(context.Background())
			}
			return
		}

		var frame inbound
		if err := c.conf.Unmarshaler.Unmarshal(data, &frame); err != nil {
			// A frame we cannot decode must not kill the connection;
			// later frames are independent of it.
			c.log.Warn("dropping undecodable frame", "error", err)
			continue
		}
		c.dispatch(&frame)
	}
}

// dispatch routes one inbound frame to the waiting RPC caller or the owning
// subscription.
func (c *Conn) dispatch(frame *inbound) {
	if frame.Event != nil {
		c.subsLock.Lock()
		sub := c.subs[frame.Event.Subscription]
		c.subsLock.Unlock()

		if sub == nil {
			// Subscription already released; the event belongs to nobody.
			c.log.Debug("event for unknown subscription",
				"subscription", frame.Event.Subscription,
				"table", frame.Event.Table)
			return
		}
		if !sub.Deliver(*frame.Event) {
			c.log.Warn("event buffer full, dropping event",
				"subscription", sub.ID(),
				"event", frame.Event.ID)
		}
		return
	}

	c.responsesLock.Lock()
	ch := c.responses[frame.ID]
	c.responsesLock.Unlock()

	if ch == nil {
		c.log.Debug("response for unknown request", "id", frame.ID)
		return
	}
	ch <- *frame
}
