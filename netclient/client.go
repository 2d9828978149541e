// Package netclient implements the Client role: it owns exactly one
// Connection, resolves and dials the server, and exposes Send plus
// OnMessage/OnConnected delegates. Modeled on cmd/miniccc's dial.go,
// which performs the same connect-then-handshake sequence against a
// single persistent server connection.
package netclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Mikapo/Network-framework/delegate"
	"github.com/Mikapo/Network-framework/netconn"
	"github.com/Mikapo/Network-framework/netevent"
	"github.com/Mikapo/Network-framework/netmsg"
	"github.com/Mikapo/Network-framework/netpeer"
	"github.com/Mikapo/Network-framework/netpeer/internal/dispatch"
)

// Client owns a single Connection to a Server.
type Client[T netmsg.ID] struct {
	netpeer.Base[T]

	tlsConfig *tls.Config

	mu          sync.Mutex
	conn        *netconn.Connection[T]
	remoteID    uint32
	hasRemoteID bool

	onMessage   delegate.Delegate[func(*netmsg.Message[T])]
	onConnected delegate.Delegate[func(uint32)]
}

// New returns an unconnected Client.
func New[T netmsg.ID]() *Client[T] {
	return &Client[T]{Base: netpeer.NewBase[T]("client")}
}

// SetTLSConfig enables TLS for the connection Connect establishes. Call
// before Connect.
func (c *Client[T]) SetTLSConfig(cfg *tls.Config) {
	c.tlsConfig = cfg
}

// OnMessage subscribes to application (not_internal) messages.
func (c *Client[T]) OnMessage(f func(*netmsg.Message[T])) {
	c.onMessage.Set(f)
}

// OnConnected fires exactly once, after the server's assigned id
// arrives.
func (c *Client[T]) OnConnected(f func(uint32)) {
	c.onConnected.Set(f)
}

// RemoteID returns the id the server assigned this client, if the
// handshake's internal server_data message has arrived yet.
func (c *Client[T]) RemoteID() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID, c.hasRemoteID
}

// Connected reports whether the underlying Connection is live.
func (c *Client[T]) Connected() bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn != nil && conn.IsConnected()
}

// Connect resolves host:port, dials it, and on success starts the
// Connection's handshake. It starts the reactor if it is not already
// running. Failures push an error notification and return false.
func (c *Client[T]) Connect(host string, port int) bool {
	// Start is idempotent-failing; a second Connect reusing a live
	// reactor is fine, so the error (always ErrAlreadyRunning) is
	// intentionally ignored here.
	_ = c.Reactor.Start()

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	c.Log.WithField("addr", addr).Debug("dialing server")

	rawConn, err := net.Dial("tcp", addr)
	if err != nil {
		c.Log.WithError(err).WithField("addr", addr).Debug("dial failed")
		c.PushNotification(netevent.Notification{
			Text:     fmt.Sprintf("connect to %s failed: %v", addr, err),
			Severity: netevent.SeverityError,
		})
		return false
	}

	var transport net.Conn = rawConn
	if c.tlsConfig != nil {
		transport = tls.Client(rawConn, c.tlsConfig)
	}

	connection := c.NewConnection(netconn.Config[T]{
		Conn: transport,
		ID:   0,
		Role: netconn.RoleClient,
	})

	c.mu.Lock()
	c.conn = connection
	c.mu.Unlock()

	c.Metrics.ConnectionsActive.Inc()
	connection.Start()

	return true
}

// Disconnect tears down the Connection, if any, and stops the reactor.
func (c *Client[T]) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.Log.Debug("disconnecting from server")
		conn.Disconnect("client disconnected", false)
		c.Metrics.ConnectionsActive.Dec()
	}

	c.Reactor.Stop()
}

// Send posts connection.Send to the reactor if a Connection exists;
// otherwise it is a no-op.
func (c *Client[T]) Send(msg *netmsg.Message[T]) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return
	}

	_ = c.Reactor.Post(func() { conn.Send(msg) })
}

// Update drains the base (notifications) and then this role's inbound
// queue, routing not_internal messages to OnMessage and internal
// messages through the internal dispatcher.
func (c *Client[T]) Update(maxItems int, wait bool, sweepInterval *time.Duration) {
	c.Base.Update(maxItems, wait, sweepInterval, nil, nil)
	c.drainInbound(maxItems)
}

func (c *Client[T]) drainInbound(maxItems int) {
	for i := 0; i < maxItems; i++ {
		owned, err := c.Inbound.PopFront()
		if err != nil {
			return
		}

		if owned.Message.GetInternalID() == netmsg.NotInternal {
			if fn, ok := c.onMessage.Get(); ok {
				fn(owned.Message)
			}
			continue
		}

		c.handleInternal(owned.Message)
	}
}

// handleInternal is the framework's small, closed dispatcher for
// internal messages. Today the only one a Client ever receives is
// server_data.
func (c *Client[T]) handleInternal(msg *netmsg.Message[T]) {
	switch msg.GetInternalID() {
	case netmsg.InternalServerData:
		id, err := dispatch.ParseServerData(msg)
		if err != nil {
			c.Log.WithError(err).Debug("malformed server_data message")
			return
		}

		c.Log.WithField("assigned_id", id).Debug("received server_data")

		c.mu.Lock()
		already := c.hasRemoteID
		c.remoteID = id
		c.hasRemoteID = true
		c.mu.Unlock()

		if !already {
			if fn, ok := c.onConnected.Get(); ok {
				fn(id)
			}
		}
	default:
		// Unknown internal id: trust boundary ends here, drop silently.
		c.Log.WithField("internal_id", msg.GetInternalID()).Debug("unknown internal message")
	}
}
