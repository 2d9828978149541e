// Package netconn implements the per-socket connection state machine:
// handshake, then a read pump and write pump that run concurrently
// until the connection closes. Its read-loop-per-connection goroutine
// is grounded on the accept-loop pattern in minimega's ron server,
// which spawns one goroutine per accepted client that blocks decoding
// frames until the connection drops.
package netconn

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Mikapo/Network-framework/netevent"
	"github.com/Mikapo/Network-framework/netmsg"
	"github.com/Mikapo/Network-framework/reactor"
)

// HandshakeRole tells a Connection which side of the (optional) TLS
// handshake it performs.
type HandshakeRole int

const (
	RoleClient HandshakeRole = iota
	RoleServer
)

// OwnedMessage bundles a received Message with the ClientInfo of
// whoever sent it, the shape the peer's inbound queue holds.
type OwnedMessage[T netmsg.ID] struct {
	Message *netmsg.Message[T]
	Client  netevent.ClientInfo
}

// Connection is a single socket's framed read/write state machine. It
// is owned exclusively by its role: a Client holds one, a Server holds
// one per registered client, keyed by assigned id. A Connection is
// never reused across transports.
type Connection[T netmsg.ID] struct {
	id         uint32
	ip         string
	conn       net.Conn
	role       HandshakeRole
	reactor    *reactor.Reactor
	accepted   *netmsg.AcceptedMessages[T]
	log        *logrus.Entry
	internalID string // uuid for correlating log lines, not wire-visible

	onMessage      func(OwnedMessage[T])
	onNotification func(netevent.Notification)

	// mu guards hasHandshaken, isWriting, and outbound together: the
	// write pump's "queue drained, stop running" decision must be made
	// under the same lock Send uses to push and to decide whether a new
	// pump needs starting, or a message pushed in the gap between the
	// pump's last pop and it clearing isWriting would sit forever.
	mu            sync.Mutex
	hasHandshaken bool
	isWriting     bool
	outbound      []*netmsg.Message[T]

	closed atomic.Bool
	once   sync.Once
}

// Config bundles the pieces a Connection needs beyond the socket
// itself.
type Config[T netmsg.ID] struct {
	Conn           net.Conn
	ID             uint32
	Role           HandshakeRole
	Reactor        *reactor.Reactor
	Accepted       *netmsg.AcceptedMessages[T]
	Log            *logrus.Entry
	OnMessage      func(OwnedMessage[T])
	OnNotification func(netevent.Notification)
}

// New constructs a Connection over an already-open transport (plain TCP
// or a *tls.Conn whose handshake has not yet run). It does not begin
// I/O; call Start for that.
func New[T netmsg.ID](cfg Config[T]) *Connection[T] {
	ip := "0.0.0.0"
	if cfg.Conn != nil {
		if host, _, err := net.SplitHostPort(cfg.Conn.RemoteAddr().String()); err == nil {
			ip = host
		}
	}

	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	internalID := uuid.NewString()

	return &Connection[T]{
		id:             cfg.ID,
		ip:             ip,
		conn:           cfg.Conn,
		role:           cfg.Role,
		reactor:        cfg.Reactor,
		accepted:       cfg.Accepted,
		log:            log.WithFields(logrus.Fields{"conn_id": cfg.ID, "conn_uuid": internalID, "ip": ip}),
		internalID:     internalID,
		onMessage:      cfg.OnMessage,
		onNotification: cfg.OnNotification,
	}
}

func (c *Connection[T]) ID() uint32 { return c.id }
func (c *Connection[T]) IP() string { return c.ip }

// IsConnected reports whether the lowest transport layer is still
// open.
func (c *Connection[T]) IsConnected() bool {
	return !c.closed.Load()
}

// Start performs the handshake (a no-op on plain TCP) and then begins
// the read pump. It runs the blocking handshake and read loop on a
// goroutine tracked by the reactor so Stop can join it.
func (c *Connection[T]) Start() {
	if err := c.reactor.Go(func() { c.runHandshakeAndRead() }); err != nil {
		c.log.WithError(err).Debug("failed to start connection")
		c.notify(fmt.Sprintf("failed to start connection %d: %v", c.id, err), netevent.SeverityError)
		c.closeTransport()
	}
}

func (c *Connection[T]) runHandshakeAndRead() {
	c.log.Debug("starting handshake")

	if tlsConn, ok := c.conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			c.log.WithError(err).Debug("TLS handshake failed")
			c.disconnect(fmt.Sprintf("TLS handshake failed: %v", err), true)
			return
		}
	}

	c.mu.Lock()
	c.hasHandshaken = true
	c.mu.Unlock()

	c.log.Debug("handshake complete")
	c.notify(fmt.Sprintf("successful handshake with %s", c.ip), netevent.SeverityNotification)

	// Flush anything queued while we were waiting for the handshake.
	c.tryStartWriting()

	c.readLoop()
}

// Send enqueues msg for delivery. If the connection has already
// handshaken and nothing else is currently writing, it kicks off the
// write pump.
func (c *Connection[T]) Send(msg *netmsg.Message[T]) {
	c.mu.Lock()
	c.outbound = append(c.outbound, msg)
	c.mu.Unlock()

	c.tryStartWriting()
}

// tryStartWriting starts the write pump if one isn't already running and
// there is handshaken-and-ready work to send. The decision (and the
// pump's matching decision to stop) is always made under c.mu so a
// Send landing between the pump's last pop and it clearing isWriting
// can never be left unflushed.
func (c *Connection[T]) tryStartWriting() {
	c.mu.Lock()
	canStart := c.hasHandshaken && !c.isWriting && len(c.outbound) > 0
	if canStart {
		c.isWriting = true
	}
	c.mu.Unlock()

	if !canStart {
		return
	}

	if err := c.reactor.Go(func() { c.writePump() }); err != nil {
		c.mu.Lock()
		c.isWriting = false
		c.mu.Unlock()
	}
}

func (c *Connection[T]) writePump() {
	for {
		c.mu.Lock()
		if len(c.outbound) == 0 {
			c.isWriting = false
			c.mu.Unlock()
			return
		}

		msg := c.outbound[0]
		c.outbound = c.outbound[1:]
		c.mu.Unlock()

		if err := c.writeMessage(msg); err != nil {
			c.log.WithError(err).Debug("write failed")
			c.disconnect(fmt.Sprintf("write failed: %v", err), true)
			return
		}
	}
}

func (c *Connection[T]) writeMessage(msg *netmsg.Message[T]) error {
	header := msg.Header()
	if err := netmsg.WriteHeader(c.conn, header); err != nil {
		return err
	}

	if header.BodySize > 0 {
		if _, err := c.conn.Write(msg.Body()); err != nil {
			return err
		}
	}

	return nil
}

// readLoop is the serial read pump: header, validate, optional body,
// deliver, repeat until an error closes the connection.
func (c *Connection[T]) readLoop() {
	for {
		header, err := netmsg.ReadHeader[T](c.conn)
		if err != nil {
			if err != io.EOF {
				c.log.WithError(err).Debug("read header failed")
				c.disconnect(fmt.Sprintf("read header failed: %v", err), true)
			} else {
				c.log.Debug("connection closed by peer")
				c.disconnect("", false)
			}
			return
		}

		if !c.validateHeader(header) {
			c.log.WithFields(logrus.Fields{
				"internal_id": header.InternalID,
				"id":          header.ID,
				"body_size":   header.BodySize,
			}).Debug("header failed validation")
			c.disconnect("Header validation failed", true)
			return
		}

		var body []byte
		if header.BodySize > 0 {
			body = make([]byte, header.BodySize)
			if _, err := io.ReadFull(c.conn, body); err != nil {
				c.log.WithError(err).Debug("read body failed")
				c.disconnect(fmt.Sprintf("read body failed: %v", err), true)
				return
			}
		}

		c.deliver(netmsg.FromHeaderAndBody(header, body))
	}
}

func (c *Connection[T]) validateHeader(h netmsg.Header[T]) bool {
	if h.ValidationKey != netmsg.ValidationKey {
		return false
	}

	if h.InternalID != netmsg.NotInternal {
		return true
	}

	if c.accepted == nil {
		return true
	}

	return c.accepted.Check(h.ID, h.BodySize)
}

func (c *Connection[T]) deliver(msg *netmsg.Message[T]) {
	if c.onMessage == nil {
		return
	}

	c.onMessage(OwnedMessage[T]{
		Message: msg,
		Client:  netevent.ClientInfo{AssignedID: c.id, IP: c.ip},
	})
}

// Disconnect closes the connection, broadcasting a notification if a
// reason was given.
func (c *Connection[T]) Disconnect(reason string, isError bool) {
	c.disconnect(reason, isError)
}

func (c *Connection[T]) disconnect(reason string, isError bool) {
	if !c.IsConnected() {
		return
	}

	if reason != "" {
		severity := netevent.SeverityNotification
		if isError {
			severity = netevent.SeverityError
		}
		c.notify(reason, severity)
	}

	c.closeTransport()
}

func (c *Connection[T]) closeTransport() {
	c.once.Do(func() {
		c.log.Debug("closing transport")
		c.closed.Store(true)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Connection[T]) notify(text string, severity netevent.Severity) {
	if c.onNotification == nil {
		return
	}
	c.onNotification(netevent.Notification{Text: text, Severity: severity})
}
