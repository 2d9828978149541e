// Package netserver implements the Server role: the accept loop,
// admission (bans plus an application veto), the client registry keyed
// by assigned id, and broadcast/targeted send. Modeled on
// internal/ron/server.go's serve/handshake/clientHandler split, adapted
// from ron's single trusted-VM registry to an open admission-with-veto
// model.
package netserver

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Mikapo/Network-framework/delegate"
	"github.com/Mikapo/Network-framework/netconn"
	"github.com/Mikapo/Network-framework/netevent"
	"github.com/Mikapo/Network-framework/netmsg"
	"github.com/Mikapo/Network-framework/netpeer"
	"github.com/Mikapo/Network-framework/netpeer/internal/dispatch"
	"github.com/Mikapo/Network-framework/syncqueue"
)

// firstAssignedID is the first id handed to a connecting client; ids
// increase monotonically and are never reused within a server's
// lifetime.
const firstAssignedID uint32 = 1000

// Server accepts connections, admits or rejects them, and tracks one
// Connection per admitted client.
type Server[T netmsg.ID] struct {
	netpeer.Base[T]

	tlsConfig *tls.Config

	mu        sync.Mutex
	listener  net.Listener
	clients   map[uint32]*netconn.Connection[T]
	bannedIPs map[string]struct{}
	idCounter uint32

	pending *syncqueue.Queue[net.Conn]

	onClientConnect    delegate.Delegate[func(netevent.ClientInfo, *bool)]
	onClientDisconnect delegate.Delegate[func(netevent.ClientInfo)]
	onMessage          delegate.Delegate[func(netevent.ClientInfo, *netmsg.Message[T])]
}

// New returns a Server with no listener yet.
func New[T netmsg.ID]() *Server[T] {
	return &Server[T]{
		Base:      netpeer.NewBase[T]("server"),
		clients:   make(map[uint32]*netconn.Connection[T]),
		bannedIPs: make(map[string]struct{}),
		idCounter: firstAssignedID,
		pending:   syncqueue.New[net.Conn](),
	}
}

// SetTLSConfig enables TLS on every connection accepted after this
// call. Call before Start.
func (s *Server[T]) SetTLSConfig(cfg *tls.Config) {
	s.tlsConfig = cfg
}

func (s *Server[T]) OnClientConnect(f func(netevent.ClientInfo, *bool)) {
	s.onClientConnect.Set(f)
}

func (s *Server[T]) OnClientDisconnect(f func(netevent.ClientInfo)) {
	s.onClientDisconnect.Set(f)
}

func (s *Server[T]) OnMessage(f func(netevent.ClientInfo, *netmsg.Message[T])) {
	s.onMessage.Set(f)
}

// BanIP prevents future connections from ip. Already-connected clients
// from ip are unaffected; disconnect them explicitly if needed.
func (s *Server[T]) BanIP(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bannedIPs[ip] = struct{}{}
}

// UnbanIP reverses BanIP.
func (s *Server[T]) UnbanIP(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bannedIPs, ip)
}

func (s *Server[T]) isBanned(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bannedIPs[ip]
	return ok
}

// Start launches the reactor and the accept loop on port.
func (s *Server[T]) Start(port int) bool {
	if err := s.Reactor.Start(); err != nil {
		// A second Start on a live server reuses the reactor; that's
		// fine, only the listener below is the real guard.
		_ = err
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		s.Log.WithError(err).WithField("port", port).Debug("listen failed")
		s.PushNotification(netevent.Notification{
			Text:     fmt.Sprintf("server start error: %v", err),
			Severity: netevent.SeverityError,
		})
		return false
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if err := s.Reactor.Go(func() { s.acceptLoop(ln) }); err != nil {
		_ = ln.Close()
		s.PushNotification(netevent.Notification{
			Text:     fmt.Sprintf("server start error: %v", err),
			Severity: netevent.SeverityError,
		})
		return false
	}

	s.Log.WithField("port", port).Debug("server listening")
	s.PushNotification(netevent.Notification{Text: "Server has been started"})
	return true
}

// Stop closes the listener, disconnects every client, and stops the
// reactor.
func (s *Server[T]) Stop() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	clients := make([]*netconn.Connection[T], 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	s.Log.WithField("clients", len(clients)).Debug("stopping server")

	for _, c := range clients {
		c.Disconnect("server shutting down", false)
	}

	s.Reactor.Stop()
	s.PushNotification(netevent.Notification{Text: "Server has been stopped"})
}

func (s *Server[T]) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		ip := remoteIP(conn)

		if s.isBanned(ip) {
			s.PushNotification(netevent.Notification{Text: fmt.Sprintf("Client with ip %s is banned", ip)})
			_ = conn.Close()
			continue
		}

		s.pending.PushBack(conn)
		s.signalPending()
	}
}

// signalPending wakes a blocked Update via the same wakeup channel the
// base uses; hasPending (passed as Update's extra hook) is what makes
// ShouldStopWaiting actually return true once woken.
func (s *Server[T]) signalPending() {
	s.Signal()
}

// DisconnectClient closes and removes the client with id, if present.
func (s *Server[T]) DisconnectClient(id uint32) {
	s.mu.Lock()
	conn, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	s.mu.Unlock()

	if ok {
		conn.Disconnect("disconnected by server", false)
		s.Metrics.ConnectionsActive.Dec()
	}
}

// SendTo posts a send to the client with id. If the client is present
// but no longer connected, it is removed and OnClientDisconnect fires.
func (s *Server[T]) SendTo(id uint32, msg *netmsg.Message[T]) {
	s.mu.Lock()
	conn, ok := s.clients[id]
	s.mu.Unlock()

	if !ok {
		return
	}

	if !conn.IsConnected() {
		s.removeClient(id, conn)
		return
	}

	_ = s.Reactor.Post(func() { conn.Send(msg) })
}

// SendToAll posts a send to every connected client except exceptID (0
// means no exclusion). Disconnected clients encountered along the way
// are removed.
func (s *Server[T]) SendToAll(msg *netmsg.Message[T], exceptID uint32) {
	s.mu.Lock()
	targets := make(map[uint32]*netconn.Connection[T], len(s.clients))
	for id, c := range s.clients {
		targets[id] = c
	}
	s.mu.Unlock()

	for id, conn := range targets {
		if !conn.IsConnected() {
			s.removeClient(id, conn)
			continue
		}

		if id == exceptID {
			continue
		}

		conn := conn
		_ = s.Reactor.Post(func() { conn.Send(msg) })
	}
}

func (s *Server[T]) removeClient(id uint32, conn *netconn.Connection[T]) {
	s.mu.Lock()
	if current, ok := s.clients[id]; !ok || current != conn {
		s.mu.Unlock()
		return
	}
	delete(s.clients, id)
	s.mu.Unlock()

	s.Metrics.ConnectionsActive.Dec()

	info := netevent.ClientInfo{AssignedID: id, IP: conn.IP()}
	s.PushNotification(netevent.Notification{Text: fmt.Sprintf("Client disconnected ip: %s id: %d", info.IP, info.AssignedID)})

	if fn, ok := s.onClientDisconnect.Get(); ok {
		fn(info)
	}
}

// Update drains the base, then up to maxItems inbound messages and up
// to maxItems pending sockets.
func (s *Server[T]) Update(maxItems int, wait bool, sweepInterval *time.Duration) {
	s.Base.Update(maxItems, wait, sweepInterval, s.hasPending, s.checkConnections)
	s.drainInbound(maxItems)
	s.drainPending(maxItems)
}

func (s *Server[T]) hasPending() bool {
	return !s.pending.Empty()
}

func (s *Server[T]) drainInbound(maxItems int) {
	for i := 0; i < maxItems; i++ {
		owned, err := s.Inbound.PopFront()
		if err != nil {
			return
		}

		if owned.Message.GetInternalID() != netmsg.NotInternal {
			// The server never expects internal messages from a client;
			// treat as a protocol violation.
			s.DisconnectClient(owned.Client.AssignedID)
			continue
		}

		if fn, ok := s.onMessage.Get(); ok {
			fn(owned.Client, owned.Message)
		}
	}
}

func (s *Server[T]) drainPending(maxItems int) {
	for i := 0; i < maxItems; i++ {
		conn, err := s.pending.PopFront()
		if err != nil {
			return
		}
		s.admit(conn)
	}
}

// admit assigns an id and consults OnClientConnect. If accepted, it
// builds the Connection, registers and starts it, and sends the client
// its id; otherwise the socket is dropped.
func (s *Server[T]) admit(rawConn net.Conn) {
	ip := remoteIP(rawConn)

	s.mu.Lock()
	id := s.idCounter
	s.idCounter++
	s.mu.Unlock()

	info := netevent.ClientInfo{AssignedID: id, IP: ip}

	accepted := true
	if fn, ok := s.onClientConnect.Get(); ok {
		fn(info, &accepted)
	}

	if !accepted {
		s.Log.WithField("ip", ip).Debug("connection vetoed by OnClientConnect")
		s.PushNotification(netevent.Notification{Text: fmt.Sprintf("Connection %s denied", ip)})
		_ = rawConn.Close()
		return
	}

	var transport net.Conn = rawConn
	if s.tlsConfig != nil {
		transport = tls.Server(rawConn, s.tlsConfig)
	}

	connection := s.NewConnection(netconn.Config[T]{
		Conn: transport,
		ID:   id,
		Role: netconn.RoleServer,
	})

	s.mu.Lock()
	s.clients[id] = connection
	s.mu.Unlock()

	s.Metrics.ConnectionsActive.Inc()
	s.Log.WithFields(logrus.Fields{"ip": ip, "id": id}).Debug("client admitted")
	s.PushNotification(netevent.Notification{
		Text: fmt.Sprintf("Client with ip %s was accepted and assigned id %d to it", ip, id),
	})

	connection.Start()
	s.sendServerData(connection, id)
}

func (s *Server[T]) sendServerData(conn *netconn.Connection[T], id uint32) {
	msg := dispatch.BuildServerData[T](id)
	_ = s.Reactor.Post(func() { conn.Send(msg) })
}

// checkConnections removes every client whose Connection reports not
// connected. This is the periodic sweep the Update pump triggers.
func (s *Server[T]) checkConnections() {
	s.mu.Lock()
	stale := make(map[uint32]*netconn.Connection[T])
	for id, c := range s.clients {
		if !c.IsConnected() {
			stale[id] = c
		}
	}
	s.mu.Unlock()

	for id, c := range stale {
		s.Log.WithField("id", id).Debug("sweep removing stale client")
		s.removeClient(id, c)
	}
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
