package netconn

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikapo/Network-framework/netevent"
	"github.com/Mikapo/Network-framework/netmsg"
	"github.com/Mikapo/Network-framework/reactor"
)

type connID uint8

const (
	connMsgPing connID = iota + 1
)

func newTestPair(t *testing.T) (clientConn, serverConn net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		serverConn, err = ln.Accept()
		require.NoError(t, err)
	}()

	clientConn, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	wg.Wait()
	return clientConn, serverConn
}

func TestConnectionDeliversValidMessage(t *testing.T) {
	clientRaw, serverRaw := newTestPair(t)
	defer clientRaw.Close()
	defer serverRaw.Close()

	r := reactor.New(nil)
	require.NoError(t, r.Start())
	defer r.Stop()

	accepted := netmsg.NewAcceptedMessages[connID]()
	accepted.Add(connMsgPing, 0, 64)

	var mu sync.Mutex
	var received []OwnedMessage[connID]

	conn := New(Config[connID]{
		Conn:     serverRaw,
		ID:       1000,
		Role:     RoleServer,
		Reactor:  r,
		Accepted: accepted,
		OnMessage: func(m OwnedMessage[connID]) {
			mu.Lock()
			received = append(received, m)
			mu.Unlock()
		},
	})
	conn.Start()
	defer conn.Disconnect("", false)

	msg := netmsg.New[connID]()
	msg.SetID(connMsgPing)
	require.NoError(t, netmsg.Push(msg, uint32(42)))

	require.NoError(t, netmsg.WriteHeader(clientRaw, msg.Header()))
	_, err := clientRaw.Write(msg.Body())
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, connMsgPing, received[0].Message.GetID())
}

func TestConnectionRejectsUnacceptedID(t *testing.T) {
	clientRaw, serverRaw := newTestPair(t)
	defer clientRaw.Close()
	defer serverRaw.Close()

	r := reactor.New(nil)
	require.NoError(t, r.Start())
	defer r.Stop()

	accepted := netmsg.NewAcceptedMessages[connID]()
	// No ids registered: everything not_internal should fail validation.

	var notifications []netevent.Notification
	var mu sync.Mutex

	conn := New(Config[connID]{
		Conn:     serverRaw,
		ID:       1000,
		Role:     RoleServer,
		Reactor:  r,
		Accepted: accepted,
		OnNotification: func(n netevent.Notification) {
			mu.Lock()
			notifications = append(notifications, n)
			mu.Unlock()
		},
	})
	conn.Start()
	defer conn.Disconnect("", false)

	msg := netmsg.New[connID]()
	msg.SetID(connMsgPing)

	require.NoError(t, netmsg.WriteHeader(clientRaw, msg.Header()))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !conn.IsConnected() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.False(t, conn.IsConnected())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, notifications)
	assert.Equal(t, netevent.SeverityError, notifications[len(notifications)-1].Severity)
}

func TestConnectionRejectsBadValidationKey(t *testing.T) {
	clientRaw, serverRaw := newTestPair(t)
	defer clientRaw.Close()
	defer serverRaw.Close()

	r := reactor.New(nil)
	require.NoError(t, r.Start())
	defer r.Stop()

	conn := New(Config[connID]{
		Conn:    serverRaw,
		ID:      1000,
		Role:    RoleServer,
		Reactor: r,
	})
	conn.Start()
	defer conn.Disconnect("", false)

	h := netmsg.Header[connID]{ValidationKey: 0xDEADBEEF, ID: connMsgPing}
	require.NoError(t, netmsg.WriteHeader(clientRaw, h))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && conn.IsConnected() {
		time.Sleep(5 * time.Millisecond)
	}

	assert.False(t, conn.IsConnected())
}
