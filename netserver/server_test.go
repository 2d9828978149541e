package netserver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikapo/Network-framework/netclient"
	"github.com/Mikapo/Network-framework/netevent"
	"github.com/Mikapo/Network-framework/netmsg"
)

type appID uint8

const (
	msgPing appID = iota + 1
	msgEcho
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestServerAcceptsAndAssignsIDs(t *testing.T) {
	srv := New[appID]()
	require.True(t, srv.Start(0))
	defer srv.Stop()

	var connectedID uint32
	srv.OnClientConnect(func(info netevent.ClientInfo, accept *bool) {
		connectedID = info.AssignedID
	})

	cli := netclient.New[appID]()
	defer cli.Disconnect()

	require.True(t, cli.Connect("127.0.0.1", listenerPort(t, srv)))

	waitFor(t, time.Second, func() bool {
		srv.Update(10, false, nil)
		return connectedID != 0
	})

	assert.Equal(t, uint32(1000), connectedID)

	var gotID uint32
	cli.OnConnected(func(id uint32) { gotID = id })

	waitFor(t, time.Second, func() bool {
		cli.Update(10, false, nil)
		return gotID != 0
	})

	assert.Equal(t, uint32(1000), gotID)
}

func TestServerRejectsBannedIP(t *testing.T) {
	srv := New[appID]()
	require.True(t, srv.Start(0))
	defer srv.Stop()

	srv.BanIP("127.0.0.1")

	var notifications []string
	srv.OnNotification(func(n netevent.Notification) {
		notifications = append(notifications, n.Text)
	})

	cli := netclient.New[appID]()
	defer cli.Disconnect()

	require.True(t, cli.Connect("127.0.0.1", listenerPort(t, srv)))

	waitFor(t, time.Second, func() bool {
		srv.Update(10, false, nil)
		for _, n := range notifications {
			if n == "Client with ip 127.0.0.1 is banned" {
				return true
			}
		}
		return false
	})
}

func TestServerVetoDeniesConnection(t *testing.T) {
	srv := New[appID]()
	require.True(t, srv.Start(0))
	defer srv.Stop()

	srv.OnClientConnect(func(info netevent.ClientInfo, accept *bool) {
		*accept = false
	})

	cli := netclient.New[appID]()
	defer cli.Disconnect()

	require.True(t, cli.Connect("127.0.0.1", listenerPort(t, srv)))

	waitFor(t, time.Second, func() bool {
		srv.Update(10, false, nil)
		return !cli.Connected()
	})
}

func TestSendToAllExcludesGivenID(t *testing.T) {
	srv := New[appID]()
	require.True(t, srv.Start(0))
	defer srv.Stop()

	port := listenerPort(t, srv)

	clients := make([]*netclient.Client[appID], 3)
	remoteIDs := make([]uint32, 3)
	for i := range clients {
		cli := netclient.New[appID]()
		defer cli.Disconnect()
		cli.AddAcceptedMessage(msgPing, 0, 64)
		clients[i] = cli
	}

	for i, cli := range clients {
		require.True(t, cli.Connect("127.0.0.1", port))

		waitFor(t, time.Second, func() bool {
			srv.Update(10, false, nil)
			cli.Update(10, false, nil)
			id, ok := cli.RemoteID()
			if ok {
				remoteIDs[i] = id
			}
			return ok
		})
	}

	require.NotEqual(t, remoteIDs[0], remoteIDs[1])
	require.NotEqual(t, remoteIDs[0], remoteIDs[2])
	require.NotEqual(t, remoteIDs[1], remoteIDs[2])

	excludedID := remoteIDs[0]

	got := make([]bool, 3)
	for i, cli := range clients {
		i := i
		cli.OnMessage(func(msg *netmsg.Message[appID]) { got[i] = true })
	}

	msg := netmsg.New[appID]()
	msg.SetID(msgPing)
	srv.SendToAll(msg, excludedID)

	time.Sleep(100 * time.Millisecond)
	for _, cli := range clients {
		cli.Update(10, false, nil)
	}

	assert.False(t, got[0], "client with the excluded id %d should not have received the message", excludedID)
	assert.True(t, got[1], "client with id %d should have received the message", remoteIDs[1])
	assert.True(t, got[2], "client with id %d should have received the message", remoteIDs[2])
}

// listenerPort digs the actual bound port out of a started Server for
// use by test clients; Start binds ":0" when given port 0.
func listenerPort(t *testing.T, srv *Server[appID]) int {
	t.Helper()
	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.NotNil(t, srv.listener)

	addr, ok := srv.listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
