package netpeer

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikapo/Network-framework/netconn"
	"github.com/Mikapo/Network-framework/netevent"
)

type peerTestID uint8

func TestNotificationDroppedWithoutSubscriber(t *testing.T) {
	base := NewBase[peerTestID]("test")

	before := testutil.ToFloat64(base.Metrics.NotificationsDroppedTotal)
	base.PushNotification(netevent.Notification{Text: "nobody is listening"})
	after := testutil.ToFloat64(base.Metrics.NotificationsDroppedTotal)

	assert.Equal(t, before+1, after)
}

func TestNotificationDeliveredToSubscriber(t *testing.T) {
	base := NewBase[peerTestID]("test")

	var got []netevent.Notification
	base.OnNotification(func(n netevent.Notification) {
		got = append(got, n)
	})

	base.PushNotification(netevent.Notification{Text: "hello"})
	base.Update(10, false, nil, nil, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Text)
}

func TestUpdateWaitReturnsOnInbound(t *testing.T) {
	base := NewBase[peerTestID]("test")

	done := make(chan struct{})
	go func() {
		base.Update(10, true, nil, nil, nil)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	base.PushInbound(netconn.OwnedMessage[peerTestID]{})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Update did not return after inbound arrived")
	}
}

func TestUpdateSweepFiresAfterInterval(t *testing.T) {
	base := NewBase[peerTestID]("test")

	interval := 20 * time.Millisecond
	swept := false

	base.Update(10, true, &interval, nil, func() { swept = true })
	assert.True(t, swept, "sweep should fire once elapsed has caught up to the interval")
}

func TestShouldStopWaitingHonorsExtra(t *testing.T) {
	base := NewBase[peerTestID]("test")

	assert.False(t, base.ShouldStopWaiting(nil))
	assert.True(t, base.ShouldStopWaiting(func() bool { return true }))
}
