// Package netpeer implements the state shared by the Client and Server
// roles: the inbound message queue, the notification queue, the
// accepted-messages table, the blocking/timed Update pump, and the
// periodic connection sweep. Client and Server (in packages netclient
// and netserver) each embed a Base rather than inheriting from it.
package netpeer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Mikapo/Network-framework/delegate"
	"github.com/Mikapo/Network-framework/netconn"
	"github.com/Mikapo/Network-framework/netevent"
	"github.com/Mikapo/Network-framework/netmsg"
	"github.com/Mikapo/Network-framework/reactor"
	"github.com/Mikapo/Network-framework/syncqueue"
)

// Base holds everything a Client or Server needs regardless of role.
// It is not meant to be used on its own; embed it.
type Base[T netmsg.ID] struct {
	Reactor  *reactor.Reactor
	Accepted *netmsg.AcceptedMessages[T]
	Metrics  *Metrics
	Log      *logrus.Entry

	Inbound       *syncqueue.Queue[netconn.OwnedMessage[T]]
	notifications *syncqueue.Queue[netevent.Notification]

	onNotification delegate.Delegate[func(netevent.Notification)]

	wakeup chan struct{}

	mu        sync.Mutex
	lastSweep time.Time
}

// NewBase constructs a Base for the given role label ("client" or
// "server"), used for both logging and metric labels.
func NewBase[T netmsg.ID](role string) Base[T] {
	log := logrus.WithField("component", "netframe."+role)

	return Base[T]{
		Reactor:       reactor.New(log),
		Accepted:      netmsg.NewAcceptedMessages[T](),
		Metrics:       NewMetrics(role),
		Log:           log,
		Inbound:       syncqueue.New[netconn.OwnedMessage[T]](),
		notifications: syncqueue.New[netevent.Notification](),
		wakeup:        make(chan struct{}, 1),
		lastSweep:     time.Now(),
	}
}

// AddAcceptedMessage registers (or overwrites) the size bounds for id.
// Call before Start/Connect for it to govern the first handshake;
// later calls apply to subsequent messages only.
func (b *Base[T]) AddAcceptedMessage(id T, min, max uint64) {
	b.Accepted.Add(id, min, max)
}

// OnNotification subscribes to framework-level notifications. Set
// before Start/Connect to avoid missing early events.
func (b *Base[T]) OnNotification(f func(netevent.Notification)) {
	b.onNotification.Set(f)
}

func (b *Base[T]) signal() {
	select {
	case b.wakeup <- struct{}{}:
	default:
	}
}

// Signal wakes a blocked Update call without enqueueing anything. Used
// by Server to report a new pending socket, which lives in its own
// queue rather than Inbound or notifications.
func (b *Base[T]) Signal() {
	b.signal()
}

// PushNotification is called by Connections (via the callback wired in
// NewConnection) and by Client/Server themselves. A notification is
// dropped at the source, never enqueued, if nobody subscribed — this
// keeps the queue bounded without the framework buffering on the
// application's behalf.
func (b *Base[T]) PushNotification(n netevent.Notification) {
	if !b.onNotification.IsSet() {
		b.Log.WithField("text", n.Text).Debug("dropping notification, nobody subscribed")
		b.Metrics.NotificationsDroppedTotal.Inc()
		return
	}

	b.notifications.PushBack(n)
	b.signal()
}

// PushInbound enqueues a received message and wakes any blocked
// Update call.
func (b *Base[T]) PushInbound(m netconn.OwnedMessage[T]) {
	b.Log.WithField("from", m.Client.AssignedID).Debug("inbound message queued")
	b.Inbound.PushBack(m)
	b.Metrics.InboundMessagesTotal.Inc()
	b.signal()
}

// ShouldStopWaiting reports whether Update's wait should end: either
// queue is non-empty, or the role-specific extra condition (e.g. the
// server's pending-socket queue) is true.
func (b *Base[T]) ShouldStopWaiting(extra func() bool) bool {
	if !b.Inbound.Empty() || !b.notifications.Empty() {
		return true
	}
	return extra != nil && extra()
}

// Update implements the polling pump: an optional
// timed/blocking wait gated on the sweep interval, an optional periodic
// sweep, then draining up to maxItems notifications. Role-specific
// drains (inbound messages, pending sockets) happen in the embedding
// Client/Server's own Update after calling this.
func (b *Base[T]) Update(maxItems int, wait bool, sweepInterval *time.Duration, extra func() bool, sweep func()) {
	if sweepInterval != nil {
		b.mu.Lock()
		elapsed := time.Since(b.lastSweep)
		b.mu.Unlock()

		if wait {
			remaining := *sweepInterval - elapsed
			if remaining < 0 {
				remaining = 0
			}
			b.waitUntil(remaining, true, extra)
		}

		b.mu.Lock()
		elapsed = time.Since(b.lastSweep)
		b.mu.Unlock()

		if elapsed >= *sweepInterval {
			if sweep != nil {
				b.Log.Debug("running connection sweep")
				sweep()
			}
			b.mu.Lock()
			b.lastSweep = time.Now()
			b.mu.Unlock()
		}
	} else if wait {
		b.waitUntil(0, false, extra)
	}

	b.drainNotifications(maxItems)
}

func (b *Base[T]) waitUntil(timeout time.Duration, hasDeadline bool, extra func() bool) {
	if b.ShouldStopWaiting(extra) {
		return
	}

	var timerC <-chan time.Time
	if hasDeadline {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		select {
		case <-b.wakeup:
			if b.ShouldStopWaiting(extra) {
				return
			}
		case <-timerC:
			return
		}
	}
}

func (b *Base[T]) drainNotifications(maxItems int) {
	for i := 0; i < maxItems; i++ {
		n, err := b.notifications.PopFront()
		if err != nil {
			return
		}

		if fn, ok := b.onNotification.Get(); ok {
			fn(n)
		}
	}
}

// NewConnection builds a Connection wired into this peer's queues:
// its messages land in Inbound, its notifications go through
// PushNotification, and it shares this peer's accepted-messages table.
func (b *Base[T]) NewConnection(cfg netconn.Config[T]) *netconn.Connection[T] {
	cfg.Reactor = b.Reactor
	cfg.Accepted = b.Accepted
	cfg.Log = b.Log
	cfg.OnMessage = b.PushInbound
	cfg.OnNotification = b.PushNotification

	return netconn.New(cfg)
}
