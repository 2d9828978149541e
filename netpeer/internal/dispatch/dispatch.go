// Package dispatch builds and parses the framework's own internal
// messages, the small closed set a Connection accepts without the
// accepted-table lookup a not_internal message goes through (the
// validation key is still checked). It is the structural descendant of the original framework's
// Message_converter, which statically encoded the same handful of
// control messages; here there is exactly one, the server's post-admit
// id assignment.
package dispatch

import "github.com/Mikapo/Network-framework/netmsg"

// BuildServerData constructs the internal message a Server sends a
// client immediately after admission, carrying the id the client was
// assigned.
func BuildServerData[T netmsg.ID](assignedID uint32) *netmsg.Message[T] {
	msg := netmsg.New[T]()
	msg.SetInternalID(netmsg.InternalServerData)
	// Push never fails for a fixed-size uint32; the error is only
	// reachable if body growth overflowed uint32, impossible here.
	_ = netmsg.Push(msg, assignedID)
	return msg
}

// ParseServerData extracts the assigned id from a server_data message.
// Callers must have already checked GetInternalID() == InternalServerData.
func ParseServerData[T netmsg.ID](msg *netmsg.Message[T]) (uint32, error) {
	return netmsg.Extract[T, uint32](msg)
}
