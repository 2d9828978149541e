// Package netmsg implements the length-prefixed, typed message buffer
// shared by every connection in the framework. Fields are pushed and
// extracted at the tail of the body, LIFO, mirroring the push_back /
// extract discipline of the framework this package was ported from.
package netmsg

// ID is the closed alphabet of application message identifiers. The
// embedding application picks one concrete unsigned integer width and
// sticks with it for the lifetime of a peer.
type ID interface {
	~uint8 | ~uint16 | ~uint32
}

// InternalID distinguishes framework-internal messages (handshake
// bookkeeping) from application traffic. Any value other than
// NotInternal is trusted at the connection layer without a lookup in
// the accepted-messages table.
type InternalID uint8

const (
	// NotInternal marks an ordinary application message.
	NotInternal InternalID = iota
	// InternalServerData carries the client's server-assigned id back
	// to it after a successful handshake.
	InternalServerData
)

// ValidationKey is stamped into every header and checked on receipt.
// A header with any other value is a protocol violation.
const ValidationKey uint64 = 0x8A62_5D6A_C2F4_0E10
