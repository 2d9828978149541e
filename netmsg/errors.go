package netmsg

import "errors"

// ErrOverflow is returned by Push when the resulting body would exceed
// the maximum size a Header.BodySize field can address without losing
// precision for the wire-format's 32-bit length ceiling.
var ErrOverflow = errors.New("netmsg: message body too large")

// ErrUnderflow is returned by Extract when the body holds fewer bytes
// than the requested type needs.
var ErrUnderflow = errors.New("netmsg: not enough data to extract")
