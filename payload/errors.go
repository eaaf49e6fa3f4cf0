package payload

import "errors"

// errUnverified is returned when a peer's Verify reply does not confirm
// ownership of its claimed key, and by the Blackhole and Random engines'
// Connect. Graph.Handle puts its text in the ErrorText of a failed
// Connect reply.
var errUnverified = errors.New("payload: peer failed verification")
