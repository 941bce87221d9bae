package link

import "net"

// isAddrOrLookupError reports whether err stems from address
// resolution (a malformed address, an unresolvable hostname) rather
// than a failed connect() to a resolved address. The two classes carry
// different reconnect backoffs per spec.md §4.4.
func isAddrOrLookupError(err error) bool {
	if addrErr, ok := err.(*net.AddrError); ok {
		_ = addrErr
		return true
	}
	if opErr, ok := err.(*net.OpError); ok {
		return opErr.Op == "lookup" || opErr.Op == "dial" && opErr.Addr == nil
	}
	return false
}
