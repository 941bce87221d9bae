package link

import "fmt"

func errArgcOverflow(argc int) error {
	return fmt.Errorf("declared argc %d exceeds cap 32, stream deemed corrupt", argc)
}

var errNotConnected = fmt.Errorf("event link has no active connection")
