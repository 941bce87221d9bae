package fdreg

import "fmt"

func errFDReserved(fd int) error {
	return fmt.Errorf("refusing to take ownership of reserved fd %d", fd)
}

func errFDUnowned(fd int) error {
	return fmt.Errorf("fd %d is not owned by this registry", fd)
}

var errShortWrite = fmt.Errorf("short write with no error reported")
