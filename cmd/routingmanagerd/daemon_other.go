//go:build !unix

package main

import "fmt"

func daemonizeSelf() (done bool, err error) {
	return false, fmt.Errorf("daemonize is not supported on this platform")
}
