// Package util contains misc internal utilities.
package util

import (
	"net"
	"time"
)

// TCPSetup opens a new TCP connection with a timeout on connect.
// Read and write deadlines are left to the caller, which refreshes them
// per operation.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		return net.Dial("tcp", addr)
	}
	return net.DialTimeout("tcp", addr, timeout)
}
