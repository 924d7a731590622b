// Package dblock serializes Postgres-backed tests across packages that share
// one database, using a loopback listener as a cross-process mutex.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultLockAddr = "127.0.0.1:45432"

// Acquire blocks until the lock is held and returns its release func.
// DBLOCK_ADDR overrides the listener address.
func Acquire() func() {
	addr := os.Getenv("DBLOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
