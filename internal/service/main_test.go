package service

import (
	"os"
	"testing"

	"github.com/ayo6706/funds-movement/internal/testutil/dblock"
)

// Postgres-backed ledger tests share one database with other packages.
func TestMain(m *testing.M) {
	if os.Getenv("DATABASE_URL") == "" {
		os.Exit(m.Run())
	}
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}
