// Command api serves the funds movement HTTP API and runs the
// reconciliation worker.
package main

import (
	"fmt"
	"os"

	"github.com/ayo6706/funds-movement/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "funds-movement: %v\n", err)
		os.Exit(1)
	}
}
