// Command ledgerd runs the offline-first ledger: a local API over SQLite with
// scheduled synchronization against a remote authority.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
