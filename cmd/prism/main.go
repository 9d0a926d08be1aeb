// Command prism is a command-line client for prism document stores. It
// speaks every registered backend (mem, dynamo, firestore) and exchanges
// documents as JSON on stdin/stdout.
//
// Configuration resolves from flags, then PRISM_* environment variables
// (e.g. PRISM_BACKEND=dynamo, PRISM_TABLE=documents), then .env files.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
