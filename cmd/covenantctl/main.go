// Command covenantctl is a thin client for the Covenant ledger API. It signs
// instructions with a local Ed25519 key and submits them over HTTP; all state
// transitions happen server-side.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
