// Command kv-oauth runs the OAuth2 authorization server and manages its clients.
package main

import (
	"os"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
