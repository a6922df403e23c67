// ABOUTME: Entry point for the phoenix-audio CLI
// ABOUTME: Hands off to the cobra command tree
package main

import (
	"fmt"
	"os"

	"github.com/team-phoenix/phoenix-audio/cmd/phoenix-audio/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
