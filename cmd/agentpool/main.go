// Package main provides the entry point for the agentpool CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/agentpool/cmd/agentpool/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
