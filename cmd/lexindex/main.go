// Package main provides the entry point for the lexindex CLI.
package main

import (
	"os"

	"github.com/clearbrief/lexindex/cmd/lexindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
