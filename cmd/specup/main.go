// Package main provides the entry point for the specup CLI.
package main

import (
	"os"

	"github.com/specup-ai/specup/cmd/specup/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
