// Package main provides the entry point for the coverquery CLI.
package main

import (
	"os"

	"github.com/coverquery/coverquery/cmd/coverquery/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
