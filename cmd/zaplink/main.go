// Package main is the entry point for the zaplink CLI.
package main

import (
	"os"

	"github.com/zaplink/zaplink/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
