package main

import (
	"os"
)

// main runs the alerteval CLI.
// Params: subcommand and flags from os.Args.
// Returns: process exit code by command result.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
