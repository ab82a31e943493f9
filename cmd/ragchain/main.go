// Package main is the ragchain CLI entry point.
package main

import (
	"os"

	"github.com/hyperjump/ragchain/cmd/ragchain/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
