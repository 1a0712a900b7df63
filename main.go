// Package main is the entry point for synthcap.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/synthcap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
