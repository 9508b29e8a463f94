package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := NewCLI()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gpuinfer:", err)
		os.Exit(exitCodeFor(err))
	}
}
