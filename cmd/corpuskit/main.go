// Package main provides the entry point for the corpuskit CLI.
package main

import (
	"fmt"
	"os"

	"github.com/corpuskit/corpuskit/cmd/corpuskit/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cmd.ExitCode(err))
}
