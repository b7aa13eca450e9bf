// Package main provides the entry point for the squatctl CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/Youngkwon-Lee/sol-dapp-squat/cmd/squatctl/commands"
)

func main() {
	rootCmd := commands.NewRootCommand()

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
