package main

import (
	"fmt"
	"os"

	"github.com/ignatij/flowplan/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowplan",
	Short: "Workflow board compiler and content plan dispatcher",
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := cli.Execute(rootCmd); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
