package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teammemory/teammemory/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "teammemoryd",
		Short: "TeamMemory daemon",
		Long:  "TeamMemory daemon for running the knowledge base API server",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(cli.ServeCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
