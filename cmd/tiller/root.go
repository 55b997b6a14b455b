package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tiller",
	Short: "Tiller is a guideline-steered conversational agent engine",
	Long:  `Tiller processes customer turns against a behavior pack of guidelines, journeys, and tools, keeping every reply inside the pack's constraints.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("pack", "pack.yaml", "Path to the behavior pack file")
	rootCmd.PersistentFlags().String("model", "", "Gemini model to use (default gemini-2.0-flash)")
	rootCmd.PersistentFlags().String("redis", "", "Redis address for session storage (default in-memory)")
	rootCmd.PersistentFlags().StringArray("mcp-sse", nil, "MCP tool server as namespace=url (repeatable)")
}
