package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/tiller"
	"github.com/aretw0/tiller/internal/tui"
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent interactively",
	Long:  `Starts an interactive chat session against the behavior pack. Requires GEMINI_API_KEY to be set.`,
	Run: func(cmd *cobra.Command, args []string) {
		headless, _ := cmd.Flags().GetBool("headless")
		sessionID, _ := cmd.Flags().GetString("session")
		customer, _ := cmd.Flags().GetString("customer")

		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		// Markdown rendering and the banner only make sense on a real
		// terminal; piped output gets plain text.
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			headless = true
		}

		eng, cleanup, err := buildEngine(cmd.Context(), cmd, args)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		runner := tiller.NewRunner()
		runner.Input = os.Stdin
		runner.Output = os.Stdout
		runner.Headless = headless
		runner.CustomerName = customer

		if !headless {
			tui.PrintBanner()
			runner.Renderer = tui.NewRenderer()
		}

		if err := runner.Run(cmd.Context(), eng, sessionID); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().Bool("headless", false, "Run in headless mode (no banner, strict IO)")
	chatCmd.Flags().String("session", "", "Session ID to resume (default a new session)")
	chatCmd.Flags().String("customer", "", "Customer display name")

	// Make 'chat' the default if no command is provided
	rootCmd.Run = chatCmd.Run
}
