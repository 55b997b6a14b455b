package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/tiller/pkg/pack"
)

var validateCmd = &cobra.Command{
	Use:   "validate [pack]",
	Short: "Check a behavior pack for consistency",
	Long:  `Loads the pack and reports unknown keys, missing references, and malformed definitions without starting the engine.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(cmd, args); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Pack is valid! ✅")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	packPath, _ := cmd.Flags().GetString("pack")
	if !cmd.Flags().Changed("pack") && len(args) > 0 {
		packPath = args[0]
	}

	if _, err := pack.Load(packPath); err != nil {
		return err
	}
	return nil
}
