package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/templates"
)

func newInitCmd() *cobra.Command {
	var (
		templateName string
		output       string
		listFlag     bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Init writes a commented starter configuration. API keys are referenced
as env(VAR_NAME) or vault(path#key); the file never holds literal keys.

Available templates:
  minimal   Single NIM provider with default memory and logging
  full      Every provider and feature section spelled out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listFlag {
				fmt.Println("Available templates:")
				fmt.Println()
				for _, t := range templates.All() {
					fmt.Printf("  %-10s %s\n", t.Name, t.Description)
				}
				return nil
			}

			tmpl := templates.Get(templateName)
			if tmpl == nil {
				return fmt.Errorf("unknown template %q (use --list to see available templates)", templateName)
			}

			content, err := templates.Content(tmpl)
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}

			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("file %q already exists (use --output to pick another path)", output)
			}

			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
			}
			if err := os.WriteFile(output, content, 0644); err != nil {
				return fmt.Errorf("write file: %w", err)
			}

			fmt.Printf("Created %s from template %q\n", output, tmpl.Name)
			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Printf("  1. Edit %s and export the referenced API key variables\n", output)
			fmt.Printf("  2. Run: parley validate %s\n", output)
			fmt.Printf("  3. Run: parley serve --config %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&templateName, "template", "minimal", "Template name to use")
	cmd.Flags().StringVar(&output, "output", "config.yaml", "Output file path")
	cmd.Flags().BoolVar(&listFlag, "list", false, "List available templates")

	return cmd
}
