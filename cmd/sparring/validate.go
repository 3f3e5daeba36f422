package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sparringlabs/sparring/config"
	"github.com/sparringlabs/sparring/dataset"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a sparring manifest and its dataset",
	Long: `Validates a sparring YAML manifest and, unless --manifest-only is set,
parses the dataset it references.

Examples:
  sparring validate sparring.yaml
  sparring validate configs/redteam.yaml --manifest-only`,
	RunE: runValidate,
}

var validateManifestOnly bool

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateManifestOnly, "manifest-only", false, "Skip dataset parsing")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("file path required")
	}

	filePath := args[0]
	fmt.Printf("Validating %s...\n", filepath.Base(filePath))

	cfg, err := config.Load(filePath)
	if err != nil {
		return fmt.Errorf("manifest validation failed: %w", err)
	}
	fmt.Printf("✅ Manifest is valid (batch %q)\n", cfg.Name)

	if validateManifestOnly {
		return nil
	}

	records, err := dataset.Load(cfg.DatasetPath())
	if err != nil {
		return fmt.Errorf("dataset validation failed: %w", err)
	}
	fmt.Printf("✅ Dataset is valid (%d records)\n", len(records))

	return nil
}
