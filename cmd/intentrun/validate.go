package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
	"github.com/ormasoftchile/intentrun/pkg/kernel/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate [spec.yaml...]",
	Short: "Validate intent spec files against the schema and domain rules",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			if _, err := loadSpec(cmd.OutOrStdout(), cmd.ErrOrStderr(), path); err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d spec(s) failed validation", failed, len(args))
		}
		return nil
	},
}

// loadSpec validates one file, printing warnings and errors to errw and a
// one-line confirmation to out.
func loadSpec(out, errw io.Writer, path string) (*schema.IntentSpec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, fmt.Errorf("%s: expected a .yaml, .yml or .json intent spec", path)
	}

	spec, all := validate.ValidateFile(path)
	errs, warnings := validate.Split(all)
	for _, w := range warnings {
		fmt.Fprintf(errw, "  ⚠ [%s] %s\n", w.Phase, w.Message)
		if w.Path != "" {
			fmt.Fprintf(errw, "    at: %s\n", w.Path)
		}
	}
	if len(errs) > 0 {
		fmt.Fprintf(errw, "%s: validation failed: %d error(s)\n\n", path, len(errs))
		for i, e := range errs {
			fmt.Fprintf(errw, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(errw, "     at: %s\n", e.Path)
			}
		}
		return nil, fmt.Errorf("%s: validation failed with %d error(s)", path, len(errs))
	}
	fmt.Fprintf(out, "✓ %s is valid (%d steps)\n", spec.Name, len(spec.Steps))
	return spec, nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
