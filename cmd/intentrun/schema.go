package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/intentrun/pkg/diagram"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

var schemaOut string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the intent spec JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		if schemaOut != "" {
			if err := os.WriteFile(schemaOut, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("write schema: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "schema written to %s\n", schemaOut)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var diagramFormat string

var diagramCmd = &cobra.Command{
	Use:   "diagram [spec.yaml]",
	Short: "Render an intent spec as a Mermaid or ASCII flow diagram",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := loadSpec(io.Discard, cmd.ErrOrStderr(), args[0])
		if err != nil {
			return err
		}
		out, err := diagram.Generate(spec, diagram.Format(diagramFormat))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	schemaCmd.Flags().StringVarP(&schemaOut, "out", "o", "", "write the schema to a file")
	diagramCmd.Flags().StringVarP(&diagramFormat, "format", "f", string(diagram.FormatASCII), "mermaid or ascii")
	rootCmd.AddCommand(schemaCmd, diagramCmd)
}
