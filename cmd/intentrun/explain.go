package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/intentrun/pkg/report"
)

var (
	explainRaw   bool
	explainWidth int
	explainStyle string
)

var explainCmd = &cobra.Command{
	Use:   "explain [spec.yaml]",
	Short: "Describe an intent spec in readable form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := loadSpec(io.Discard, cmd.ErrOrStderr(), args[0])
		if err != nil {
			return err
		}
		md := report.SpecMarkdown(spec)
		if explainRaw {
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), report.RenderMarkdown(md, explainWidth, explainStyle))
		return nil
	},
}

func init() {
	explainCmd.Flags().BoolVar(&explainRaw, "raw", false, "print markdown without terminal styling")
	explainCmd.Flags().IntVar(&explainWidth, "width", 80, "wrap width")
	explainCmd.Flags().StringVar(&explainStyle, "style", "auto", "glamour style (auto, dark, light, notty)")
	rootCmd.AddCommand(explainCmd)
}
