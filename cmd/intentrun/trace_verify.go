package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/intentrun/pkg/kernel/trace"
)

var traceVerifyCmd = &cobra.Command{
	Use:   "verify [trace.jsonl...]",
	Short: "Verify the hash chain of trace files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTraceVerify,
}

func runTraceVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	broken := 0
	for _, path := range args {
		result, err := trace.VerifyFile(path)
		if err != nil {
			return err
		}
		if !result.Valid {
			broken++
			fmt.Fprintf(out, "✗ %s: chain broken at event %d\n", path, result.BrokenAt)
			if result.Error != "" {
				fmt.Fprintf(out, "  %s\n", result.Error)
			}
			continue
		}
		line := fmt.Sprintf("✓ %s: %d events, no breaks", path, result.EventCount)
		if result.Status != "" {
			line += ", run " + result.Status
		}
		fmt.Fprintln(out, line)
	}
	if broken > 0 {
		return fmt.Errorf("chain verification failed for %d file(s)", broken)
	}
	return nil
}

func init() {
	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace file operations",
	}
	traceCmd.AddCommand(traceVerifyCmd)
	rootCmd.AddCommand(traceCmd)
}
