package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	ktesting "github.com/ormasoftchile/intentrun/pkg/kernel/testing"
	"github.com/ormasoftchile/intentrun/pkg/report"
)

var (
	testScenario string
	testJSON     bool
	testFailFast bool
	testVerbose  bool
	testTimeout  time.Duration
)

var testCmd = &cobra.Command{
	Use:   "test [spec.yaml...]",
	Short: "Replay recorded scenarios against intent specs and check their test.yaml expectations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := &ktesting.Runner{
			Timeout:  testTimeout,
			FailFast: testFailFast,
			Logger:   logger,
			Cache:    cache,
		}

		bad := 0
		for _, path := range args {
			var out *ktesting.TestOutput
			if testScenario != "" {
				res, err := runner.RunScenario(cmd.Context(), path, testScenario)
				if err != nil {
					return err
				}
				out = &ktesting.TestOutput{Spec: res.SpecName, Scenarios: []ktesting.TestResult{*res}}
				tally(&out.Summary, res.Status)
			} else {
				var err error
				if out, err = runner.RunAll(cmd.Context(), path); err != nil {
					return err
				}
			}

			if testJSON {
				if err := report.WriteTestsJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				report.WriteTests(cmd.OutOrStdout(), out, testVerbose)
			}
			bad += out.Summary.Failed + out.Summary.Errors
			if testFailFast && bad > 0 {
				break
			}
		}
		if bad > 0 {
			return fmt.Errorf("%d scenario(s) failed", bad)
		}
		return nil
	},
}

func tally(s *ktesting.TestSummary, status string) {
	s.Total++
	switch status {
	case ktesting.TestPassed:
		s.Passed++
	case ktesting.TestFailed:
		s.Failed++
	case ktesting.TestSkipped:
		s.Skipped++
	default:
		s.Errors++
	}
}

func init() {
	testCmd.Flags().StringVar(&testScenario, "scenario", "", "run only the named scenario")
	testCmd.Flags().BoolVar(&testJSON, "json", false, "print results as JSON")
	testCmd.Flags().BoolVar(&testFailFast, "fail-fast", false, "stop at the first failing scenario")
	testCmd.Flags().BoolVarP(&testVerbose, "verbose", "v", false, "list passing assertions too")
	testCmd.Flags().DurationVar(&testTimeout, "timeout", 30*time.Second, "per-scenario timeout")
	rootCmd.AddCommand(testCmd)
}
