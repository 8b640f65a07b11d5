// Package main provides the intentrun CLI.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/intentrun/pkg/config"
	"github.com/ormasoftchile/intentrun/pkg/kernel/eval"
	"github.com/ormasoftchile/intentrun/pkg/logging"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Settings loaded by the root command before any subcommand runs.
var (
	cfg    = config.Default()
	logger = logging.Discard()
	cache  *eval.Cache
)

func main() {
	loadDotEnv(".env")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv sets variables from a KEY=VALUE file that aren't already set
// in the environment. Comments (#) and blank lines are skipped.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, val)
		}
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:           "intentrun",
	Short:         "Run intent specs against a browser",
	Long:          "intentrun executes declarative browser workflows, falling back between deterministic locators and an AI agent per step.",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := config.New()
		pf := cmd.Root().PersistentFlags()
		if err := v.BindPFlag("log.level", pf.Lookup("log-level")); err != nil {
			return err
		}
		if err := v.BindPFlag("log.format", pf.Lookup("log-format")); err != nil {
			return err
		}
		loaded, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		l, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(logger)
		cache = eval.NewCache(cfg.Engine.CacheSize)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the intentrun version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "intentrun %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./intentrun.yaml or ~/.config/intentrun/intentrun.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text or json")
	rootCmd.AddCommand(versionCmd)
}
