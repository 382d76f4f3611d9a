// Package cmd implements the cheatdetect command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nvr-ai/go-cheatdetect/config"
	"github.com/nvr-ai/go-cheatdetect/internal/log"
	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is loaded once per invocation by the root command.
	cfg *config.Config

	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "cheatdetect",
	Short:         "Flags manipulated faces in images, videos and live camera feeds",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		cfg = loaded
		log.Init(cfg.LogLevel)
		return nil
	},
}

// Execute runs the command line and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides the config)")
}
