package cmd

import (
	"context"

	"github.com/nvr-ai/go-cheatdetect/internal/log"
	"github.com/nvr-ai/go-cheatdetect/profiler"
	"github.com/nvr-ai/go-cheatdetect/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket detection API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var metrics server.MetricsSource
	if cfg.Profiler.Enabled {
		prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
			ReportInterval: cfg.Profiler.ReportInterval,
			SampleInterval: cfg.Profiler.SampleInterval,
		})
		prof.AddMetricsCollector(a.session)
		prof.Start()
		defer prof.Stop()
		metrics = prof
	}

	srv := server.New(a.session, a.store, metrics, server.Options{
		Addr:            cfg.Server.Addr,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		PreviewSize:     cfg.Server.PreviewSize,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		SampleFrames:    cfg.Video.SampleFrames,
		ReportFrames:    cfg.Video.ReportFrames,
		Autosave:        cfg.State.Autosave,
	})

	log.Info("cheat detector ready", "locator", cfg.Locator.Kind, "threshold", a.session.Threshold(), "state_backend", cfg.State.Backend)
	return srv.Run(ctx)
}
