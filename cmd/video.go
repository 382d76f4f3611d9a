package cmd

import (
	"os"

	"github.com/nvr-ai/go-cheatdetect/internal/log"
	"github.com/nvr-ai/go-cheatdetect/video"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var videoNoProgress bool

var videoCmd = &cobra.Command{
	Use:   "video <path>",
	Short: "Scan sampled frames of a video file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.autosave(cmd.Context())

		scanner := &video.Scanner{
			Detector:     a.session,
			SampleFrames: cfg.Video.SampleFrames,
			ReportFrames: cfg.Video.ReportFrames,
		}

		var bar *progressbar.ProgressBar
		if !videoNoProgress {
			scanner.Progress = func(done, total int) {
				if bar == nil {
					if total <= 0 {
						total = -1
					}
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetDescription("Scanning frames"),
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionShowCount(),
					)
				}
				_ = bar.Set(done)
			}
		}

		result, err := scanner.Scan(cmd.Context(), args[0])
		if bar != nil {
			_ = bar.Finish()
		}
		if err != nil {
			return err
		}

		log.Info("video scanned", "file", result.Filename, "cheating_frames", result.CheatingFrames, "frames_analyzed", result.FramesAnalyzed)
		return writeJSON(cmd.OutOrStdout(), result)
	},
}

func init() {
	videoCmd.Flags().BoolVar(&videoNoProgress, "no-progress", false, "Disable the progress bar")
	rootCmd.AddCommand(videoCmd)
}
