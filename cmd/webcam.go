package cmd

import (
	"fmt"
	"image/color"
	"time"

	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/video"
	"github.com/spf13/cobra"
	"gocv.io/x/gocv"
)

var (
	webcamDevice     int
	webcamWindow     bool
	webcamMotionArea float64
)

var (
	cleanBox   = color.RGBA{0, 255, 0, 0}
	flaggedBox = color.RGBA{255, 0, 0, 0}
)

var webcamCmd = &cobra.Command{
	Use:   "webcam",
	Short: "Run detection on a live camera feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("device") {
			cfg.Video.WebcamDevice = webcamDevice
		}

		a, err := openApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.autosave(cmd.Context())

		src, err := video.OpenDevice(cfg.Video.WebcamDevice)
		if err != nil {
			return err
		}
		defer src.Close()

		var window *gocv.Window
		if webcamWindow {
			window = gocv.NewWindow("Cheat Detect")
			defer window.Close()
		}

		if cmd.Flags().Changed("motion-area") {
			cfg.Video.MotionArea = webcamMotionArea
		}
		opts := video.LiveOptions{Every: cfg.Video.WebcamEvery}
		if cfg.Video.MotionArea > 0 {
			opts.Motion = video.NewMotionGate(cfg.Video.MotionArea)
			defer opts.Motion.Close()
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "start reading camera device: %v\n", cfg.Video.WebcamDevice)

		// FPS counts analysed frames, not captured ones.
		fps := 0.0
		frames := 0
		lastTime := time.Now()

		return video.Live(cmd.Context(), src, a.session, opts, func(res *detector.Result, frame gocv.Mat) error {
			frames++
			if elapsed := time.Since(lastTime).Seconds(); elapsed >= 1.0 {
				fps = float64(frames) / elapsed
				frames = 0
				lastTime = time.Now()
			}

			fmt.Fprintf(out, "found %d faces | confidence %.2f | cheating %t | FPS: %.2f | %s\n",
				res.FacesDetected, res.Confidence, res.IsCheating, fps, res.Message)

			if window == nil {
				return nil
			}
			canvas := frame.Clone()
			defer canvas.Close()
			for _, face := range res.Faces {
				c := cleanBox
				if face.IsCheating {
					c = flaggedBox
				}
				gocv.Rectangle(&canvas, face.BBox.Rect(), c, 3)
			}
			window.IMShow(canvas)
			window.WaitKey(1)
			return nil
		})
	},
}

func init() {
	webcamCmd.Flags().IntVarP(&webcamDevice, "device", "d", 0, "Capture device id (overrides video.webcam_device)")
	webcamCmd.Flags().BoolVar(&webcamWindow, "window", false, "Show the annotated feed in a window")
	webcamCmd.Flags().Float64Var(&webcamMotionArea, "motion-area", 0, "Only analyse frames with a moving region of at least this many pixels (overrides video.motion_area)")
	rootCmd.AddCommand(webcamCmd)
}
