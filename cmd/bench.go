package cmd

import (
	"github.com/nvr-ai/go-cheatdetect/benchmark"
	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/locator"
	"github.com/spf13/cobra"
)

var (
	benchIterations int
	benchWarmups    int
	benchMaxSides   []int
	benchOutput     string
)

var benchCmd = &cobra.Command{
	Use:   "bench <path|dir>",
	Short: "Measure detection throughput over a set of images",
	Long: "Measure detection throughput over a set of images. The run uses its own " +
		"counters, so persisted statistics are not touched.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := collectImages(args[0])
		if err != nil {
			return err
		}

		loc, err := locator.New(cfg.Locator.Kind, cfg.HaarOptions(), cfg.PigoOptions())
		if err != nil {
			return err
		}
		defer loc.Close()

		session := detector.NewSession(loc, detector.NewState(cfg.Detector.Threshold))
		suite := benchmark.NewSuite(session, benchOutput)
		suite.SetCorpus(files)
		for _, s := range benchmark.ResolutionScenarios(benchIterations, benchWarmups, benchMaxSides...) {
			suite.AddScenario(s)
		}

		if err := suite.RunAllScenarios(cmd.Context()); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), suite.GetResults())
	},
}

func init() {
	benchCmd.Flags().IntVarP(&benchIterations, "iterations", "n", 50, "Measured detections per scenario")
	benchCmd.Flags().IntVar(&benchWarmups, "warmup", 5, "Unmeasured detections run before each scenario")
	benchCmd.Flags().IntSliceVar(&benchMaxSides, "max-side", []int{0, 640, 320}, "Longest image sides to compare (0 = native)")
	benchCmd.Flags().StringVarP(&benchOutput, "output", "o", "", "Directory for JSON and CSV results")
	rootCmd.AddCommand(benchCmd)
}
