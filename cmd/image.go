package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/images"
	"github.com/nvr-ai/go-cheatdetect/internal/log"
	"github.com/nvr-ai/go-cheatdetect/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var imageExplain bool

// imageReport is one line of `cheatdetect image` output.
type imageReport struct {
	*detector.Result
	Filename        string `json:"filename"`
	FileSize        int    `json:"file_size"`
	ImageDimensions string `json:"image_dimensions"`
	Error           string `json:"error,omitempty"`
}

var imageCmd = &cobra.Command{
	Use:   "image <path|dir>",
	Short: "Detect cheating in one image or every image in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := collectImages(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.autosave(cmd.Context())

		out := cmd.OutOrStdout()
		for _, f := range files {
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			report := detectFile(a.session, f)
			if imageExplain && report.Result != nil {
				explain(cmd.ErrOrStderr(), report)
			}
			if err := writeJSON(out, report); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	imageCmd.Flags().BoolVar(&imageExplain, "explain", false, "Print the per-block sub-scores of every face to stderr")
	rootCmd.AddCommand(imageCmd)
}

func collectImages(path string) ([]util.ImageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		files, err := util.LoadDirectoryImageFiles(path)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, errors.Errorf("no images in %s", path)
		}
		return files, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return []util.ImageFile{{Path: path, Data: data}}, nil
}

// detectFile never fails the batch; per-file errors land in the report.
func detectFile(session *detector.Session, f util.ImageFile) imageReport {
	report := imageReport{Filename: filepath.Base(f.Path), FileSize: len(f.Data)}

	img, err := images.Decode(f.Data)
	if err != nil {
		report.Error = err.Error()
		log.Warn("skipping image", "path", f.Path, "error", err)
		return report
	}
	defer img.Close()

	report.ImageDimensions = fmt.Sprintf("%dx%d", img.Cols(), img.Rows())
	result, err := session.Detect(img)
	if err != nil {
		report.Error = err.Error()
		log.Warn("detection failed", "path", f.Path, "error", err)
		return report
	}
	report.Result = result
	return report
}

func explain(w io.Writer, r imageReport) {
	fmt.Fprintf(w, "%s: %d face(s)\n", r.Filename, r.FacesDetected)
	for i, face := range r.Faces {
		s := face.SubScores
		fmt.Fprintf(w, "  face %d %s texture=%.2f edge=%.2f color=%.2f frequency=%.2f symmetry=%.2f => %.2f cheating=%t\n",
			i+1, face.BBox, s.Texture, s.Edge, s.Color, s.Frequency, s.Symmetry, face.Confidence, face.IsCheating)
	}
}
