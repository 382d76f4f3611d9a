package locator

import (
	"image"
	"os"
	"sort"

	pigo "github.com/esimov/pigo/core"
	"github.com/nvr-ai/go-cheatdetect/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// PigoOptions configures a PigoLocator.
type PigoOptions struct {
	// CascadePath is the pigo "facefinder" cascade file.
	CascadePath string
	MinSize     int
	MaxSize     int
	ShiftFactor float64
	ScaleFactor float64
	// ClusterIoU merges raw detections overlapping more than this.
	ClusterIoU float64
	// MinQuality drops clustered detections scoring below it.
	MinQuality float32
}

// DefaultPigoOptions returns parameters tuned for webcam-sized frames.
func DefaultPigoOptions() PigoOptions {
	return PigoOptions{
		CascadePath: "cascade/facefinder",
		MinSize:     40,
		MaxSize:     1000,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ClusterIoU:  0.2,
		MinQuality:  5.0,
	}
}

// PigoLocator finds faces with the pure Go pigo pixel-intensity cascade.
type PigoLocator struct {
	classifier *pigo.Pigo
	opts       PigoOptions
}

// NewPigoLocator reads and unpacks the cascade named by opts.CascadePath.
func NewPigoLocator(opts PigoOptions) (*PigoLocator, error) {
	data, err := os.ReadFile(opts.CascadePath)
	if err != nil {
		return nil, errors.Wrapf(common.ErrLocatorFailure, "read pigo cascade: %v", err)
	}
	return NewPigoLocatorFromBytes(data, opts)
}

// NewPigoLocatorFromBytes unpacks an in-memory cascade.
func NewPigoLocatorFromBytes(cascade []byte, opts PigoOptions) (*PigoLocator, error) {
	defaults := DefaultPigoOptions()
	if opts.MinSize <= 0 {
		opts.MinSize = defaults.MinSize
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = defaults.MaxSize
	}
	if opts.ShiftFactor <= 0 {
		opts.ShiftFactor = defaults.ShiftFactor
	}
	if opts.ScaleFactor <= 1 {
		opts.ScaleFactor = defaults.ScaleFactor
	}
	if opts.ClusterIoU <= 0 {
		opts.ClusterIoU = defaults.ClusterIoU
	}

	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, errors.Wrapf(common.ErrLocatorFailure, "unpack pigo cascade: %v", err)
	}
	return &PigoLocator{classifier: classifier, opts: opts}, nil
}

// Locate runs the cascade over the luma of img. Detections are returned
// strongest first.
func (p *PigoLocator) Locate(img gocv.Mat) ([]common.FaceRegion, error) {
	gray, err := grayFor(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	data, err := gray.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrapf(common.ErrLocatorFailure, "read gray pixels: %v", err)
	}
	pixels := make([]uint8, len(data))
	copy(pixels, data)

	params := pigo.CascadeParams{
		MinSize:     p.opts.MinSize,
		MaxSize:     p.opts.MaxSize,
		ShiftFactor: p.opts.ShiftFactor,
		ScaleFactor: p.opts.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   gray.Rows(),
			Cols:   gray.Cols(),
			Dim:    gray.Cols(),
		},
	}

	dets := p.classifier.RunCascade(params, 0.0)
	dets = p.classifier.ClusterDetections(dets, p.opts.ClusterIoU)

	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Q > dets[j].Q })

	rects := make([]image.Rectangle, 0, len(dets))
	for _, det := range dets {
		if det.Q < p.opts.MinQuality {
			continue
		}
		half := det.Scale / 2
		rects = append(rects, image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half))
	}

	return suppressOverlaps(clampRegions(rects, matBounds(img)), 0.5), nil
}

// Close is a no-op; the unpacked cascade is plain Go memory.
func (p *PigoLocator) Close() error {
	return nil
}

// suppressOverlaps drops regions overlapping an earlier, stronger region by
// more than iou.
func suppressOverlaps(regions []common.FaceRegion, iou float64) []common.FaceRegion {
	kept := make([]common.FaceRegion, 0, len(regions))
	for _, r := range regions {
		overlaps := false
		for _, k := range kept {
			if r.IoU(k) > iou {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, r)
		}
	}
	return kept
}
