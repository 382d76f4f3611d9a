package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nvr-ai/go-cheatdetect/detector"
	"github.com/nvr-ai/go-cheatdetect/images"
	"github.com/nvr-ai/go-cheatdetect/internal/log"
	"github.com/nvr-ai/go-cheatdetect/util"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// Detector is the part of detector.Session the suite drives.
type Detector interface {
	Detect(img gocv.Mat) (*detector.Result, error)
}

// Suite manages and executes benchmark scenarios
type Suite struct {
	detector  Detector
	outputDir string
	corpus    []util.ImageFile

	mu        sync.RWMutex
	scenarios []Scenario
	results   []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - det: The detector to measure. Use a Session with its own State so the
//     benchmark does not move real counters.
//   - outputDir: Where SaveResults writes; empty disables writing.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(det Detector, outputDir string) *Suite {
	return &Suite{
		detector:  det,
		outputDir: outputDir,
		scenarios: make([]Scenario, 0),
		results:   make([]PerformanceMetrics, 0),
	}
}

// AddScenario adds a test scenario to the benchmark suite
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// SetCorpus replaces the images every scenario cycles through.
func (bs *Suite) SetCorpus(files []util.ImageFile) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.corpus = files
}

// LoadCorpus loads every image in dir as the corpus.
func (bs *Suite) LoadCorpus(dir string) error {
	files, err := util.LoadDirectoryImageFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no valid images found in directory: %s", dir)
	}
	bs.SetCorpus(files)
	return nil
}

// RunScenario executes a single benchmark scenario
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	bs.mu.RLock()
	corpus := bs.corpus
	bs.mu.RUnlock()

	if len(corpus) == 0 {
		return nil, errors.New("benchmark corpus is empty")
	}
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("scenario %s needs at least one iteration", scenario.Name)
	}

	metrics := &PerformanceMetrics{
		Scenario:  scenario,
		Timestamp: time.Now(),
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := bs.processImage(corpus[i%len(corpus)], scenario); err != nil {
			continue
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	latencies := make([]float64, 0, scenario.Iterations)
	failures := 0
	startTime := time.Now()

	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		run, err := bs.processImage(corpus[i%len(corpus)], scenario)
		if err != nil {
			failures++
			log.Debug("benchmark iteration failed", "scenario", scenario.Name, "path", corpus[i%len(corpus)].Path, "error", err)
			continue
		}

		metrics.DecodeDuration += run.decode
		metrics.DetectDuration += run.detect
		metrics.FacesDetected += run.faces
		if run.flagged {
			metrics.FlaggedImages++
		}
		latencies = append(latencies, float64(run.decode+run.detect))
	}

	metrics.TotalDuration = time.Since(startTime)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics.FramesPerSecond = float64(scenario.Iterations) / metrics.TotalDuration.Seconds()
	metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		metrics.LatencyP50 = time.Duration(stat.Quantile(0.5, stat.Empirical, latencies, nil))
		metrics.LatencyP95 = time.Duration(stat.Quantile(0.95, stat.Empirical, latencies, nil))
		metrics.LatencyMax = time.Duration(latencies[len(latencies)-1])
	}

	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
		HeapSysBytes:    endMem.HeapSys,
		NumCPU:          runtime.NumCPU(),
	}

	return metrics, nil
}

type iteration struct {
	decode, detect time.Duration
	faces          int
	flagged        bool
}

func (bs *Suite) processImage(file util.ImageFile, scenario Scenario) (iteration, error) {
	var it iteration

	decodeStart := time.Now()
	img, err := images.Decode(file.Data)
	if err != nil {
		return it, err
	}
	defer img.Close()

	if scenario.MaxSide > 0 && (img.Cols() > scenario.MaxSide || img.Rows() > scenario.MaxSide) {
		scaled := gocv.NewMat()
		defer scaled.Close()
		gocv.Resize(img, &scaled, fitWithin(img.Cols(), img.Rows(), scenario.MaxSide), 0, 0, gocv.InterpolationArea)
		img = scaled
	}
	it.decode = time.Since(decodeStart)

	detectStart := time.Now()
	result, err := bs.detector.Detect(img)
	if err != nil {
		return it, err
	}
	it.detect = time.Since(detectStart)
	it.faces = result.FacesDetected
	it.flagged = result.IsCheating

	return it, nil
}

// fitWithin scales w x h so the longest side is maxSide.
func fitWithin(w, h, maxSide int) image.Point {
	if w >= h {
		return image.Pt(maxSide, max(1, h*maxSide/w))
	}
	return image.Pt(max(1, w*maxSide/h), maxSide)
}

// RunAllScenarios executes all configured benchmark scenarios and saves the
// results.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	bs.mu.Lock()
	scenarios := make([]Scenario, len(bs.scenarios))
	copy(scenarios, bs.scenarios)
	bs.mu.Unlock()

	for _, scenario := range scenarios {
		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Warn("scenario failed", "scenario", scenario.Name, "error", err)
			continue
		}

		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()

		log.Info("scenario completed", "scenario", scenario.Name, "fps", metrics.FramesPerSecond, "p95", metrics.LatencyP95)
	}

	return bs.SaveResults()
}

// SaveResults persists benchmark results to filesystem
func (bs *Suite) SaveResults() error {
	if bs.outputDir == "" {
		return nil
	}
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return errors.Wrap(err, "write results file")
	}

	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))
	if err := saveSummaryCSV(summaryFile, results); err != nil {
		return errors.Wrap(err, "save summary CSV")
	}

	log.Info("benchmark results saved", "results", resultsFile, "summary", summaryFile)
	return nil
}

func saveSummaryCSV(filename string, results []PerformanceMetrics) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	_ = w.Write([]string{"Scenario", "Max_Side", "FPS", "P50_ms", "P95_ms", "Total_Duration_ms", "Alloc_MB", "Faces", "Flagged", "Error_Rate"})
	for _, r := range results {
		_ = w.Write([]string{
			r.Scenario.Name,
			strconv.Itoa(r.Scenario.MaxSide),
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			strconv.FormatFloat(ms(r.LatencyP50), 'f', 2, 64),
			strconv.FormatFloat(ms(r.LatencyP95), 'f', 2, 64),
			strconv.FormatFloat(ms(r.TotalDuration), 'f', 2, 64),
			strconv.FormatFloat(float64(r.MemoryStats.AllocBytes)/(1024*1024), 'f', 2, 64),
			strconv.Itoa(r.FacesDetected),
			strconv.Itoa(r.FlaggedImages),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		})
	}
	w.Flush()
	return w.Error()
}

func ms(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

// GetResults returns all benchmark results
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	results := make([]PerformanceMetrics, len(bs.results))
	copy(results, bs.results)
	return results
}
