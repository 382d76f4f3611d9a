package benchmark

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// Scenario describes one benchmark run over the loaded corpus.
type Scenario struct {
	Name string `json:"name" yaml:"name"`
	// MaxSide downsizes images whose longest side exceeds it before
	// detection; 0 keeps the original resolution.
	MaxSide    int `json:"max_side"    yaml:"max_side"`
	Iterations int `json:"iterations"  yaml:"iterations"`
	WarmupRuns int `json:"warmup_runs" yaml:"warmup_runs"`
}

// ScenarioBuilder helps build test scenarios with fluent API
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a new scenario builder
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:       name,
			Iterations: 100,
			WarmupRuns: 10,
		},
	}
}

// WithMaxSide sets the longest image side fed to the detector.
func (sb *ScenarioBuilder) WithMaxSide(maxSide int) *ScenarioBuilder {
	sb.scenario.MaxSide = maxSide
	return sb
}

// WithIterations sets the number of test iterations
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of warmup runs
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// Build returns the configured scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// ResolutionScenarios returns one scenario per max side, named after it.
//
// Arguments:
//   - iterations: Measured detections per scenario.
//   - warmups: Unmeasured detections run first.
//   - maxSides: Longest sides to compare; 0 means native resolution.
//
// Returns:
//   - The scenarios in the order given.
func ResolutionScenarios(iterations, warmups int, maxSides ...int) []Scenario {
	scenarios := make([]Scenario, 0, len(maxSides))
	for _, side := range maxSides {
		name := "native"
		if side > 0 {
			name = fmt.Sprintf("max_%dpx", side)
		}
		scenarios = append(scenarios, NewScenarioBuilder(name).
			WithMaxSide(side).
			WithIterations(iterations).
			WithWarmupRuns(warmups).
			Build())
	}
	return scenarios
}

// SaveScenarios saves scenarios to a JSON file.
func SaveScenarios(scenarios []Scenario, filename string) error {
	data, err := json.MarshalIndent(scenarios, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal scenarios")
	}
	return errors.Wrap(os.WriteFile(filename, data, 0o644), "write scenarios")
}

// LoadScenarios loads scenarios from a JSON file.
func LoadScenarios(filename string) ([]Scenario, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read scenarios")
	}
	var scenarios []Scenario
	if err := json.Unmarshal(data, &scenarios); err != nil {
		return nil, errors.Wrap(err, "unmarshal scenarios")
	}
	return scenarios, nil
}
