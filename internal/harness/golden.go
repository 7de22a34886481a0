package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/stocksync/internal/coordinator"
	"github.com/roach88/stocksync/internal/op"
)

// TraceSnapshot is the golden-file form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string                   `json:"scenario_name"`
	Trace        []coordinator.TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot into values op.MarshalCanonical
// accepts. Empty event fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, e := range s.Trace {
		eventMap := map[string]any{
			"pass": e.Pass,
			"kind": e.Kind,
		}
		if e.OpID != "" {
			eventMap["op_id"] = e.OpID
		}
		if e.Attempt != 0 {
			eventMap["attempt"] = e.Attempt
		}
		if e.Error != "" {
			eventMap["error"] = e.Error
		}
		if e.Disposition != "" {
			eventMap["disposition"] = e.Disposition
		}
		traceList[i] = eventMap
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// Snapshot renders a result's trace as canonical JSON.
func Snapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: name, Trace: result.Trace}
	return op.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
