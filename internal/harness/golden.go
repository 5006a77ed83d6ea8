package harness

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"golang.org/x/text/unicode/norm"
)

// TraceSnapshot is the serialized form of a scenario's engine call log.
// All strings are NFC-normalized so golden comparison is independent of the
// Unicode encoding the scenario file happened to use.
type TraceSnapshot struct {
	ScenarioName string `json:"scenario_name"`
	Trace        []Call `json:"trace"`
}

// RunWithGolden executes a scenario and compares the call log against a
// golden file in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s failed: %v", scenario.Name, err)
	}

	data, err := marshalSnapshot(TraceSnapshot{
		ScenarioName: scenario.Name,
		Trace:        result.Calls,
	})
	if err != nil {
		t.Fatalf("marshal trace for %s: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result
}

// marshalSnapshot produces deterministic, HTML-escape-free JSON.
func marshalSnapshot(snap TraceSnapshot) ([]byte, error) {
	snap.ScenarioName = norm.NFC.String(snap.ScenarioName)
	for i := range snap.Trace {
		snap.Trace[i].Handle = norm.NFC.String(snap.Trace[i].Handle)
		snap.Trace[i].Query = norm.NFC.String(snap.Trace[i].Query)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
