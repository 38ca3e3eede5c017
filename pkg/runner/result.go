package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ipublishingjp/selenium-ide/pkg/playback"
	sidetrace "github.com/ipublishingjp/selenium-ide/pkg/trace"
)

// Result is the outcome of one run, persisted as <output>/<run id>/result.json.
type Result struct {
	RunID         string          `json:"run_id"`
	Project       string          `json:"project"`
	Test          string          `json:"test"`
	State         playback.State  `json:"state"`
	Passed        bool            `json:"passed"`
	Error         string          `json:"error,omitempty"`
	Failure       *FailureRecord  `json:"failure,omitempty"`
	Verifications []FailureRecord `json:"verifications,omitempty"`
	LastCommand   string          `json:"last_command,omitempty"`
	Screenshot    string          `json:"screenshot,omitempty"`
	TracePath     string          `json:"trace_path,omitempty"`
	Vars          map[string]any  `json:"vars,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       time.Time       `json:"ended_at"`
	Duration      string          `json:"duration"`
}

// FailureRecord is a playback failure in serializable form.
type FailureRecord struct {
	Test    string `json:"test"`
	Index   int    `json:"index"`
	Command string `json:"command"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func failureRecord(f *playback.Failure) FailureRecord {
	c := sidetrace.Classify(f.Err)
	return FailureRecord{
		Test:    f.Test,
		Index:   f.Index,
		Command: f.Command.String(),
		Kind:    c.Kind,
		Message: f.Err.Error(),
	}
}

// SaveResult persists the result to a JSON file under dir.
func SaveResult(dir string, res *Result) error {
	runDir := filepath.Join(dir, res.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "result.json"), data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// LoadResult reads a persisted result from disk.
func LoadResult(dir, runID string) (*Result, error) {
	data, err := os.ReadFile(filepath.Join(dir, runID, "result.json"))
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

func redactVars(vars map[string]any, secrets []string) map[string]any {
	if len(secrets) == 0 {
		return vars
	}
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		if s, ok := v.(string); ok {
			v = sidetrace.Redact(s, secrets)
		}
		out[k] = v
	}
	return out
}
