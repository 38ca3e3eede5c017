// Package trace implements the append-only JSONL audit trail of a playback
// run. Every event carries the hash of the line before it, so a trace can be
// checked for tampering with Verify.
package trace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates the trace event types.
type EventType string

const (
	EventRunStart           EventType = "run_start"
	EventRunComplete        EventType = "run_complete"
	EventPlaybackState      EventType = "playback_state"
	EventCommandState       EventType = "command_state"
	EventVerificationFailed EventType = "verification_failed"
	EventScreenshot         EventType = "screenshot"
)

// Genesis is the prev_hash of the first event of a trace.
var Genesis = strings.Repeat("0", 64)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Failure describes why a command or run failed.
type Failure struct {
	Kind    string `json:"kind"` // assertion, element_not_found, timeout, script, flow, ...
	Message string `json:"message"`
}

// Writer writes trace events to an append-only JSONL stream.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	prevHash string
	count    int

	secrets    []string // literal values redacted from every string
	signingKey []byte
	keyID      string
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prevHash: Genesis}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// RunID returns the run the writer records.
func (tw *Writer) RunID() string { return tw.runID }

// SetSecrets configures values that are replaced by "<REDACTED>" wherever
// they appear in event data.
func (tw *Writer) SetSecrets(values []string) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.secrets = tw.secrets[:0]
	for _, v := range values {
		if v != "" {
			tw.secrets = append(tw.secrets, v)
		}
	}
}

// SetSigningKey makes run_complete carry an HMAC-SHA256 signature of the
// chain hash.
func (tw *Writer) SetSigningKey(keyID string, key []byte) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.keyID = keyID
	tw.signingKey = key
}

// RedactSecrets replaces secret values in a string with "<REDACTED>".
func (tw *Writer) RedactSecrets(s string) string {
	return Redact(s, tw.secrets)
}

// Redact replaces every non-empty secret in s with "<REDACTED>".
func Redact(s string, secrets []string) string {
	for _, val := range secrets {
		if val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	return s
}

func (tw *Writer) redact(v any) any {
	switch val := v.(type) {
	case string:
		return tw.RedactSecrets(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = tw.redact(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = tw.redact(x)
		}
		return out
	}
	return v
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.emitLocked(eventType, data)
}

func (tw *Writer) emitLocked(eventType EventType, data map[string]any) error {
	if len(tw.secrets) > 0 && data != nil {
		data = tw.redact(data).(map[string]any)
	}
	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	h := sha256.Sum256(line)
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write %s event: %w", eventType, err)
	}
	tw.prevHash = hex.EncodeToString(h[:])
	tw.count++
	return nil
}

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(project, test string, vars map[string]any) error {
	data := map[string]any{
		"project": project,
		"test":    test,
	}
	if len(vars) > 0 {
		data["variables"] = vars
	}
	return tw.Emit(EventRunStart, data)
}

// EmitPlaybackState emits a playback_state event.
func (tw *Writer) EmitPlaybackState(test, state string, err error) error {
	data := map[string]any{
		"test":  test,
		"state": state,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return tw.Emit(EventPlaybackState, data)
}

// CommandRecord is one command state transition.
type CommandRecord struct {
	Test    string
	Depth   int
	Index   int
	ID      string
	Command string
	Target  string
	Value   string
	State   string
	Message string
	Failure *Failure
}

// EmitCommandState emits a command_state event.
func (tw *Writer) EmitCommandState(rec CommandRecord) error {
	data := map[string]any{
		"test":    rec.Test,
		"index":   rec.Index,
		"command": rec.Command,
		"state":   rec.State,
	}
	if rec.Depth > 0 {
		data["depth"] = rec.Depth
	}
	if rec.ID != "" {
		data["command_id"] = rec.ID
	}
	if rec.Target != "" {
		data["target"] = rec.Target
	}
	if rec.Value != "" {
		data["value"] = rec.Value
	}
	if rec.Message != "" {
		data["message"] = rec.Message
	}
	if rec.Failure != nil {
		data["failure"] = map[string]any{
			"kind":    rec.Failure.Kind,
			"message": rec.Failure.Message,
		}
	}
	return tw.Emit(EventCommandState, data)
}

// EmitScreenshot emits a screenshot event pointing at the saved file.
func (tw *Writer) EmitScreenshot(test, path string) error {
	return tw.Emit(EventScreenshot, map[string]any{
		"test": test,
		"path": path,
	})
}

// EmitRunComplete emits the final run_complete event. It carries the hash of
// the chain so far and, with a signing key, its signature.
func (tw *Writer) EmitRunComplete(status string, duration time.Duration, failure *Failure) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data := map[string]any{
		"status":     status,
		"duration":   duration.String(),
		"events":     tw.count,
		"chain_hash": tw.prevHash,
	}
	if failure != nil {
		data["failure"] = map[string]any{
			"kind":    failure.Kind,
			"message": failure.Message,
		}
	}
	if len(tw.signingKey) > 0 {
		data["signature"] = sign(tw.signingKey, tw.prevHash)
		if tw.keyID != "" {
			data["signing_key_id"] = tw.keyID
		}
	}
	return tw.emitLocked(EventRunComplete, data)
}

// Close closes the underlying file, if the writer opened one.
func (tw *Writer) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.closer == nil {
		return nil
	}
	err := tw.closer.Close()
	tw.closer = nil
	return err
}

func sign(key []byte, chainHash string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(chainHash))
	return hex.EncodeToString(mac.Sum(nil))
}
