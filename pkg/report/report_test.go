package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"

	"github.com/ipublishingjp/selenium-ide/pkg/playback"
	"github.com/ipublishingjp/selenium-ide/pkg/runner"
)

func TestWrite(t *testing.T) {
	results := []*runner.Result{
		{Test: "ログイン", State: playback.StateFinished, Passed: true, Duration: "1.2s"},
		{Test: "checkout", State: playback.StateErrored, Duration: "3s",
			Failure: &runner.FailureRecord{Index: 4, Command: "assertText|id=total|10", Message: "expected \"10\" but was \"9\""}},
		nil,
		{Test: "search", State: playback.StateAborted, Error: "playback aborted", Duration: "0s"},
	}
	var buf bytes.Buffer
	if err := Write(&buf, results); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 {
		t.Fatalf("lines = %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], GlyphPassed+" ログイン  ") {
		t.Errorf("line 0 = %q", lines[0])
	}
	// wide names are padded by display width
	if !strings.HasPrefix(lines[1], GlyphFailed+" checkout  errored") {
		t.Errorf("line 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "at #4 assertText|id=total|10") {
		t.Errorf("detail = %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], GlyphStopped+" search") {
		t.Errorf("line 3 = %q", lines[3])
	}
	if !strings.Contains(lines[5], "1 passed, 2 failed") {
		t.Errorf("totals = %q", lines[5])
	}
}

func TestDetail(t *testing.T) {
	r := &runner.Result{
		Verifications: []runner.FailureRecord{{Index: 2}, {Index: 5}},
		Screenshot:    "shots/v_1.png",
	}
	got := Detail(r)
	if got != "2 verification(s) failed, first at #2; screenshot shots/v_1.png" {
		t.Errorf("Detail = %q", got)
	}
	if Detail(&runner.Result{Passed: true, Screenshot: "x"}) != "" {
		t.Error("passed results have no detail")
	}
}

func TestTruncate(t *testing.T) {
	got := truncate("click|id=very-long-locator", 10)
	if runewidth.StringWidth(got) > 10 || !strings.HasSuffix(got, "…") {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}
