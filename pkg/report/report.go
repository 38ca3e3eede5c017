// Package report renders run results for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ipublishingjp/selenium-ide/pkg/playback"
	"github.com/ipublishingjp/selenium-ide/pkg/runner"
)

// Result glyphs; they carry the outcome without relying on color.
const (
	GlyphPassed  = "✓"
	GlyphFailed  = "✗"
	GlyphStopped = "■"
	GlyphSkipped = "⏭"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
)

type styles struct {
	title, passed, failed, stopped, dim lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(colorCyan),
		passed:  r.NewStyle().Foreground(colorGreen).Bold(true),
		failed:  r.NewStyle().Foreground(colorRed).Bold(true),
		stopped: r.NewStyle().Foreground(colorYellow),
		dim:     r.NewStyle().Foreground(colorDim),
	}
}

// Write renders one line per result followed by a totals line. Colors are
// used only when w is a terminal.
func Write(w io.Writer, results []*runner.Result) error {
	st := newStyles(lipgloss.NewRenderer(w))

	width := 0
	for _, r := range results {
		if r != nil {
			width = max(width, runewidth.StringWidth(r.Test))
		}
	}

	var b strings.Builder
	passed, failed := 0, 0
	for _, r := range results {
		if r == nil {
			continue
		}
		glyph, style := GlyphFailed, st.failed
		switch {
		case r.Passed:
			glyph, style = GlyphPassed, st.passed
			passed++
		case r.State == playback.StateStopped || r.State == playback.StateAborted:
			glyph, style = GlyphStopped, st.stopped
			failed++
		default:
			failed++
		}
		name := runewidth.FillRight(r.Test, width)
		fmt.Fprintf(&b, "%s %s  %s  %s\n", style.Render(glyph), name, style.Render(string(r.State)), st.dim.Render(r.Duration))
		if detail := Detail(r); detail != "" {
			fmt.Fprintf(&b, "  %s\n", st.dim.Render(detail))
		}
	}

	totals := fmt.Sprintf("%d passed, %d failed", passed, failed)
	if failed == 0 {
		totals = st.passed.Render(totals)
	} else {
		totals = st.failed.Render(totals)
	}
	fmt.Fprintf(&b, "%s %s\n", st.title.Render("side-runner:"), totals)

	_, err := io.WriteString(w, b.String())
	return err
}

// Detail summarizes why a result failed. It is empty for passed results.
func Detail(r *runner.Result) string {
	if r.Passed {
		return ""
	}
	var parts []string
	if r.Failure != nil {
		parts = append(parts, fmt.Sprintf("at #%d %s: %s", r.Failure.Index, truncate(r.Failure.Command, 60), r.Failure.Message))
	} else if r.Error != "" {
		parts = append(parts, r.Error)
	}
	if n := len(r.Verifications); n > 0 && r.Failure == nil {
		parts = append(parts, fmt.Sprintf("%d verification(s) failed, first at #%d", n, r.Verifications[0].Index))
	}
	if r.Screenshot != "" {
		parts = append(parts, "screenshot "+r.Screenshot)
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
