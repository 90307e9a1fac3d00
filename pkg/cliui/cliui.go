// Package cliui styles recall's terminal output: the spinner shown while
// compress and maintain wait on the summarizer or the store, the colors of
// search listings and the markdown rendering of assembled context.
package cliui

import (
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	SuccessMark = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")

	StepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	KeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	ValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	DimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	HeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	RankStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

var spinnerFrames = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

const spinnerInterval = 80 * time.Millisecond

// spin redraws the spinner line until stop is closed, then closes done.
// It owns w until done is closed.
func spin(w io.Writer, msg string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		fmt.Fprintf(w, "\r  %s %s", spinnerStyle.Render(spinnerFrames[frame%len(spinnerFrames)]), msg)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Step shows a spinner next to msg while fn runs, e.g. one compression
// request, then rewrites the line with a ✓ or ✗ and the elapsed time.
func Step(w io.Writer, msg string, fn func() error) error {
	stop, done := make(chan struct{}), make(chan struct{})
	go spin(w, msg, stop, done)

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	close(stop)
	<-done

	fmt.Fprintf(w, "\r  %s %s %s\n", Mark(err), msg, StepStyle.Render("("+FormatDuration(elapsed)+")"))
	return err
}

// Mark is ✓ for a nil error and ✗ otherwise.
func Mark(err error) string {
	if err != nil {
		return FailMark
	}
	return SuccessMark
}

// FormatDuration prints sub-second durations in milliseconds ("12ms") and
// longer ones in tenths of a second ("3.2s").
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// blockLabel matches the "[TYPE] " prefix memory blocks start with.
var blockLabel = regexp.MustCompile(`(?m)^\[([A-Z_]+)\] `)

// RenderContext renders an assembled context for the terminal. Each
// memory's type label is set in bold so blocks stand apart. On failure the
// raw context is returned with the error.
func RenderContext(context string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return context, err
	}

	rendered, err := r.Render(blockLabel.ReplaceAllString(context, "**$1** "))
	if err != nil {
		return context, err
	}
	return rendered, nil
}
