package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BadgerOps/packsync/internal/engine"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

var (
	colorCyan   = lipgloss.Color("36")
	colorGreen  = lipgloss.Color("35")
	colorYellow = lipgloss.Color("220")
	colorRed    = lipgloss.Color("167")
	colorGray   = lipgloss.Color("245")
	colorDim    = lipgloss.Color("240")
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleKey     = lipgloss.NewStyle().Foreground(colorGray).Width(18)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleError   = lipgloss.NewStyle().Foreground(colorRed)
)

func printTitle(title string) {
	fmt.Println(styleTitle.Render(title))
}

func printKeyValue(key string, value any) {
	fmt.Println("  " + styleKey.Render(key) + " " + fmt.Sprint(value))
}

func printSuccess(format string, args ...any) {
	fmt.Println(styleSuccess.Render("✓") + " " + fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	fmt.Println(styleWarning.Render("!") + " " + styleWarning.Render(fmt.Sprintf(format, args...)))
}

func printFailure(path string, err error) {
	fmt.Println("  " + styleError.Render("✗") + " " + path + " " + styleDim.Render(err.Error()))
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// watchProgress redraws a one-line status on stderr until ctx ends. It does
// nothing when stderr is not a terminal.
func watchProgress(ctx context.Context, m *engine.Manager) {
	if quiet || !term.IsTerminal(int(os.Stderr.Fd())) {
		return
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(os.Stderr, "\r\033[K")
			return
		case <-ticker.C:
		}

		tracker := m.ActiveProgress()
		if tracker == nil {
			continue
		}
		p := tracker.Snapshot()
		line := fmt.Sprintf("%s %s %d/%d", p.Operation, p.Phase, p.DoneFiles+p.FailedFiles, p.TotalFiles)
		if p.TotalBytes > 0 {
			line += fmt.Sprintf(" %s/%s", formatBytes(p.Bytes), formatBytes(p.TotalBytes))
		}
		if p.BytesPerSecond > 0 {
			line += fmt.Sprintf(" %s/s", formatBytes(p.BytesPerSecond))
		}
		if p.ETA != "" {
			line += " eta " + p.ETA
		}
		fmt.Fprint(os.Stderr, "\r\033[K"+styleDim.Render(line))
	}
}

// startProgress runs watchProgress in the background and returns a function
// that stops it and waits for the line to be cleared.
func startProgress(ctx context.Context, m *engine.Manager) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchProgress(ctx, m)
	}()
	return func() {
		cancel()
		<-done
	}
}
