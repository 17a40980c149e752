package tui

import (
	"fmt"
	"io"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/muesli/termenv"
)

// PrintBanner writes the journey banner to w.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"     _                                  ", "#818cf8"},
		{"    | | ___  _   _ _ __ _ __   ___ _   _ ", "#a78bfa"},
		{" _  | |/ _ \\| | | | '__| '_ \\ / _ \\ | | |", "#c084fc"},
		{"| |_| | (_) | |_| | |  | | | |  __/ |_| |", "#e879f9"},
		{" \\___/ \\___/ \\__,_|_|  |_| |_|\\___|\\__, |", "#f472b6"},
		{"                                   |___/ ", "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}

// StatusLabel colors an execution status for a terminal prompt.
func StatusLabel(status domain.ExecutionStatus) string {
	p := termenv.ColorProfile()
	color := "#a1a1aa"
	switch status {
	case domain.StatusRunning:
		color = "#60a5fa"
	case domain.StatusAwaitingInput:
		color = "#facc15"
	case domain.StatusPaused:
		color = "#c084fc"
	case domain.StatusCompleted:
		color = "#4ade80"
	case domain.StatusFailed:
		color = "#f87171"
	}
	return termenv.String(string(status)).Foreground(p.Color(color)).Bold().String()
}
