package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	cyan   = color.New(color.Bold, color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.Bold, color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func disableColor() {
	color.NoColor = true
}

func printYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

const barWidth = 30

// progressPrinter draws a single-line progress bar and prints status lines
// above it.
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	percent float64
	drawn   bool
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) Status(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clear()
	fmt.Fprintf(p.w, "%s %s\n", faint("•"), message)
	p.draw()
}

func (p *progressPrinter) Progress(percent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent < p.percent {
		return
	}
	p.percent = percent
	p.draw()
}

// Done ends the bar line.
func (p *progressPrinter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
}

func (p *progressPrinter) clear() {
	if p.drawn {
		fmt.Fprintf(p.w, "\r%s\r", strings.Repeat(" ", barWidth+12))
	}
}

func (p *progressPrinter) draw() {
	fmt.Fprintf(p.w, "\r%s", renderBar(p.percent))
	p.drawn = true
}

func renderBar(percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * barWidth)
	return fmt.Sprintf("[%s%s] %5.1f%%",
		green(strings.Repeat("█", filled)), strings.Repeat("░", barWidth-filled), percent)
}
