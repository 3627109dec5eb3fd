package observability

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}

// termMu synchronizes all terminal output so the cursor save/restore in
// Dashboard.Print is never interleaved with a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// termWriter is a mutex-guarded io.Writer for log output.
type termWriter struct {
	out io.Writer
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return tw.out.Write(p)
}

// NewTermWriter returns an io.Writer for log.SetOutput that serialises
// writes with Dashboard.Print.
func NewTermWriter() io.Writer {
	return termWriter{out: os.Stderr}
}

const banner = `
  _____         _    __  __           _
 |_   _|_ _ ___| | _|  \/  | ___  ___| |__
   | |/ _' / __| |/ / |\/| |/ _ \/ __| '_ \
   | | (_| \__ \   <| |  | |  __/\__ \ | | |
   |_|\__,_|___/_|\_\_|  |_|\___||___/_| |_|

      >> INTENTS IN, PLANS OUT <<
`

// PrintBanner clears the screen and prints the logo centered.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, "\033[2J\033[H")

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(w, "%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

// InitializeTerminal reserves lines 1-11 for the logo and status line and
// scrolls logs below them.
func InitializeTerminal() {
	fmt.Print("\033[12;r")
	fmt.Print("\033[12;1H")
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// Dashboard redraws the status line from a StatsSource.
type Dashboard struct {
	Source StatsSource
	frame  int
}

func NewDashboard(src StatsSource) *Dashboard {
	return &Dashboard{Source: src}
}

// Render builds the status line without terminal escapes.
func (d *Dashboard) Render() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memMB := float64(m.Alloc) / 1024 / 1024
	totalMB := float64(m.Sys) / 1024 / 1024

	st := d.Source.Stats()

	pulseIcon, pulseColor := "💤", colorReset
	radar := " "
	switch {
	case st.WaitingConfirmations > 0 && st.InFlightActions == 0:
		pulseIcon, pulseColor = "❓", colorPurple
	case st.RunningPlans > 0:
		pulseIcon, pulseColor = "⚙️", colorNeonMag
		radar = radarFrames[d.frame%len(radarFrames)]
		d.frame++
	case st.ActivePlans > 0:
		pulseIcon, pulseColor = "🛰️", colorNeonCyan
	}

	barWidth := 20
	memPercent := 0.0
	if totalMB > 0 {
		memPercent = memMB / totalMB
	}
	filled := clamp(int(memPercent*float64(barWidth)), 0, barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", barWidth-filled)

	return fmt.Sprintf("[%s] %s%s%s %s %s | [%s %.1fMB]",
		time.Now().Format("15:04:05"),
		pulseColor, pulseIcon, colorReset,
		StatusLine(st),
		radar,
		bar, memMB,
	)
}

// Print draws the status line on row 10 and restores the cursor.
func (d *Dashboard) Print() {
	line := d.Render()
	termMu.Lock()
	fmt.Print("\033[s\033[10;1H\033[K" + line + "\033[u")
	termMu.Unlock()
}
