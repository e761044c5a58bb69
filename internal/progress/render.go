package progress

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var spinnerFrames = []string{"⢿", "⣻", "⣽", "⣾", "⣷", "⣯", "⣟", "⡿"}

const barCells = 10

// Render produces the status message body. It is pure given its inputs;
// the spinner frame is derived from now. A negative fraction omits the bar.
func Render(now time.Time, stage string, fraction float64, rate, eta, elapsed string) string {
	spinner := spinnerFrames[int(now.UnixMilli()/100)%len(spinnerFrames)]

	var b strings.Builder
	fmt.Fprintf(&b, "`%s` *%s*\n\n", spinner, stage)
	if fraction >= 0 {
		if fraction > 1 {
			fraction = 1
		}
		filled := int(barCells * fraction)
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barCells-filled)
		fmt.Fprintf(&b, "`[%s] %.1f%%`\n", bar, fraction*100)
	}
	if rate != "" {
		fmt.Fprintf(&b, "`Speed:` %s\n", rate)
	}
	if eta != "" {
		fmt.Fprintf(&b, "`ETA:` %s\n", eta)
	}
	if elapsed != "" {
		fmt.Fprintf(&b, "`Time:` %s\n", elapsed)
	}
	return b.String()
}

// FormatBytes renders a byte count in log-1024 units.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	i := int(math.Log(float64(n)) / math.Log(1024))
	if i >= len(units) {
		i = len(units) - 1
	}
	v := float64(n) / math.Pow(1024, float64(i))
	return fmt.Sprintf("%.2f %s", v, units[i])
}

// FormatElapsed renders a duration as coarse h/m/s text.
func FormatElapsed(d time.Duration) string {
	s := int(d.Seconds())
	m, s := s/60, s%60
	h, m := m/60, m%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
